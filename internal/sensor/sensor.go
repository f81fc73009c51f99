// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sensor turns validated telegrams into published values.
package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/ffutop/mbus-gateway/mbus/record"
)

// Source is the session a sensor reads from.
type Source interface {
	Name() string
	Address() mbus.Address
	Sequence() uint32
	Snapshot() ([]byte, uint32)
}

// Reading is one decoded value.
type Reading struct {
	Meter   string
	Sensor  string
	Address mbus.Address
	Value   float64
	Seq     uint32
	At      time.Time
}

// Sink receives the outcome of every decode.
type Sink interface {
	Publish(r Reading)
	// Fail reports a telegram that did not yield a value. r carries
	// everything but Value.
	Fail(r Reading, err error)
}

type Config struct {
	Name       string
	Descriptor record.Descriptor
}

// Sensor decodes one data record from each new telegram of its meter.
type Sensor struct {
	cfg     Config
	source  Source
	sink    Sink
	decoder record.Decoder
	lastSeq uint32
	now     func() time.Time
}

func New(cfg Config, source Source, sink Sink) *Sensor {
	log := slog.Default().With("meter", source.Name())
	s := &Sensor{
		cfg:    cfg,
		source: source,
		sink:   sink,
		decoder: record.Decoder{
			Descriptor: cfg.Descriptor,
			Name:       cfg.Name,
			Logger:     log,
		},
		now: time.Now,
	}
	log.Info("Sensor configured",
		"sensor", cfg.Name,
		"storage", cfg.Descriptor.Storage,
		"function", cfg.Descriptor.Function.String(),
		"tariff", cfg.Descriptor.Tariff,
		"subunit", cfg.Descriptor.Subunit,
		"vif", fmt.Sprintf("0x%X", cfg.Descriptor.VIF),
	)
	return s
}

func (s *Sensor) Name() string {
	return s.cfg.Name
}

// Check decodes the meter's telegram if a new one arrived since the last
// call.
func (s *Sensor) Check() {
	if s.source.Sequence() == s.lastSeq {
		return
	}
	telegram, seq := s.source.Snapshot()
	s.lastSeq = seq
	if telegram == nil {
		return
	}

	r := Reading{
		Meter:   s.source.Name(),
		Sensor:  s.cfg.Name,
		Address: s.source.Address(),
		Seq:     seq,
		At:      s.now(),
	}
	v, err := s.decoder.Decode(telegram)
	if err != nil {
		s.sink.Fail(r, err)
		return
	}
	r.Value = v.Value
	s.sink.Publish(r)
}
