// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"log/slog"

	"github.com/ffutop/mbus-gateway/mbus"
)

// Source is a session whose telegrams are recorded.
type Source interface {
	Address() mbus.Address
	Sequence() uint32
	Snapshot() ([]byte, uint32)
	Restore(telegram []byte) error
}

// Recorder saves every new telegram of one session.
type Recorder struct {
	storage Storage
	source  Source
	lastSeq uint32
}

// NewRecorder seeds source with the stored telegram, if any, and returns a
// recorder saving the ones that follow.
func NewRecorder(storage Storage, source Source) *Recorder {
	r := &Recorder{storage: storage, source: source}
	addr := source.Address().String()

	telegram, err := storage.Load(source.Address())
	switch {
	case err != nil:
		slog.Warn("Failed to load stored telegram", "address", addr, "err", err)
	case telegram != nil:
		if err := source.Restore(telegram); err != nil {
			slog.Warn("Stored telegram rejected", "address", addr, "err", err)
		} else {
			slog.Info("Restored telegram from store", "address", addr, "size", len(telegram))
		}
	}
	r.lastSeq = source.Sequence()
	return r
}

// Check saves the session's telegram if it changed since the last call.
func (r *Recorder) Check() {
	if r.source.Sequence() == r.lastSeq {
		return
	}
	telegram, seq := r.source.Snapshot()
	r.lastSeq = seq
	if telegram == nil {
		return
	}
	if err := r.storage.Save(r.source.Address(), telegram); err != nil {
		slog.Error("Failed to store telegram", "address", r.source.Address().String(), "err", err)
	}
}
