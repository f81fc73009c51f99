// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package poller drives every session of one bus from a single goroutine.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Session is the part of bus.Session the poller drives.
type Session interface {
	Name() string
	Step(now time.Time)
	RequestPoll() bool
}

// Observer is checked after every tick, e.g. a sensor watching a session's
// sequence counter.
type Observer interface {
	Check()
}

// Meter is a session with its poll interval.
type Meter struct {
	Session  Session
	Interval time.Duration
}

type entry struct {
	Meter
	next time.Time
}

// Poller is a clock-driven cooperative scheduler. Sessions never block, so
// one goroutine steps all of them.
type Poller struct {
	tick      time.Duration
	entries   []*entry
	observers []Observer
	start     int
}

// New creates a poller stepping meters every tick. Each meter is polled on
// the first tick and then once per interval.
func New(meters []Meter, tick time.Duration) (*Poller, error) {
	if tick <= 0 {
		return nil, errors.New("poller: tick must be > 0")
	}
	p := &Poller{tick: tick}
	for _, m := range meters {
		if m.Interval <= 0 {
			return nil, errors.New("poller: interval must be > 0")
		}
		p.entries = append(p.entries, &entry{Meter: m})
	}
	return p, nil
}

// AddObserver registers o to be checked after every tick.
func (p *Poller) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Tick(now)
		}
	}
}

// Tick requests the polls that are due, steps every session once and checks
// the observers. The session stepped first rotates from tick to tick, so
// no meter always comes last when the bus lock frees up.
func (p *Poller) Tick(now time.Time) {
	n := len(p.entries)
	for i := 0; i < n; i++ {
		e := p.entries[(p.start+i)%n]
		if now.Before(e.next) {
			continue
		}
		e.next = now.Add(e.Interval)
		if !e.Session.RequestPoll() {
			slog.Debug("Poll skipped, previous poll still running", "meter", e.Session.Name())
		}
	}
	for i := 0; i < n; i++ {
		p.entries[(p.start+i)%n].Session.Step(now)
	}
	if n > 0 {
		p.start = (p.start + 1) % n
	}

	for _, o := range p.observers {
		o.Check()
	}
}
