// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package poller

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/atomic"
)

type fakeSession struct {
	name     string
	log      *[]string
	polls    int
	steps    atomic.Int32
	busy     bool
	lastStep time.Time
}

func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) Step(now time.Time) {
	f.steps.Inc()
	f.lastStep = now
	if f.log != nil {
		*f.log = append(*f.log, f.name)
	}
}

func (f *fakeSession) RequestPoll() bool {
	if f.busy {
		return false
	}
	f.polls++
	return true
}

type countingObserver struct{ n int }

func (o *countingObserver) Check() { o.n++ }

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, 0); err == nil {
		t.Error("New() with zero tick succeeded")
	}
	if _, err := New([]Meter{{Session: &fakeSession{}, Interval: 0}}, time.Millisecond); err == nil {
		t.Error("New() with zero interval succeeded")
	}
}

func TestTick_PollsOnInterval(t *testing.T) {
	s := &fakeSession{name: "a"}
	p, err := New([]Meter{{Session: s, Interval: time.Minute}}, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	obs := &countingObserver{}
	p.AddObserver(obs)

	start := time.Unix(1000, 0)
	for now := start; now.Before(start.Add(150 * time.Second)); now = now.Add(time.Second) {
		p.Tick(now)
	}

	// t=0, 60s and 120s.
	if s.polls != 3 {
		t.Errorf("polls = %d, want 3", s.polls)
	}
	if s.steps.Load() != 150 || obs.n != 150 {
		t.Errorf("steps = %d, checks = %d, want 150", s.steps.Load(), obs.n)
	}
}

func TestTick_BusySessionNotRequeued(t *testing.T) {
	s := &fakeSession{name: "a", busy: true}
	p, _ := New([]Meter{{Session: s, Interval: time.Second}}, time.Millisecond)

	now := time.Unix(0, 0)
	p.Tick(now)
	p.Tick(now.Add(time.Second))
	if s.polls != 0 {
		t.Errorf("polls = %d while busy", s.polls)
	}
	s.busy = false
	p.Tick(now.Add(2 * time.Second))
	if s.polls != 1 {
		t.Errorf("polls = %d, want 1", s.polls)
	}
}

func TestTick_RotatesStepOrder(t *testing.T) {
	var order []string
	meters := []Meter{
		{Session: &fakeSession{name: "a", log: &order}, Interval: time.Hour},
		{Session: &fakeSession{name: "b", log: &order}, Interval: time.Hour},
		{Session: &fakeSession{name: "c", log: &order}, Interval: time.Hour},
	}
	p, _ := New(meters, time.Millisecond)

	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		p.Tick(now)
	}
	want := []string{"a", "b", "c", "b", "c", "a", "c", "a", "b"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("step order (-want +got):\n%s", diff)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := &fakeSession{name: "a"}
	p, _ := New([]Meter{{Session: s, Interval: time.Hour}}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.steps.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Run() did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
