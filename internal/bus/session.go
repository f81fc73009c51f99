// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bus runs the M-Bus request/response cycle for meters sharing one
// half-duplex line.
package bus

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/ffutop/mbus-gateway/transport"
	"go.uber.org/atomic"
)

const DefaultRetries = 3

// State is the position of a session in its poll cycle.
type State uint32

const (
	Idle State = iota
	AwaitLock
	BusResetPre
	BusReset
	BusReset2
	AwaitSelectAck
	AwaitSelectAck2
	AwaitHeader
	AwaitData
	RetryWait
	Retry
)

var stateNames = [...]string{
	Idle:            "IDLE",
	AwaitLock:       "AWAIT_LOCK",
	BusResetPre:     "BUS_RESET_PRE",
	BusReset:        "BUS_RESET",
	BusReset2:       "BUS_RESET_2",
	AwaitSelectAck:  "AWAIT_SELECT_ACK",
	AwaitSelectAck2: "AWAIT_SELECT_ACK_2",
	AwaitHeader:     "AWAIT_HEADER",
	AwaitData:       "AWAIT_DATA",
	RetryWait:       "RETRY_WAIT",
	Retry:           "RETRY",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// CycleResult describes how the last poll cycle ended.
type CycleResult struct {
	// Seq is the sequence number after the cycle; unchanged on failure.
	Seq uint32
	// Err is nil on success, otherwise the error of the final attempt.
	Err      error
	Attempts int
	At       time.Time
}

// Config describes one meter on the bus.
type Config struct {
	Name    string
	Address mbus.Address
	// Retries is the number of attempts per poll cycle.
	Retries  int
	Timeouts Timeouts
	// OnCycle, if set, is called from Step at the end of every poll cycle.
	OnCycle func(CycleResult)
}

// Session polls one meter. Step is driven by a single scheduler goroutine;
// RequestPoll, Sequence, Snapshot, State and LastResult are safe to call from
// anywhere.
type Session struct {
	cfg   Config
	port  transport.Port
	lock  *Lock
	owner uint64
	log   *slog.Logger

	state    atomic.Uint32
	pending  atomic.Bool
	holding  bool
	budget   int
	attempts int
	deadline time.Time
	expected int
	lastErr  error
	rx       frameBuffer

	seq      atomic.Uint32
	mu       sync.RWMutex
	telegram []byte
	result   CycleResult
}

// NewSession creates an idle session talking through port and arbitrating
// with the other sessions of the bus through lock.
func NewSession(cfg Config, port transport.Port, lock *Lock) *Session {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = TimeoutsFor(port.BaudRate())
	}
	s := &Session{
		cfg:   cfg,
		port:  port,
		lock:  lock,
		owner: nextOwner(),
	}
	s.log = slog.Default().With("meter", cfg.Name, "address", cfg.Address.String())
	s.log.Info("Meter configured",
		"retries", cfg.Retries,
		"short_timeout", cfg.Timeouts.Short,
		"long_timeout", cfg.Timeouts.Long,
	)
	return s
}

func (s *Session) Name() string {
	return s.cfg.Name
}

func (s *Session) Address() mbus.Address {
	return s.cfg.Address
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(uint32(next)))
	if prev != next {
		s.log.Debug("State transition", "from", prev.String(), "to", next.String())
	}
}

// RequestPoll asks for a new poll cycle. It returns false if one is already
// pending or running.
func (s *Session) RequestPoll() bool {
	if s.State() != Idle {
		return false
	}
	return s.pending.CompareAndSwap(false, true)
}

// Sequence increases by one for every validated telegram.
func (s *Session) Sequence() uint32 {
	return s.seq.Load()
}

// Snapshot returns a copy of the last validated telegram and its sequence
// number. The telegram is nil before the first successful poll.
func (s *Session) Snapshot() ([]byte, uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.telegram == nil {
		return nil, s.seq.Load()
	}
	return append([]byte(nil), s.telegram...), s.seq.Load()
}

// LastResult returns the outcome of the most recent poll cycle.
func (s *Session) LastResult() CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Restore seeds the telegram buffer with a previously stored telegram. It
// only applies before the first poll has produced one.
func (s *Session) Restore(telegram []byte) error {
	if err := mbus.VerifyLongFrame(telegram); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.telegram != nil {
		return nil
	}
	s.telegram = append([]byte(nil), telegram...)
	s.seq.Store(1)
	return nil
}

// Step advances the state machine once. It never blocks: waits are states
// that are re-evaluated on the next call.
func (s *Session) Step(now time.Time) {
	switch state := s.State(); state {
	case Idle:
		if s.pending.Load() {
			s.setState(AwaitLock)
		}

	case AwaitLock:
		if !s.lock.TryAcquire(s.owner) {
			return
		}
		s.holding = true
		s.pending.Store(false)
		s.budget = s.cfg.Retries
		s.attempts = 0
		s.lastErr = nil
		s.setState(BusResetPre)

	case BusResetPre:
		s.attempts++
		if s.send(mbus.ResetFrame.Bytes()) {
			s.startTimer(now, s.cfg.Timeouts.Short)
			s.setState(BusReset)
		}

	case BusReset:
		if !s.expired(now) {
			return
		}
		if s.send(mbus.ResetFrame.Bytes()) {
			s.startTimer(now, s.cfg.Timeouts.Short)
			s.setState(BusReset2)
		}

	case BusReset2:
		if !s.expired(now) {
			return
		}
		if n := s.port.Discard(); n > 0 {
			s.log.Debug("Discarded bytes after reset", "count", n)
		}
		if s.send(mbus.SelectFrame(s.cfg.Address)) {
			s.startTimer(now, s.cfg.Timeouts.Short)
			s.setState(AwaitSelectAck)
		}

	case AwaitSelectAck:
		if s.port.Available() > 0 {
			b := s.port.Read(1)
			if len(b) == 1 && b[0] == mbus.Ack {
				s.log.Debug("Select acknowledged")
				s.startTimer(now, s.cfg.Timeouts.Short)
				s.setState(AwaitSelectAck2)
				return
			}
			s.fail(Retry, &mbus.Error{Kind: mbus.KindCollision, Detail: "expected ACK, got " + hex.EncodeToString(b)})
			return
		}
		if s.expired(now) {
			s.fail(Retry, &mbus.Error{Kind: mbus.KindTimeout, Detail: "no ACK to select"})
		}

	case AwaitSelectAck2:
		if n := s.port.Available(); n > 0 {
			s.fail(Retry, &mbus.Error{Kind: mbus.KindCollision, Detail: fmt.Sprintf("%d bytes after ACK", n)})
			return
		}
		if !s.expired(now) {
			return
		}
		s.rx.Reset()
		if s.send(mbus.RequestFrame.Bytes()) {
			s.startTimer(now, s.cfg.Timeouts.Long)
			s.setState(AwaitHeader)
		}

	case AwaitHeader:
		if s.expired(now) {
			s.fail(Retry, &mbus.Error{Kind: mbus.KindTimeout, Detail: "no response header"})
			return
		}
		if s.port.Available() < mbus.HeaderSize {
			return
		}
		header := s.port.Read(mbus.HeaderSize)
		if err := s.rx.Append(header); err != nil {
			s.fail(RetryWait, err)
			return
		}
		size, err := mbus.ParseHeader(header)
		if err != nil {
			s.fail(RetryWait, err)
			return
		}
		s.expected = size
		s.setState(AwaitData)

	case AwaitData:
		if s.expired(now) {
			s.fail(Retry, &mbus.Error{
				Kind:   mbus.KindTimeout,
				Detail: fmt.Sprintf("have %d of %d bytes", s.rx.Len()+s.port.Available(), s.expected),
			})
			return
		}
		remaining := s.expected - s.rx.Len()
		if s.port.Available() < remaining {
			return
		}
		if err := s.rx.Append(s.port.Read(remaining)); err != nil {
			s.fail(RetryWait, err)
			return
		}
		frame := s.rx.Bytes()
		s.log.Debug("Telegram received", "frame", hex.EncodeToString(frame))
		if err := mbus.VerifyLongFrame(frame); err != nil {
			s.fail(RetryWait, err)
			return
		}
		s.complete(now, frame)

	case RetryWait:
		if s.expired(now) {
			s.setState(Retry)
		}

	case Retry:
		s.budget--
		if s.budget > 0 {
			s.log.Debug("Retrying", "remaining", s.budget, "last_err", s.lastErr)
			s.setState(BusResetPre)
			return
		}
		s.log.Error("Poll failed, retries exhausted", "attempts", s.attempts, "err", s.lastErr)
		s.release()
		s.finish(now, s.lastErr)
		s.setState(Idle)

	default:
		err := &mbus.Error{Kind: mbus.KindUnknownState, Detail: state.String()}
		s.log.Error("Unknown state, resetting", "err", err)
		s.release()
		s.finish(now, err)
		s.setState(Idle)
	}
}

// send writes frame to the bus. A failed write ends the attempt.
func (s *Session) send(frame []byte) bool {
	s.log.Debug("Sending", "frame", hex.EncodeToString(frame))
	if _, err := s.port.Write(frame); err != nil {
		s.fail(Retry, &mbus.Error{Kind: mbus.KindTransport, Err: err})
		return false
	}
	return true
}

func (s *Session) fail(next State, err error) {
	s.log.Error("Poll attempt failed", "state", s.State().String(), "attempt", s.attempts, "err", err)
	s.lastErr = err
	s.setState(next)
}

func (s *Session) startTimer(now time.Time, d time.Duration) {
	s.deadline = now.Add(d)
}

func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.deadline)
}

func (s *Session) release() {
	if !s.holding {
		return
	}
	s.holding = false
	s.lock.Release(s.owner)
}

func (s *Session) complete(now time.Time, frame []byte) {
	s.mu.Lock()
	s.telegram = append(s.telegram[:0], frame...)
	seq := s.seq.Inc()
	s.mu.Unlock()

	s.release()
	s.log.Debug("Telegram accepted", "seq", seq, "attempts", s.attempts)
	s.finish(now, nil)
	s.setState(Idle)
}

func (s *Session) finish(now time.Time, err error) {
	res := CycleResult{Seq: s.seq.Load(), Err: err, Attempts: s.attempts, At: now}
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	if s.cfg.OnCycle != nil {
		s.cfg.OnCycle(res)
	}
}
