// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import (
	"log/slog"

	"go.uber.org/atomic"
)

// Lock is the exclusion token for one physical bus. Every session on the
// bus holds a reference; only the owner may write to or read from the shared
// transport. There is no queue: whoever asks first after a release wins.
type Lock struct {
	owner atomic.Uint64
}

func NewLock() *Lock {
	return &Lock{}
}

var lastOwner atomic.Uint64

// nextOwner hands out non-zero owner ids.
func nextOwner() uint64 {
	return lastOwner.Inc()
}

// TryAcquire takes the lock for owner if it is free.
func (l *Lock) TryAcquire(owner uint64) bool {
	if owner == 0 {
		return false
	}
	return l.owner.CompareAndSwap(0, owner)
}

// Release frees the lock. Releasing a lock held by someone else is a bug in
// the caller and leaves the lock untouched.
func (l *Lock) Release(owner uint64) bool {
	if l.owner.CompareAndSwap(owner, 0) {
		return true
	}
	slog.Error("Bus lock released by non-owner", "owner", l.owner.Load(), "caller", owner)
	return false
}

// Owner returns the id holding the lock, 0 when free.
func (l *Lock) Owner() uint64 {
	return l.owner.Load()
}
