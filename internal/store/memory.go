// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"sync"

	"github.com/ffutop/mbus-gateway/mbus"
)

// MemoryStorage keeps telegrams for the lifetime of the process only.
type MemoryStorage struct {
	mu        sync.RWMutex
	telegrams map[mbus.Address][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{telegrams: make(map[mbus.Address][]byte)}
}

func (ms *MemoryStorage) Load(address mbus.Address) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	t, ok := ms.telegrams[address]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), t...), nil
}

func (ms *MemoryStorage) Save(address mbus.Address, telegram []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.telegrams[address] = append([]byte(nil), telegram...)
	return nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}
