// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/mbus-gateway/mbus"
)

// MmapStorage maps the slot table into memory and flushes it on every Save.
type MmapStorage struct {
	mu   sync.Mutex
	file *os.File
	data mmap.MMap
}

// OpenMmapStorage opens or creates the file at path, sized for slots meters,
// and maps it.
func OpenMmapStorage(path string, slots int) (*MmapStorage, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	f, err := openSized(path, tableSize(slots))
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return &MmapStorage{file: f, data: data}, nil
}

func (ms *MmapStorage) Load(address mbus.Address) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.data == nil {
		return nil, fmt.Errorf("mmap data is nil")
	}
	return table(ms.data).load(address), nil
}

func (ms *MmapStorage) Save(address mbus.Address, telegram []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	if _, err := table(ms.data).store(address, telegram); err != nil {
		return err
	}
	return ms.data.Flush()
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
