// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ffutop/mbus-gateway/mbus"
)

// FileStorage keeps the slot table in memory and writes the changed slot
// back with an fsync on every Save.
type FileStorage struct {
	mu   sync.Mutex
	file *os.File
	data table
}

// OpenFileStorage opens or creates the file at path, sized for slots meters.
func OpenFileStorage(path string, slots int) (*FileStorage, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	f, err := openSized(path, tableSize(slots))
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &FileStorage{file: f, data: table(data)}, nil
}

// openSized opens path, creating it if necessary, and resizes it to size.
func openSized(path string, size int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}
	return f, nil
}

func (fs *FileStorage) Load(address mbus.Address) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.load(address), nil
}

func (fs *FileStorage) Save(address mbus.Address, telegram []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return os.ErrClosed
	}
	i, err := fs.data.store(address, telegram)
	if err != nil {
		return err
	}
	if _, err := fs.file.WriteAt(fs.data.slot(i), int64(i*slotSize)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
