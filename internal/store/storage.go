// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store keeps the last valid telegram of every meter across
// restarts.
package store

import (
	"errors"
	"fmt"

	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/ffutop/mbus-gateway/mbus"
)

// ErrFull is returned when a new meter does not fit in the slot table.
var ErrFull = errors.New("store: no free slot")

// Storage defines the interface for persisting telegrams by meter.
type Storage interface {
	// Load returns the telegram stored for address, or nil if there is none.
	Load(address mbus.Address) ([]byte, error)

	// Save replaces the telegram stored for address.
	Save(address mbus.Address, telegram []byte) error

	Close() error
}

// Open creates the storage described by cfg.
func Open(cfg config.StoreConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		s, err := OpenFileStorage(cfg.Path, cfg.Slots)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mmap":
		s, err := OpenMmapStorage(cfg.Path, cfg.Slots)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("store: unknown type %q", cfg.Type)
}
