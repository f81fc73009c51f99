// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/mbus-gateway/mbus"
)

// On-disk layout shared by the file and mmap backends: a flat array of
// fixed-size slots, one per meter.
//
//	offset 0   flag (1 = used)
//	offset 1   secondary address, 8 bytes big-endian
//	offset 9   telegram length, 2 bytes big-endian
//	offset 11  telegram, up to 261 bytes
const (
	slotFlag     = 0
	slotAddress  = 1
	slotLength   = 9
	slotTelegram = 11
	slotSize     = slotTelegram + mbus.MaxFrameSize

	DefaultSlots = 64
)

// table addresses the slots inside data.
type table []byte

func tableSize(slots int) int {
	return slots * slotSize
}

func (t table) slots() int {
	return len(t) / slotSize
}

func (t table) slot(i int) []byte {
	return t[i*slotSize : (i+1)*slotSize]
}

// find returns the slot holding address, or the first free slot and false.
func (t table) find(address mbus.Address) (int, bool) {
	free := -1
	for i := 0; i < t.slots(); i++ {
		s := t.slot(i)
		if s[slotFlag] != 1 {
			if free < 0 {
				free = i
			}
			continue
		}
		if mbus.Address(binary.BigEndian.Uint64(s[slotAddress:])) == address {
			return i, true
		}
	}
	return free, false
}

func (t table) load(address mbus.Address) []byte {
	i, ok := t.find(address)
	if !ok {
		return nil
	}
	s := t.slot(i)
	n := int(binary.BigEndian.Uint16(s[slotLength:]))
	if n > mbus.MaxFrameSize {
		return nil
	}
	return append([]byte(nil), s[slotTelegram:slotTelegram+n]...)
}

// store writes telegram and returns the index of the slot it went to.
func (t table) store(address mbus.Address, telegram []byte) (int, error) {
	if len(telegram) > mbus.MaxFrameSize {
		return 0, fmt.Errorf("store: telegram of %d bytes too large", len(telegram))
	}
	i, _ := t.find(address)
	if i < 0 {
		return 0, ErrFull
	}
	s := t.slot(i)
	s[slotFlag] = 1
	binary.BigEndian.PutUint64(s[slotAddress:], uint64(address))
	binary.BigEndian.PutUint16(s[slotLength:], uint16(len(telegram)))
	copy(s[slotTelegram:], telegram)
	return i, nil
}
