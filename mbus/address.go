// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is an 8 byte secondary address written the way it is printed on the
// meter: identification number in the high four bytes, followed by
// manufacturer, version and medium.
type Address uint64

// Wildcard matches every meter on the bus.
const Wildcard Address = 0xFFFFFFFFFFFFFFFF

// ParseAddress accepts decimal or 0x-prefixed hex.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid secondary address %q: %w", s, err)
	}
	return Address(v), nil
}

func (a Address) String() string {
	return fmt.Sprintf("%016X", uint64(a))
}

// PutWire writes the address into dst (8 bytes) in on-wire order. The
// identification number goes out least significant byte first, the other
// four bytes keep their printed order.
func (a Address) PutWire(dst []byte) {
	_ = dst[7]
	dst[0] = byte(a >> 32)
	dst[1] = byte(a >> 40)
	dst[2] = byte(a >> 48)
	dst[3] = byte(a >> 56)
	dst[4] = byte(a >> 24)
	dst[5] = byte(a >> 16)
	dst[6] = byte(a >> 8)
	dst[7] = byte(a)
}

// AddressFromWire is the inverse of PutWire.
func AddressFromWire(src []byte) Address {
	_ = src[7]
	return Address(src[3])<<56 | Address(src[2])<<48 | Address(src[1])<<40 | Address(src[0])<<32 |
		Address(src[4])<<24 | Address(src[5])<<16 | Address(src[6])<<8 | Address(src[7])
}
