// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package record

// Value widths in bytes. Every width decodes the same way: each byte is
// accumulated at the next place value, least significant first.
var (
	intWidths = map[Datatype]int{
		Int8:  1,
		Int16: 2,
		Int24: 3,
		Int32: 4,
		Int48: 6,
		Int64: 8,
	}
	bcdWidths = map[Datatype]int{
		BCD2:  1,
		BCD4:  2,
		BCD6:  3,
		BCD8:  4,
		BCD12: 6,
	}
)

// Width returns the number of value bytes for fixed width datatypes, 0 for
// NO_DATA and SELECTION, and -1 when the width is not fixed.
func (d Datatype) Width() int {
	if w, ok := intWidths[d]; ok {
		return w
	}
	if w, ok := bcdWidths[d]; ok {
		return w
	}
	switch d {
	case NoData, Selection:
		return 0
	case Real:
		return 4
	}
	return -1
}

// decodeUint reads p as a little-endian unsigned integer.
func decodeUint(p []byte) uint64 {
	var v, place uint64 = 0, 1
	for _, b := range p {
		v += place * uint64(b)
		place <<= 8
	}
	return v
}

// decodeBCD reads p as packed decimal, least significant digit pair first.
// Nibbles above 9 are not rejected.
func decodeBCD(p []byte) uint64 {
	var v, place uint64 = 0, 1
	for _, b := range p {
		v += place * uint64(b&0x0F+10*(b>>4))
		place *= 100
	}
	return v
}
