// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package record decodes the variable data records of an RSP_UD telegram
// (EN 13757-3) and picks out the single value a caller asks for.
package record

import (
	"fmt"
	"strings"

	"github.com/ffutop/mbus-gateway/mbus"
)

// DIF layout.
const (
	difDatatypeMask  = 0x0F
	difFunctionMask  = 0x30
	difStorageMask   = 0x40
	difExtensionMask = 0x80
)

// DIFE layout.
const (
	difeStorageMask   = 0x0F
	difeTariffMask    = 0x30
	difeSubunitMask   = 0x40
	difeExtensionMask = 0x80
)

const (
	// MaxDIFE is the number of DIFE bytes allowed after a DIF.
	MaxDIFE = 10
	// MaxVIF is VIF plus ten VIFE bytes.
	MaxVIF = 11
	// vifFolded is how many VIF/VIFE octets fit in the 64-bit accumulator.
	vifFolded = 8

	vifExtensionMask = 0x80
)

// Datatype is the low nibble of the DIF.
type Datatype byte

const (
	NoData      Datatype = 0x00
	Int8        Datatype = 0x01
	Int16       Datatype = 0x02
	Int24       Datatype = 0x03
	Int32       Datatype = 0x04
	Real        Datatype = 0x05
	Int48       Datatype = 0x06
	Int64       Datatype = 0x07
	Selection   Datatype = 0x08
	BCD2        Datatype = 0x09
	BCD4        Datatype = 0x0A
	BCD6        Datatype = 0x0B
	BCD8        Datatype = 0x0C
	VariableLen Datatype = 0x0D
	BCD12       Datatype = 0x0E
	Special     Datatype = 0x0F
)

func (d Datatype) String() string {
	switch d {
	case NoData:
		return "NO_DATA"
	case Int8:
		return "INT_8BIT"
	case Int16:
		return "INT_16BIT"
	case Int24:
		return "INT_24BIT"
	case Int32:
		return "INT_32BIT"
	case Real:
		return "REAL"
	case Int48:
		return "INT_48BIT"
	case Int64:
		return "INT_64BIT"
	case Selection:
		return "SELECTION"
	case BCD2:
		return "BCD2"
	case BCD4:
		return "BCD4"
	case BCD6:
		return "BCD6"
	case BCD8:
		return "BCD8"
	case VariableLen:
		return "VARIABLE_LEN"
	case BCD12:
		return "BCD12"
	case Special:
		return "SPECIAL"
	default:
		return fmt.Sprintf("Datatype(0x%02X)", byte(d))
	}
}

// Function is bits 4-5 of the DIF, kept in place.
type Function byte

const (
	Instant Function = 0x00
	Maximum Function = 0x10
	Minimum Function = 0x20
	Error   Function = 0x30
)

func (f Function) String() string {
	switch f {
	case Instant:
		return "INSTANT"
	case Maximum:
		return "MAXIMUM"
	case Minimum:
		return "MINIMUM"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Function(0x%02X)", byte(f))
	}
}

// ParseFunction accepts the names returned by String, case-insensitively.
func ParseFunction(s string) (Function, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INSTANT":
		return Instant, nil
	case "MAXIMUM", "MAX":
		return Maximum, nil
	case "MINIMUM", "MIN":
		return Minimum, nil
	case "ERROR":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown function %q", s)
}

// Descriptor identifies one data record inside a telegram.
type Descriptor struct {
	Storage  uint64
	Function Function
	Tariff   uint32
	Subunit  uint32
	// VIF holds VIF and up to seven VIFE octets, first octet most significant.
	VIF uint64
}

func (d Descriptor) String() string {
	return fmt.Sprintf("storage=%d function=%s tariff=%d subunit=%d vif=0x%X",
		d.Storage, d.Function, d.Tariff, d.Subunit, d.VIF)
}

// Record is one parsed data record.
type Record struct {
	Descriptor
	Datatype Datatype
	Value    float64
	// Decoded is false when the value bytes were skipped rather than decoded.
	Decoded bool
}

// reader walks a record with bounds checks on every byte.
type reader struct {
	b   []byte
	pos int
}

func (r *reader) next() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, &mbus.Error{Kind: mbus.KindOverrun, Detail: fmt.Sprintf("record needs byte %d of %d", r.pos+1, len(r.b))}
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, &mbus.Error{Kind: mbus.KindOverrun, Detail: fmt.Sprintf("record needs %d bytes at %d of %d", n, r.pos, len(r.b))}
	}
	p := r.b[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// ParseRecord parses the data record starting at b[0] (its DIF) and returns
// it together with the number of bytes it occupies.
func ParseRecord(b []byte) (Record, int, error) {
	r := &reader{b: b}
	var rec Record

	dif, err := r.next()
	if err != nil {
		return rec, 0, err
	}
	rec.Datatype = Datatype(dif & difDatatypeMask)
	rec.Function = Function(dif & difFunctionMask)
	if dif&difStorageMask != 0 {
		rec.Storage = 1
	}

	ext := dif&difExtensionMask != 0
	for n := 0; ext; n++ {
		if n == MaxDIFE {
			return rec, 0, &mbus.Error{Kind: mbus.KindFieldOverflow, Detail: "too many DIFE fields"}
		}
		dife, err := r.next()
		if err != nil {
			return rec, 0, err
		}
		ext = dife&difeExtensionMask != 0
		rec.Tariff |= uint32((dife&difeTariffMask)>>4) << (2 * n)
		rec.Subunit |= uint32((dife&difeSubunitMask)>>6) << n
		rec.Storage |= uint64(dife&difeStorageMask) << (4*n + 1)
	}

	// VIF and the first seven VIFEs are folded into one integer, the rest is
	// skipped.
	ext = true
	for n := 0; ext; n++ {
		if n == MaxVIF {
			return rec, 0, &mbus.Error{Kind: mbus.KindFieldOverflow, Detail: "too many VIFE fields"}
		}
		vif, err := r.next()
		if err != nil {
			return rec, 0, err
		}
		if n < vifFolded {
			rec.VIF = rec.VIF<<8 | uint64(vif)
		}
		ext = vif&vifExtensionMask != 0
	}

	if err := decodeValue(r, &rec); err != nil {
		return rec, 0, err
	}
	return rec, r.pos, nil
}

func decodeValue(r *reader, rec *Record) error {
	switch rec.Datatype {
	case Special:
		return &mbus.Error{Kind: mbus.KindUnsupportedDatatype, Detail: "unexpected SPECIAL FUNCTION datatype"}

	case VariableLen:
		n, err := r.next()
		if err != nil {
			return err
		}
		_, err = r.take(int(n))
		return err

	}

	width := rec.Datatype.Width()
	if width < 0 {
		return &mbus.Error{Kind: mbus.KindUnsupportedDatatype, Detail: rec.Datatype.String()}
	}
	p, err := r.take(width)
	if err != nil {
		return err
	}
	switch _, bcd := bcdWidths[rec.Datatype]; {
	case rec.Datatype == Real:
		// skipped, left undecoded
		return nil
	case bcd:
		rec.Value = float64(decodeBCD(p))
	default:
		rec.Value = float64(decodeUint(p))
	}
	rec.Decoded = true
	return nil
}
