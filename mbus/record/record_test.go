// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/google/go-cmp/cmp"
)

func le(v uint64, width int) []byte {
	p := make([]byte, width)
	for i := range p {
		p[i] = byte(v >> (8 * i))
	}
	return p
}

func TestParseRecord_Integers(t *testing.T) {
	tests := []struct {
		dt    Datatype
		value uint64
	}{
		{Int8, 0xAB},
		{Int16, 0xBEEF},
		{Int24, 0x123456},
		{Int32, 0xDEADBEEF},
		{Int48, 0x123456789ABC},
		{Int64, 0x0012345678ABCDEF},
	}

	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			b := append([]byte{byte(tt.dt), 0x13}, le(tt.value, tt.dt.Width())...)
			b = append(b, 0xFF) // next record, must not be consumed
			rec, n, err := ParseRecord(b)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if n != 2+tt.dt.Width() {
				t.Errorf("consumed %d bytes, want %d", n, 2+tt.dt.Width())
			}
			if !rec.Decoded || rec.Value != float64(tt.value) {
				t.Errorf("value = %v (decoded %v), want %v", rec.Value, rec.Decoded, float64(tt.value))
			}
		})
	}
}

func TestParseRecord_BCD(t *testing.T) {
	tests := []struct {
		name  string
		b     []byte
		value float64
	}{
		{"BCD2", []byte{0x09, 0x13, 0x42}, 42},
		{"BCD4", []byte{0x0A, 0x13, 0x34, 0x12}, 1234},
		{"BCD6", []byte{0x0B, 0x13, 0x56, 0x34, 0x12}, 123456},
		{"BCD8", []byte{0x0C, 0x13, 0x99, 0x99, 0x99, 0x99}, 99999999},
		{"BCD12", []byte{0x0E, 0x13, 0x01, 0x00, 0x00, 0x00, 0x00, 0x10}, 100000000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, n, err := ParseRecord(tt.b)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if n != len(tt.b) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.b))
			}
			if rec.Value != tt.value {
				t.Errorf("value = %v, want %v", rec.Value, tt.value)
			}
		})
	}
}

func TestParseRecord_Header(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want Descriptor
		n    int
	}{
		{
			name: "PlainDIF",
			b:    []byte{0x04, 0x06, 0, 0, 0, 0},
			want: Descriptor{VIF: 0x06},
			n:    6,
		},
		{
			name: "StorageBitAndFunction",
			b:    []byte{0x62, 0x6C, 0x01, 0x02},
			want: Descriptor{Storage: 1, Function: Minimum, VIF: 0x6C},
			n:    4,
		},
		{
			name: "OneDIFE",
			b:    []byte{0xC4, 0x71, 0x13, 0, 0, 0, 0},
			want: Descriptor{Storage: 3, Tariff: 3, Subunit: 1, VIF: 0x13},
			n:    7,
		},
		{
			name: "TwoDIFE",
			b:    []byte{0x84, 0x82, 0x53, 0x13, 0, 0, 0, 0},
			want: Descriptor{Storage: 4 | 3<<5, Tariff: 1 << 2, Subunit: 1 << 1, VIF: 0x13},
			n:    8,
		},
		{
			name: "VIFE",
			b:    []byte{0x01, 0xFD, 0x17, 0x00},
			want: Descriptor{VIF: 0xFD17},
			n:    4,
		},
		{
			name: "VIFEBeyondEighthIgnored",
			b:    []byte{0x01, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x0A, 0x00},
			want: Descriptor{VIF: 0x8182838485868788},
			n:    12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, n, err := ParseRecord(tt.b)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, rec.Descriptor); diff != "" {
				t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
			}
			if n != tt.n {
				t.Errorf("consumed %d bytes, want %d", n, tt.n)
			}
		})
	}
}

func TestParseRecord_Errors(t *testing.T) {
	tooManyDIFE := []byte{0x84}
	for i := 0; i < MaxDIFE+1; i++ {
		tooManyDIFE = append(tooManyDIFE, 0x80)
	}
	tooManyDIFE = append(tooManyDIFE, 0x13, 0, 0, 0, 0)

	maxDIFE := []byte{0x84}
	for i := 0; i < MaxDIFE-1; i++ {
		maxDIFE = append(maxDIFE, 0x80)
	}
	maxDIFE = append(maxDIFE, 0x00, 0x13, 0, 0, 0, 0)

	tooManyVIFE := []byte{0x01}
	for i := 0; i < MaxVIF; i++ {
		tooManyVIFE = append(tooManyVIFE, 0x80)
	}
	tooManyVIFE = append(tooManyVIFE, 0x00, 0x00)

	tests := []struct {
		name string
		b    []byte
		want error
	}{
		{"MaxDIFEAccepted", maxDIFE, nil},
		{"TooManyDIFE", tooManyDIFE, mbus.ErrFieldOverflow},
		{"TooManyVIFE", tooManyVIFE, mbus.ErrFieldOverflow},
		{"Special", []byte{0x3F, 0x13}, mbus.ErrUnsupportedDatatype},
		{"TruncatedValue", []byte{0x04, 0x13, 0x01, 0x02}, mbus.ErrOverrun},
		{"TruncatedVIF", []byte{0x04, 0x93}, mbus.ErrOverrun},
		{"Empty", nil, mbus.ErrOverrun},
		{"TruncatedVariable", []byte{0x0D, 0x13, 0x05, 0x01}, mbus.ErrOverrun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := ParseRecord(tt.b)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("ParseRecord() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("ParseRecord() error = %v, want %v", err, tt.want)
			}
			if n != 0 {
				t.Errorf("consumed %d bytes on error, want 0", n)
			}
		})
	}
}

func TestParseRecord_Skipped(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"Real", []byte{0x05, 0x13, 0x00, 0x00, 0x80, 0x3F}},
		{"VariableLength", []byte{0x0D, 0x13, 0x03, 'a', 'b', 'c'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, n, err := ParseRecord(tt.b)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if n != len(tt.b) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.b))
			}
			if rec.Decoded {
				t.Errorf("Decoded = true, want false")
			}
		})
	}

	rec, n, err := ParseRecord([]byte{0x08, 0x13, 0x04})
	if err != nil || n != 2 || !rec.Decoded || rec.Value != 0 {
		t.Errorf("SELECTION: rec=%+v n=%d err=%v", rec, n, err)
	}
}

func TestParseRecord_ConsumesWidth(t *testing.T) {
	for dt := Datatype(0); dt <= 0x0F; dt++ {
		width := dt.Width()
		if width < 0 {
			continue
		}
		t.Run(dt.String(), func(t *testing.T) {
			b := append([]byte{byte(dt), 0x13}, bytes.Repeat([]byte{0x11}, width)...)
			b = append(b, 0xFF)
			rec, n, err := ParseRecord(b)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if n != 2+width {
				t.Errorf("consumed %d bytes, want %d", n, 2+width)
			}
			if rec.Decoded == (dt == Real) {
				t.Errorf("Decoded = %v", rec.Decoded)
			}
		})
	}
}

func TestDecodeWidthHelpers(t *testing.T) {
	if got := decodeUint([]byte{0x78, 0x56, 0x34, 0x12}); got != 0x12345678 {
		t.Errorf("decodeUint() = %X", got)
	}
	if got := decodeBCD([]byte{0x78, 0x56, 0x34, 0x12}); got != 12345678 {
		t.Errorf("decodeBCD() = %d", got)
	}
	if got := decodeUint(nil); got != 0 {
		t.Errorf("decodeUint(nil) = %d", got)
	}
}

func TestParseFunction(t *testing.T) {
	for _, f := range []Function{Instant, Maximum, Minimum, Error} {
		got, err := ParseFunction(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFunction(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFunction("average"); err == nil {
		t.Errorf("ParseFunction(average) succeeded")
	}
}
