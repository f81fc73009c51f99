// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbus

import "fmt"

// Frame delimiters and single characters (EN 13757-2).
const (
	StartShort byte = 0x10
	StartLong  byte = 0x68
	Stop       byte = 0x16
	Ack        byte = 0xE5
)

// Control fields.
const (
	ControlSndNKE byte = 0x40
	ControlSndUD  byte = 0x73
	ControlReqUD2 byte = 0x5B
	ControlRspUD  byte = 0x08
)

// Addresses and CI fields.
const (
	AddressNetworkLayer byte = 0xFD

	CISelectSecondary byte = 0x52
	CIRespVariable    byte = 0x72
)

const (
	ShortFrameSize = 5
	HeaderSize     = 3 // start, L, L

	// LongFrameOverhead is the number of bytes of a long frame not counted by L:
	// start, L, L, start, checksum, stop.
	LongFrameOverhead = 6
	MaxFrameSize      = 0xFF + LongFrameOverhead

	selectFrameLength = 0x0B
	selectFrameSize   = selectFrameLength + LongFrameOverhead
)

// ShortFrame is a fixed five byte control frame: 10 C A CS 16.
type ShortFrame [ShortFrameSize]byte

// NewShortFrame builds a short frame with its checksum set.
func NewShortFrame(control, address byte) ShortFrame {
	return ShortFrame{StartShort, control, address, control + address, Stop}
}

func (f ShortFrame) Bytes() []byte {
	return f[:]
}

var (
	// ResetFrame is SND_NKE to the network layer address: 10 40 FD 3D 16.
	ResetFrame = NewShortFrame(ControlSndNKE, AddressNetworkLayer)
	// RequestFrame is REQ_UD2 to the network layer address: 10 5B FD 58 16.
	RequestFrame = NewShortFrame(ControlReqUD2, AddressNetworkLayer)
)

// Checksum computes the checksum of a long frame: the sum of control, address,
// CI and the L-3 payload bytes, truncated to 8 bits.
//
// It returns 0 for anything that is not a long frame. 0 is also a valid
// checksum, so callers must check the frame type themselves.
func Checksum(frame []byte) byte {
	if len(frame) < HeaderSize || frame[0] != StartLong {
		return 0
	}
	end := int(frame[1]) + 4
	if len(frame) < end {
		return 0
	}

	var sum byte
	for _, b := range frame[4:end] {
		sum += b
	}
	return sum
}

// SelectFrame builds the SND_UD frame selecting a meter by secondary address.
//
//	68 0B 0B 68 73 FD 52 <address 8 bytes> CS 16
func SelectFrame(addr Address) []byte {
	raw := []byte{
		StartLong,
		selectFrameLength,
		selectFrameLength,
		StartLong,
		ControlSndUD,
		AddressNetworkLayer,
		CISelectSecondary,
		0x00, 0x00, 0x00, 0x00, // identification number
		0x00, 0x00, // manufacturer
		0x00, // version
		0x00, // medium
		0x00, // checksum
		Stop,
	}
	addr.PutWire(raw[7:15])
	raw[15] = Checksum(raw)
	return raw
}

// ParseHeader validates the first three bytes of a long frame and returns the
// total frame size announced by them.
func ParseHeader(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, &Error{Kind: KindTruncated, Detail: fmt.Sprintf("header has %d bytes", len(header))}
	}
	if header[0] != StartLong || header[1] != header[2] {
		return 0, &Error{
			Kind:   KindMalformedHeader,
			Detail: fmt.Sprintf("%02X %02X %02X", header[0], header[1], header[2]),
		}
	}
	return int(header[1]) + LongFrameOverhead, nil
}

// VerifyLongFrame checks that frame holds a complete long frame whose
// checksum matches.
func VerifyLongFrame(frame []byte) error {
	size, err := ParseHeader(frame)
	if err != nil {
		return err
	}
	if len(frame) < size {
		return &Error{Kind: KindTruncated, Detail: fmt.Sprintf("have %d of %d bytes", len(frame), size)}
	}
	want := Checksum(frame)
	if got := frame[size-2]; got != want {
		return &Error{Kind: KindChecksumMismatch, Detail: fmt.Sprintf("got %02X, expected %02X", got, want)}
	}
	return nil
}
