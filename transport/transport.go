// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"io"
)

// Port is the view of a half-duplex M-Bus line the protocol engine works on.
// None of the methods block waiting for input: Available and Read report
// whatever has arrived so far.
type Port interface {
	Write(p []byte) (int, error)
	// Available returns the number of received bytes ready to be read.
	Available() int
	// Read returns up to n received bytes, possibly none.
	Read(n int) []byte
	// Discard drops all received bytes and returns how many there were.
	Discard() int
	// BaudRate is the line speed used to derive protocol timeouts.
	BaudRate() int
	Close() error
}

// Dialer opens the blocking byte stream behind a Port.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)
