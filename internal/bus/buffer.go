// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import (
	"fmt"

	"github.com/ffutop/mbus-gateway/mbus"
)

// frameBuffer collects one incoming long frame.
type frameBuffer struct {
	data [mbus.MaxFrameSize]byte
	n    int
}

func (b *frameBuffer) Reset() {
	b.n = 0
}

func (b *frameBuffer) Len() int {
	return b.n
}

// Append copies p behind the bytes already collected.
func (b *frameBuffer) Append(p []byte) error {
	if b.n+len(p) > len(b.data) {
		return &mbus.Error{Kind: mbus.KindOverrun, Detail: fmt.Sprintf("frame buffer full at %d bytes", b.n)}
	}
	b.n += copy(b.data[b.n:], p)
	return nil
}

func (b *frameBuffer) Bytes() []byte {
	return b.data[:b.n]
}
