// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import "time"

const (
	defaultBaudRate = 2400

	// 330 bit times response window plus one character.
	shortBits = 330 + 11
	// A full 256 byte telegram on top of the short window.
	longBits = shortBits + 11*512
	slack    = 150 * time.Millisecond
)

// Timeouts are the two deadlines a session waits on.
type Timeouts struct {
	Short time.Duration
	Long  time.Duration
}

// TimeoutsFor derives the deadlines from the line speed. The arithmetic is
// integer milliseconds on an integer bit period in microseconds.
func TimeoutsFor(baud int) Timeouts {
	if baud <= 0 {
		baud = defaultBaudRate
	}
	tbit := 1000000 / baud
	return Timeouts{
		Short: time.Duration((shortBits*tbit)/1000)*time.Millisecond + slack,
		Long:  time.Duration((longBits*tbit)/1000)*time.Millisecond + slack,
	}
}
