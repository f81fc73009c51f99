// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial opens an M-Bus level converter attached to a local serial
// line.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/ffutop/mbus-gateway/transport"
	"github.com/grid-x/serial"
)

// New returns a Port on the configured device. The device is opened on the
// first write.
func New(name string, cfg config.SerialConfig) *transport.Stream {
	s := transport.NewStream(name, cfg.BaudRate, Dialer(cfg))
	s.IsTimeout = IsTimeout
	return s
}

// Dialer opens the serial device described by cfg.
func Dialer(cfg config.SerialConfig) transport.Dialer {
	sc := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		port, err := serial.Open(&sc)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", sc.Address, err)
		}
		return port, nil
	}
}

// IsTimeout reports the read timeout of an idle line.
func IsTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}
