// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp reaches an M-Bus line through a transparent TCP serial server.
package tcp

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/ffutop/mbus-gateway/transport"
)

const tcpTimeout = 10 * time.Second

// New returns a Port on the configured serial server. The connection is
// dialled on the first write and again after it drops.
func New(name string, cfg config.TcpConfig) *transport.Stream {
	return transport.NewStream(name, cfg.BaudRate, Dialer(cfg))
}

func Dialer(cfg config.TcpConfig) transport.Dialer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: timeout}
		return dialer.DialContext(ctx, "tcp", cfg.Address)
	}
}
