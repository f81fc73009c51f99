// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBufferSize = 1024
	readChunkSize     = 256
)

var ErrClosed = errors.New("transport: port closed")

// Stream implements Port on top of a blocking stream. A reader goroutine per
// connection moves incoming bytes into a bounded buffer; the connection is
// opened on first write and reopened after it fails.
type Stream struct {
	Name string
	// IsTimeout reports read errors that only mean "nothing arrived yet".
	IsTimeout  func(error) bool
	BufferSize int
	// DialTimeout bounds the dial made by Write. Zero means no bound.
	DialTimeout time.Duration

	dial     Dialer
	baudRate int
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	buf    []byte
	closed bool
}

// NewStream allocates a Stream. Nothing is opened until Connect or Write.
func NewStream(name string, baudRate int, dial Dialer) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		Name:       name,
		BufferSize: DefaultBufferSize,
		dial:       dial,
		baudRate:   baudRate,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Stream) BaudRate() int {
	return s.baudRate
}

// Connect opens the underlying stream if it is not open.
func (s *Stream) Connect(ctx context.Context) error {
	_, err := s.connection(ctx)
	return err
}

func (s *Stream) connection(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport %s: %w", s.Name, err)
	}
	s.conn = conn
	slog.Info("Transport connected", "transport", s.Name)
	go s.readLoop(conn)
	return conn, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	ctx := s.ctx
	if s.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.DialTimeout)
		defer cancel()
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return 0, err
	}
	slog.Debug("send to bus", "transport", s.Name, "frame", hex.EncodeToString(p))
	n, err := conn.Write(p)
	if err != nil {
		s.drop(conn)
		return n, fmt.Errorf("transport %s: write: %w", s.Name, err)
	}
	return n, nil
}

func (s *Stream) readLoop(conn io.ReadWriteCloser) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			s.push(chunk[:n])
		}
		if err == nil {
			continue
		}
		if s.IsTimeout != nil && s.IsTimeout(err) {
			continue
		}
		if !s.drop(conn) {
			return
		}
		if !errors.Is(err, io.EOF) {
			slog.Warn("Transport read failed, will reconnect on next write", "transport", s.Name, "err", err)
		} else {
			slog.Info("Transport disconnected", "transport", s.Name)
		}
		return
	}
}

// drop closes conn if it is still the current connection.
func (s *Stream) drop(conn io.ReadWriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	conn.Close()
	s.conn = nil
	return !s.closed
}

func (s *Stream) push(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	if over := len(s.buf) - s.BufferSize; s.BufferSize > 0 && over > 0 {
		slog.Warn("Receive buffer overflow, dropping oldest bytes", "transport", s.Name, "dropped", over)
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
}

func (s *Stream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Stream) Read(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, len(s.buf))
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, s.buf)
	s.buf = append(s.buf[:0], s.buf[n:]...)
	return out
}

func (s *Stream) Discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buf)
	s.buf = s.buf[:0]
	return n
}

// Close closes the underlying stream and aborts a dial in progress; the
// Stream cannot be reused.
func (s *Stream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
