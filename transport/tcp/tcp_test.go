// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/google/go-cmp/cmp"
)

func TestPort_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	request := []byte{0x10, 0x5B, 0xFD, 0x58, 0x16}
	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(request))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		got <- buf
		conn.Write([]byte{0xE5})
		time.Sleep(100 * time.Millisecond)
	}()

	port := New("test", config.TcpConfig{Address: ln.Addr().String(), BaudRate: 9600})
	defer port.Close()

	if _, err := port.Write(request); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if diff := cmp.Diff(request, <-got); diff != "" {
		t.Errorf("server received (-want +got):\n%s", diff)
	}

	deadline := time.Now().Add(2 * time.Second)
	for port.Available() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no reply buffered")
		}
		time.Sleep(time.Millisecond)
	}
	if diff := cmp.Diff([]byte{0xE5}, port.Read(1)); diff != "" {
		t.Errorf("Read() (-want +got):\n%s", diff)
	}
	if port.BaudRate() != 9600 {
		t.Errorf("BaudRate() = %d", port.BaudRate())
	}
}

func TestPort_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	port := New("test", config.TcpConfig{Address: addr, Timeout: time.Second})
	defer port.Close()
	if _, err := port.Write([]byte{0x10}); err == nil {
		t.Error("Write() to closed listener succeeded")
	}
}
