// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ffutop/mbus-gateway/internal/bus"
	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/ffutop/mbus-gateway/internal/metrics"
	"github.com/ffutop/mbus-gateway/internal/store"
	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/ffutop/mbus-gateway/transport"
)

// fakeMeter answers like a single meter behind a TCP serial server: ACK to
// its select frame, the telegram to REQ_UD2 once selected.
func fakeMeter(t *testing.T, addr mbus.Address, telegram []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	selectFrame := mbus.SelectFrame(addr)
	request := mbus.RequestFrame.Bytes()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var rx []byte
		selected := false
		chunk := make([]byte, 64)
		for {
			n, err := conn.Read(chunk)
			if err != nil {
				if err != io.EOF {
					t.Logf("fake meter: %v", err)
				}
				return
			}
			rx = append(rx, chunk[:n]...)
			if i := bytes.Index(rx, selectFrame); i >= 0 {
				rx = rx[i+len(selectFrame):]
				selected = true
				conn.Write([]byte{mbus.Ack})
			}
			if i := bytes.Index(rx, request); i >= 0 && selected {
				rx = rx[i+len(request):]
				conn.Write(telegram)
			}
		}
	}()
	return ln.Addr().String()
}

func rspUD(records ...byte) []byte {
	payload := append([]byte{
		0x78, 0x56, 0x34, 0x12, 0xA5, 0x11, 0x01, 0x07,
		0x01, 0x00, 0x00, 0x00,
	}, records...)
	l := byte(len(payload) + 3)
	f := []byte{mbus.StartLong, l, l, mbus.StartLong, mbus.ControlRspUD, 0x00, mbus.CIRespVariable}
	f = append(f, payload...)
	f = append(f, 0x00, mbus.Stop)
	f[len(f)-2] = mbus.Checksum(f)
	return f
}

func TestBuildBus_EndToEnd(t *testing.T) {
	const addr mbus.Address = 0x12345678A5110107
	telegram := rspUD(0x04, 0x06, 0x10, 0x27, 0x00, 0x00, 0x02, 0x5B, 0x2D, 0x00)

	cfg := &config.Config{
		Store: config.StoreConfig{Type: "file", Path: filepath.Join(t.TempDir(), "telegrams.bin")},
		Buses: []config.BusConfig{{
			Name:      "heating",
			Transport: "tcp",
			Tcp:       config.TcpConfig{Address: fakeMeter(t, addr, telegram), BaudRate: 9600},
			Tick:      5 * time.Millisecond,
			Meters: []config.MeterConfig{{
				Name:             "flat1",
				SecondaryAddress: "0x12345678A5110107",
				UpdateInterval:   time.Hour,
				Sensors: []config.SensorConfig{
					{Name: "energy", VIF: "0x06"},
					{Name: "flow_temperature", VIF: "0x5B"},
				},
			}},
		}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	storage, err := store.Open(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()
	m := metrics.New()

	p, port, err := buildBus(cfg.Buses[0], storage, m)
	if err != nil {
		t.Fatalf("buildBus() error = %v", err)
	}
	defer port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	want := []string{
		`mbus_sensor_value{bus="heating",meter="flat1",sensor="energy"} 10000`,
		`mbus_sensor_value{bus="heating",meter="flat1",sensor="flow_temperature"} 45`,
		`mbus_poll_cycles_total{bus="heating",meter="flat1",result="ok"} 1`,
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body := rec.Body.String()

		missing := ""
		for _, w := range want {
			if !strings.Contains(body, w) {
				missing = w
				break
			}
		}
		if missing == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics missing %q:\n%s", missing, body)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	// The telegram was recorded for the next start.
	deadline = time.Now().Add(2 * time.Second)
	for {
		got, err := storage.Load(addr)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if bytes.Equal(got, telegram) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored telegram = %X, want %X", got, telegram)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBuildBus_DialBoundedByShortTimeout(t *testing.T) {
	cfg := config.BusConfig{
		Name:      "heating",
		Transport: "tcp",
		Tcp:       config.TcpConfig{Address: "127.0.0.1:1", BaudRate: 9600},
		Tick:      time.Millisecond,
	}
	_, port, err := buildBus(cfg, store.NewMemoryStorage(), metrics.New())
	if err != nil {
		t.Fatalf("buildBus() error = %v", err)
	}
	defer port.Close()

	stream, ok := port.(*transport.Stream)
	if !ok {
		t.Fatalf("port is %T", port)
	}
	if want := bus.TimeoutsFor(9600).Short; stream.DialTimeout != want {
		t.Errorf("DialTimeout = %v, want %v", stream.DialTimeout, want)
	}
}

func TestBuildBus_UnknownTransport(t *testing.T) {
	_, _, err := buildBus(config.BusConfig{Name: "x", Transport: "radio", Tick: time.Millisecond}, store.NewMemoryStorage(), metrics.New())
	if err == nil {
		t.Error("buildBus() with unknown transport succeeded")
	}
}
