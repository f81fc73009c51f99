// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ffutop/mbus-gateway/internal/bus"
	"github.com/ffutop/mbus-gateway/internal/config"
	"github.com/ffutop/mbus-gateway/internal/metrics"
	"github.com/ffutop/mbus-gateway/internal/poller"
	"github.com/ffutop/mbus-gateway/internal/sensor"
	"github.com/ffutop/mbus-gateway/internal/store"
	"github.com/ffutop/mbus-gateway/transport"
	"github.com/ffutop/mbus-gateway/transport/serial"
	"github.com/ffutop/mbus-gateway/transport/tcp"
)

func main() {
	// Load Configuration
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting M-Bus Gateway...")

	storage, err := store.Open(cfg.Store)
	if err != nil {
		slog.Error("Failed to open store", "type", cfg.Store.Type, "err", err)
		os.Exit(1)
	}
	defer storage.Close()

	m := metrics.New()

	var pollers []*poller.Poller
	var ports []transport.Port
	for _, busCfg := range cfg.Buses {
		p, port, err := buildBus(busCfg, storage, m)
		if err != nil {
			slog.Error("Failed to set up bus", "bus", busCfg.Name, "err", err)
			continue
		}
		pollers = append(pollers, p)
		ports = append(ports, port)
	}

	if len(pollers) == 0 {
		slog.Error("No valid buses configured. Exiting.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Pollers
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *poller.Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}

	var srv *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			slog.Info("Serving metrics", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server stopped with error", "err", err)
			}
		}()
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		done()
	}
	for _, port := range ports {
		port.Close()
	}
	slog.Info("Goodbye.")
}

// buildBus wires the transport, sessions, sensors and recorders of one bus
// into a poller.
func buildBus(cfg config.BusConfig, storage store.Storage, m *metrics.Metrics) (*poller.Poller, transport.Port, error) {
	var stream *transport.Stream
	switch cfg.Transport {
	case "serial":
		stream = serial.New(cfg.Name, cfg.Serial)
	case "tcp":
		stream = tcp.New(cfg.Name, cfg.Tcp)
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	lock := bus.NewLock()
	timeouts := bus.TimeoutsFor(cfg.BaudRate())
	// A dial must not hold the bus longer than an unanswered frame would.
	stream.DialTimeout = timeouts.Short
	var port transport.Port = stream
	sink := sensor.Sinks{sensor.LogSink{}, m.Sink(cfg.Name)}

	var meters []poller.Meter
	var observers []poller.Observer
	for _, meterCfg := range cfg.Meters {
		addr, err := meterCfg.Address()
		if err != nil {
			port.Close()
			return nil, nil, err
		}
		meterName := meterCfg.Name
		session := bus.NewSession(bus.Config{
			Name:     meterName,
			Address:  addr,
			Retries:  cfg.Retries,
			Timeouts: timeouts,
			OnCycle: func(r bus.CycleResult) {
				m.ObserveCycle(cfg.Name, meterName, r)
			},
		}, port, lock)
		meters = append(meters, poller.Meter{Session: session, Interval: meterCfg.UpdateInterval})
		observers = append(observers, store.NewRecorder(storage, session))

		for _, sensorCfg := range meterCfg.Sensors {
			d, err := sensorCfg.Descriptor()
			if err != nil {
				port.Close()
				return nil, nil, fmt.Errorf("sensor %s: %w", sensorCfg.Name, err)
			}
			observers = append(observers, sensor.New(sensor.Config{Name: sensorCfg.Name, Descriptor: d}, session, sink))
		}
	}

	p, err := poller.New(meters, cfg.Tick)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	for _, o := range observers {
		p.AddObserver(o)
	}
	return p, port, nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
