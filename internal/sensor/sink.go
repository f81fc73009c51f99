// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sensor

import "log/slog"

// LogSink writes readings to the default logger.
type LogSink struct{}

func (LogSink) Publish(r Reading) {
	slog.Info("Value", "meter", r.Meter, "sensor", r.Sensor, "address", r.Address.String(), "value", r.Value, "seq", r.Seq)
}

func (LogSink) Fail(r Reading, err error) {
	slog.Error("Failed to decode telegram", "meter", r.Meter, "sensor", r.Sensor, "address", r.Address.String(), "seq", r.Seq, "err", err)
}

// Sinks fans a reading out to every sink in order.
type Sinks []Sink

func (ss Sinks) Publish(r Reading) {
	for _, s := range ss {
		s.Publish(r)
	}
}

func (ss Sinks) Fail(r Reading, err error) {
	for _, s := range ss {
		s.Fail(r, err)
	}
}
