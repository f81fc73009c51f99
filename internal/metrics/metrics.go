// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics exports readings and poll outcomes to Prometheus.
package metrics

import (
	"net/http"

	"github.com/ffutop/mbus-gateway/internal/bus"
	"github.com/ffutop/mbus-gateway/internal/sensor"
	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mbus"

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	value        *prometheus.GaugeVec
	updated      *prometheus.GaugeVec
	decodeErrors *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	sequence     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last decoded value of a sensor.",
		}, []string{"bus", "meter", "sensor"}),
		updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_last_update_timestamp_seconds",
			Help:      "Time the sensor value was last decoded.",
		}, []string{"bus", "meter", "sensor"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_decode_errors_total",
			Help:      "Telegrams that did not yield a sensor value, by error kind.",
		}, []string{"bus", "meter", "sensor", "kind"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles, by outcome.",
		}, []string{"bus", "meter", "result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Reset/select/request sequences sent to a meter.",
		}, []string{"bus", "meter"}),
		sequence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telegram_sequence",
			Help:      "Number of validated telegrams received from a meter.",
		}, []string{"bus", "meter"}),
	}
	m.registry.MustRegister(m.value, m.updated, m.decodeErrors, m.cycles, m.attempts, m.sequence)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records the outcome of one poll cycle.
func (m *Metrics) ObserveCycle(busName, meter string, r bus.CycleResult) {
	result := "ok"
	if r.Err != nil {
		result = kindLabel(r.Err)
	}
	m.cycles.WithLabelValues(busName, meter, result).Inc()
	m.attempts.WithLabelValues(busName, meter).Add(float64(r.Attempts))
	m.sequence.WithLabelValues(busName, meter).Set(float64(r.Seq))
}

// Sink returns a sensor.Sink labelling readings with busName.
func (m *Metrics) Sink(busName string) sensor.Sink {
	return &sink{m: m, bus: busName}
}

type sink struct {
	m   *Metrics
	bus string
}

func (s *sink) Publish(r sensor.Reading) {
	s.m.value.WithLabelValues(s.bus, r.Meter, r.Sensor).Set(r.Value)
	s.m.updated.WithLabelValues(s.bus, r.Meter, r.Sensor).Set(float64(r.At.UnixNano()) / 1e9)
}

func (s *sink) Fail(r sensor.Reading, err error) {
	s.m.decodeErrors.WithLabelValues(s.bus, r.Meter, r.Sensor, kindLabel(err)).Inc()
}

func kindLabel(err error) string {
	return mbus.KindOf(err).String()
}
