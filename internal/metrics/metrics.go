// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics tracks Prometheus metrics for the RTU client. All
// methods handle a nil receiver gracefully, so a nil *Metrics acts as a
// no-op — the rest of the client never branches on whether metrics are
// enabled (adapted from the nil-receiver pattern in gss.GSSMetrics).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks connection, delta, and execution counters for one RTU
// client process.
type Metrics struct {
	// ConnectAttempts counts transport connect attempts by outcome.
	// Labels: result=[success, transient_failure, permanent_failure]
	ConnectAttempts *prometheus.CounterVec

	// Reconnects counts transport reconnects after the initial connect.
	Reconnects prometheus.Counter

	// DeltasApplied counts deltas applied to the notebook builder.
	// Labels: delta_type, delta_action
	DeltasApplied *prometheus.CounterVec

	// DeltasQueued tracks the current size of the sequencer's unapplied
	// set (pending causal reorderings).
	DeltasQueued prometheus.Gauge

	// DeltaSubmissions counts delta submission outcomes.
	// Labels: result=[accepted, rejected, timeout]
	DeltaSubmissions *prometheus.CounterVec

	// SubmissionDuration tracks delta-submission round-trip latency.
	SubmissionDuration prometheus.Histogram

	// Resyncs counts full document resyncs triggered by
	// inconsistent_state_event.
	Resyncs prometheus.Counter

	// StateTransitions counts startup-state-machine transitions.
	// Labels: from, to
	StateTransitions *prometheus.CounterVec
}

var (
	once     sync.Once
	instance *Metrics
)

// New creates and registers RTU client metrics. If registerer is nil,
// prometheus.DefaultRegisterer is used. Idempotent via sync.Once so
// repeated calls (e.g. client re-initialization after shutdown) never
// attempt double registration.
func New(registerer prometheus.Registerer) *Metrics {
	once.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &Metrics{
			ConnectAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "origami_rtu_connect_attempts_total",
					Help: "Total transport connect attempts by outcome",
				},
				[]string{"result"},
			),
			Reconnects: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "origami_rtu_reconnects_total",
					Help: "Total transport reconnects after the initial connect",
				},
			),
			DeltasApplied: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "origami_rtu_deltas_applied_total",
					Help: "Total deltas applied to the notebook builder",
				},
				[]string{"delta_type", "delta_action"},
			),
			DeltasQueued: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "origami_rtu_deltas_queued",
					Help: "Current size of the delta sequencer's unapplied set",
				},
			),
			DeltaSubmissions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "origami_rtu_delta_submissions_total",
					Help: "Total delta submission outcomes",
				},
				[]string{"result"},
			),
			SubmissionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "origami_rtu_delta_submission_duration_seconds",
					Help:    "Delta submission round-trip latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
			),
			Resyncs: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "origami_rtu_resyncs_total",
					Help: "Total full document resyncs triggered by inconsistent_state_event",
				},
			),
			StateTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "origami_rtu_state_transitions_total",
					Help: "Total startup state machine transitions",
				},
				[]string{"from", "to"},
			),
		}

		registerer.MustRegister(
			m.ConnectAttempts,
			m.Reconnects,
			m.DeltasApplied,
			m.DeltasQueued,
			m.DeltaSubmissions,
			m.SubmissionDuration,
			m.Resyncs,
			m.StateTransitions,
		)

		instance = m
	})

	return instance
}

// RecordConnectAttempt records a transport connect attempt outcome.
func (m *Metrics) RecordConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// RecordReconnect records a transport reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordDeltaApplied records one applied delta.
func (m *Metrics) RecordDeltaApplied(deltaType, deltaAction string) {
	if m == nil {
		return
	}
	m.DeltasApplied.WithLabelValues(deltaType, deltaAction).Inc()
}

// SetDeltasQueued sets the current unapplied-set size.
func (m *Metrics) SetDeltasQueued(n int) {
	if m == nil {
		return
	}
	m.DeltasQueued.Set(float64(n))
}

// RecordDeltaSubmission records a delta submission outcome and its
// round-trip duration.
func (m *Metrics) RecordDeltaSubmission(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeltaSubmissions.WithLabelValues(result).Inc()
	m.SubmissionDuration.Observe(d.Seconds())
}

// RecordResync records a full document resync.
func (m *Metrics) RecordResync() {
	if m == nil {
		return
	}
	m.Resyncs.Inc()
}

// RecordStateTransition records a startup-state-machine transition.
func (m *Metrics) RecordStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}
