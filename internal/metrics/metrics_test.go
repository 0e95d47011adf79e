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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersAllCollectorsExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := New(reg)
	m2 := New(reg)

	if m1 != m2 {
		t.Fatal("New should return the same singleton instance on repeated calls")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestMetrics_RecordMethodsUpdateCounters(t *testing.T) {
	m := &Metrics{
		ConnectAttempts:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_connect_attempts"}, []string{"result"}),
		Reconnects:         prometheus.NewCounter(prometheus.CounterOpts{Name: "t_reconnects"}),
		DeltasApplied:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_deltas_applied"}, []string{"delta_type", "delta_action"}),
		DeltasQueued:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "t_deltas_queued"}),
		DeltaSubmissions:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_delta_submissions"}, []string{"result"}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "t_submission_duration"}),
		Resyncs:            prometheus.NewCounter(prometheus.CounterOpts{Name: "t_resyncs"}),
		StateTransitions:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_state_transitions"}, []string{"from", "to"}),
	}

	m.RecordConnectAttempt("success")
	m.RecordReconnect()
	m.RecordDeltaApplied("nb-cells", "add")
	m.SetDeltasQueued(3)
	m.RecordDeltaSubmission("accepted", 50*time.Millisecond)
	m.RecordResync()
	m.RecordStateTransition("connected", "authenticated")

	if got := testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("success")); got != 1 {
		t.Fatalf("ConnectAttempts[success] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DeltasQueued); got != 3 {
		t.Fatalf("DeltasQueued = %v, want 3", got)
	}
}

func TestMetrics_NilReceiverMethodsAreNoOps(t *testing.T) {
	var m *Metrics

	// None of these should panic on a nil *Metrics: every call site in
	// internal/rtu treats metrics as optional.
	m.RecordConnectAttempt("success")
	m.RecordReconnect()
	m.RecordDeltaApplied("nb-cells", "add")
	m.SetDeltasQueued(1)
	m.RecordDeltaSubmission("accepted", time.Second)
	m.RecordResync()
	m.RecordStateTransition("a", "b")
}
