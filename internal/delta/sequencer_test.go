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

package delta

import (
	"encoding/json"
	"testing"

	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/wire"
)

func nbMetadataDelta(id, parent string, path []string, value interface{}) wire.Delta {
	props, _ := json.Marshal(wire.CellMetadataUpdateProperties{Path: path, Value: value})
	return wire.Delta{
		ID:            id,
		ParentDeltaID: parent,
		DeltaType:     wire.DeltaTypeNBMetadata,
		DeltaAction:   wire.ActionUpdate,
		Properties:    props,
	}
}

// TestSequencer_OrderingScenarioA covers deltas arriving wire-out-of-order:
// they must all apply, ending with last_applied_delta_id == D5.id and an
// empty unapplied queue.
func TestSequencer_OrderingScenarioA(t *testing.T) {
	builder := notebook.NewBuilder(notebook.New(), "")
	seq := NewSequencer(builder, nil, nil)

	d1 := nbMetadataDelta("D1", wire.RootDeltaID, []string{"k"}, 1)
	d2 := nbMetadataDelta("D2", "D1", []string{"k"}, 2)
	d3 := nbMetadataDelta("D3", "D2", []string{"k"}, 3)
	d4 := nbMetadataDelta("D4", "D3", []string{"k"}, 4)
	d5 := nbMetadataDelta("D5", "D4", []string{"k"}, 5)

	// catch-up completes with an empty deltas_to_apply list so every
	// delta below arrives via OnIncomingDelta, matching the scenario's
	// "wire order" framing.
	if err := seq.CatchUp(nil, ""); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}

	for _, d := range []wire.Delta{d2, d5, d4, d3, d1} {
		if err := seq.OnIncomingDelta(d); err != nil {
			t.Fatalf("OnIncomingDelta(%s): %v", d.ID, err)
		}
	}

	if got := builder.LastAppliedDeltaID(); got != "D5" {
		t.Fatalf("last_applied_delta_id = %q, want D5", got)
	}
	if n := seq.PendingCount(); n != 0 {
		t.Fatalf("pending count = %d, want 0", n)
	}
}

func TestSequencer_QueuesBeforeCatchUp(t *testing.T) {
	builder := notebook.NewBuilder(notebook.New(), "")
	seq := NewSequencer(builder, nil, nil)

	d1 := nbMetadataDelta("D1", wire.RootDeltaID, []string{"k"}, 1)
	if err := seq.OnIncomingDelta(d1); err != nil {
		t.Fatalf("OnIncomingDelta: %v", err)
	}
	if builder.LastAppliedDeltaID() != "" {
		t.Fatal("delta should not apply before catch-up completes")
	}

	if err := seq.CatchUp(nil, ""); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if builder.LastAppliedDeltaID() != "D1" {
		t.Fatalf("last_applied_delta_id = %q, want D1", builder.LastAppliedDeltaID())
	}
}

func TestSequencer_CatchUpSeedsLatestDeltaIDWhenEmpty(t *testing.T) {
	builder := notebook.NewBuilder(notebook.New(), "")
	seq := NewSequencer(builder, nil, nil)

	if err := seq.CatchUp(nil, "seed-delta"); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if builder.LastAppliedDeltaID() != "seed-delta" {
		t.Fatalf("last_applied_delta_id = %q, want seed-delta", builder.LastAppliedDeltaID())
	}
}

type countingDedup struct {
	seen map[string]bool
}

func newCountingDedup() *countingDedup { return &countingDedup{seen: map[string]bool{}} }

func (c *countingDedup) IsNew(id string) bool {
	if c.seen[id] {
		return false
	}
	c.seen[id] = true
	return true
}

func TestSequencer_DedupDropsRedeliveredDelta(t *testing.T) {
	builder := notebook.NewBuilder(notebook.New(), "")
	dd := newCountingDedup()
	applied := 0
	seq := NewSequencer(builder, dd, func(d wire.Delta, pendingCount int) { applied++ })

	if err := seq.CatchUp(nil, ""); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}

	d1 := nbMetadataDelta("D1", wire.RootDeltaID, []string{"k"}, 1)
	if err := seq.OnIncomingDelta(d1); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := seq.OnIncomingDelta(d1); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if applied != 1 {
		t.Fatalf("onApplied called %d times, want 1", applied)
	}
}
