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

// Package delta enforces the linearization invariant
// on the incoming delta stream: it reorders a possibly out-of-order
// stream of deltas into a strict causal chain and applies them to the
// Notebook Builder.
//
// The mutex-guarded unapplied-set-plus-causal-chain shape mirrors a
// dedup-and-sync cache: "inconsistent_state_event means full resync" is
// the same recovery pattern as "token invalidation means full resync",
// driven one level up by internal/rtu.
package delta

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/wire"
)

// Dedup is the optional interface internal/dedup.Filter satisfies. A nil
// Dedup disables the optimization entirely — every delta id is treated
// as new, which is always safe because the causal-chain check below is
// the real authority.
type Dedup interface {
	// IsNew reports whether id has not been seen before in this epoch,
	// and marks it seen as a side effect.
	IsNew(id string) bool
}

// Sequencer orders incoming deltas by parent-pointer causality and
// applies them to a notebook.Builder.
type Sequencer struct {
	mu sync.Mutex

	builder *notebook.Builder
	dedup   Dedup

	catchUpComplete bool
	unapplied       []wire.Delta

	onApplied func(d wire.Delta, pendingCount int)
}

// NewSequencer constructs a Sequencer around an existing Builder.
// onApplied, if non-nil, is called synchronously after every delta the
// sequencer applies (used by internal/rtu to resolve submission futures
// and by internal/metrics to count applications), while s.mu is still
// held — it is passed the resulting pending-queue length directly rather
// than leaving the callback to call back into PendingCount, which would
// deadlock on the same mutex.
func NewSequencer(builder *notebook.Builder, dedup Dedup, onApplied func(d wire.Delta, pendingCount int)) *Sequencer {
	return &Sequencer{
		builder:   builder,
		dedup:     dedup,
		onApplied: onApplied,
	}
}

// Builder returns the underlying builder.
func (s *Sequencer) Builder() *notebook.Builder { return s.builder }

// OnIncomingDelta handles a delta received from the network: it queues
// the delta if its parent hasn't been applied yet, or applies it (and
// replays anything now unblocked) if the parent is already current.
func (s *Sequencer) OnIncomingDelta(d wire.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedup != nil && !s.dedup.IsNew(d.ID) {
		slog.Debug("delta sequencer: dropping already-seen delta id", "delta_id", d.ID)
		return nil
	}

	if !s.catchUpComplete {
		s.unapplied = append(s.unapplied, d)
		return nil
	}
	return s.queueOrApply(d)
}

// CatchUp processes the subscribe reply's deltas_to_apply (in order),
// seeds last_applied_delta_id from latest_delta_id if the builder still
// has none, marks catch-up complete, and drains anything that arrived
// concurrently.
func (s *Sequencer) CatchUp(deltasToApply []wire.Delta, latestDeltaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltasToApply {
		if err := s.queueOrApply(d); err != nil {
			return fmt.Errorf("catch-up: %w", err)
		}
	}

	if s.builder.LastAppliedDeltaID() == "" && latestDeltaID != "" && latestDeltaID != wire.RootDeltaID {
		s.seedLastApplied(latestDeltaID)
	}

	s.catchUpComplete = true
	s.replayLocked()
	return nil
}

// seedLastApplied is used only when the builder has applied nothing yet
// and the subscribe reply's latest_delta_id establishes the chain head
// without a corresponding Delta object to apply.
func (s *Sequencer) seedLastApplied(latestDeltaID string) {
	s.builder.SeedLastAppliedDeltaID(latestDeltaID)
}

// isChainHead reports whether d is the next delta to apply given last,
// the current last_applied_delta_id. An empty last means nothing has
// been applied yet, so only a genuine root delta (no logical parent)
// can seed the chain — a non-root delta arriving first must wait for
// its real root, not be treated as one.
func isChainHead(d wire.Delta, last string) bool {
	if last == "" {
		return d.IsRoot()
	}
	return d.ParentDeltaID == last
}

// queueOrApply applies d immediately if its parent is already the chain
// head, otherwise buffers it in the unapplied set for later replay.
// Caller must hold s.mu.
func (s *Sequencer) queueOrApply(d wire.Delta) error {
	last := s.builder.LastAppliedDeltaID()

	if isChainHead(d, last) {
		if err := s.apply(d); err != nil {
			return err
		}
		s.replayLocked()
		return nil
	}

	s.unapplied = append(s.unapplied, d)
	return nil
}

func (s *Sequencer) apply(d wire.Delta) error {
	if err := s.builder.ApplyDelta(d); err != nil {
		return fmt.Errorf("apply_delta %s: %w", d.ID, err)
	}
	if s.onApplied != nil {
		s.onApplied(d, len(s.unapplied))
	}
	return nil
}

// replayLocked scans the unapplied set; whenever an element's parent
// equals the current last_applied_delta_id, it is applied, removed, and
// the scan restarts. It terminates when no element matches. Caller must
// hold s.mu.
func (s *Sequencer) replayLocked() {
	for {
		last := s.builder.LastAppliedDeltaID()
		idx := -1
		for i, d := range s.unapplied {
			if isChainHead(d, last) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}

		// Tie-break: if more than one queued delta shares this parent,
		// the first encountered in scan order wins; log the rest as
		// orphaned candidates for this round.
		for i, d := range s.unapplied {
			if i != idx && isChainHead(d, last) {
				slog.Warn("delta sequencer: sibling delta shares parent with applied delta, may orphan",
					"applied_delta_id", s.unapplied[idx].ID,
					"sibling_delta_id", d.ID,
					"parent_delta_id", last,
				)
			}
		}

		next := s.unapplied[idx]
		s.unapplied = append(s.unapplied[:idx], s.unapplied[idx+1:]...)

		if err := s.apply(next); err != nil {
			slog.Error("delta sequencer: replay failed, delta left unapplied",
				"delta_id", next.ID,
				"error", err,
			)
			return
		}
	}
}

// PendingCount returns the number of deltas currently queued awaiting
// their parent (for metrics/diagnostics).
func (s *Sequencer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unapplied)
}

// Reset rebuilds the sequencer around a fresh builder and clears all
// queued state — used by the inconsistent-state resync protocol.
func (s *Sequencer) Reset(builder *notebook.Builder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder = builder
	s.unapplied = nil
	s.catchUpComplete = false
}
