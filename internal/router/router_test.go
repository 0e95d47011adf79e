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

package router

import (
	"errors"
	"testing"

	"github.com/noteable-io/origami-go/internal/wire"
)

func TestDispatch_MatchesByEvent(t *testing.T) {
	r := New()
	var got wire.Frame
	calls := 0
	r.Handle("kernel-status", ByEvent(wire.EventKernelStatusUpdate), func(f wire.Frame) error {
		got = f
		calls++
		return nil
	})

	r.Dispatch(wire.Frame{Event: wire.EventKernelStatusUpdate, Channel: "kernels/x"})
	r.Dispatch(wire.Frame{Event: wire.EventNewDeltaEvent, Channel: "files/x"})

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	if got.Channel != "kernels/x" {
		t.Fatalf("got wrong frame: %+v", got)
	}
}

func TestDispatch_OnceRegistrationRemovedAfterMatch(t *testing.T) {
	r := New()
	calls := 0
	r.HandleOnce("reply", ByTransactionID("tx1"), func(f wire.Frame) error {
		calls++
		return nil
	})

	r.Dispatch(wire.Frame{TransactionID: "tx1"})
	r.Dispatch(wire.Frame{TransactionID: "tx1"})

	if calls != 1 {
		t.Fatalf("once handler called %d times, want 1", calls)
	}
	if r.Len() != 0 {
		t.Fatalf("expected registration removed, Len() = %d", r.Len())
	}
}

func TestDispatch_SkipContinuesToNextHandler(t *testing.T) {
	r := New()
	order := []string{}

	r.Handle("first", ByEvent(wire.EventNewDeltaEvent), func(f wire.Frame) error {
		order = append(order, "first")
		return ErrSkip
	})
	r.Handle("second", ByEvent(wire.EventNewDeltaEvent), func(f wire.Frame) error {
		order = append(order, "second")
		return nil
	})

	r.Dispatch(wire.Frame{Event: wire.EventNewDeltaEvent})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected both handlers to run in order, got %v", order)
	}
}

func TestDispatch_HandlerErrorDoesNotStopOtherHandlers(t *testing.T) {
	r := New()
	secondRan := false

	r.Handle("failing", ByEvent(wire.EventNewDeltaEvent), func(f wire.Frame) error {
		return errors.New("boom")
	})
	r.Handle("other", ByEvent(wire.EventNewDeltaEvent), func(f wire.Frame) error {
		secondRan = true
		return nil
	})

	r.Dispatch(wire.Frame{Event: wire.EventNewDeltaEvent})

	if !secondRan {
		t.Fatal("expected second handler to still run after first errored")
	}
	if r.Len() != 2 {
		t.Fatalf("persistent handlers should remain registered, Len() = %d", r.Len())
	}
}

func TestByChannelPrefix_MatchesExactAndNested(t *testing.T) {
	pred := ByChannelPrefix(wire.PrefixFiles)

	if !pred(wire.Frame{Channel: "files/abc-123"}) {
		t.Fatal("expected files/abc-123 to match")
	}
	if pred(wire.Frame{Channel: "filesystem"}) {
		t.Fatal("filesystem should not match files prefix")
	}
	if pred(wire.Frame{Channel: "system"}) {
		t.Fatal("system should not match files prefix")
	}
}

func TestAnyErrorEvent(t *testing.T) {
	pred := AnyErrorEvent()
	if !pred(wire.Frame{Event: wire.EventInconsistentState}) {
		t.Fatal("expected inconsistent_state_event to match")
	}
	if pred(wire.Frame{Event: wire.EventNewDeltaEvent}) {
		t.Fatal("new_delta_event should not match error predicate")
	}
}
