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

package rtu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noteable-io/origami-go/internal/wire"
)

func TestKernelTracker_WaitIdleReturnsImmediatelyWhenAlreadyIdle(t *testing.T) {
	k := newKernelTracker()
	k.Set(wire.KernelIdle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := k.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestKernelTracker_WaitIdleWakesOnTransition(t *testing.T) {
	k := newKernelTracker()
	k.Set(wire.KernelBusy)

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errCh <- k.WaitIdle(ctx)
	}()

	k.Set(wire.KernelIdle)
	wg.Wait()

	if err := <-errCh; err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestKernelTracker_WaitIdleRespectsContextCancellation(t *testing.T) {
	k := newKernelTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := k.WaitIdle(ctx); err == nil {
		t.Fatal("expected WaitIdle to report the cancelled context")
	}
}

func TestCellStateTracker_WaitTerminalWakesOnTerminalState(t *testing.T) {
	c := newCellStateTracker()
	c.Set("cell-1", "busy") // non-terminal intermediate state

	var wg sync.WaitGroup
	wg.Add(1)
	type result struct {
		state string
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s, err := c.WaitTerminal(ctx, "cell-1")
		resCh <- result{s, err}
	}()

	c.Set("cell-1", wire.ExecFinishedNoError)
	wg.Wait()

	res := <-resCh
	if res.err != nil {
		t.Fatalf("WaitTerminal: %v", res.err)
	}
	if res.state != wire.ExecFinishedNoError {
		t.Fatalf("got state %q, want %q", res.state, wire.ExecFinishedNoError)
	}
}

func TestCellStateTracker_GetReturnsEmptyForUnknownCell(t *testing.T) {
	c := newCellStateTracker()
	if got := c.Get("missing"); got != "" {
		t.Fatalf("Get(missing) = %q, want empty", got)
	}
}

func TestCellStateTracker_WaitTerminalRespectsContextCancellation(t *testing.T) {
	c := newCellStateTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.WaitTerminal(ctx, "cell-1"); err == nil {
		t.Fatal("expected WaitTerminal to report the cancelled context")
	}
}
