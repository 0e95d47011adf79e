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

	"github.com/noteable-io/origami-go/internal/wire"
)

// kernelTracker holds the last-known kernel state and wakes any
// WaitIdle callers once the kernel reports idle, using the same
// broadcast-by-closing-a-channel idiom as the transport's authenticated
// gate.
type kernelTracker struct {
	mu     sync.Mutex
	state  string
	idlers []chan struct{}
}

func newKernelTracker() *kernelTracker {
	return &kernelTracker{state: wire.KernelNotStarted}
}

// Set records a new kernel state and wakes any idlers if it is idle.
func (k *kernelTracker) Set(state string) {
	k.mu.Lock()
	k.state = state
	var idlers []chan struct{}
	if state == wire.KernelIdle {
		idlers = k.idlers
		k.idlers = nil
	}
	k.mu.Unlock()

	for _, ch := range idlers {
		close(ch)
	}
}

// State returns the last-known kernel state.
func (k *kernelTracker) State() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// WaitIdle blocks until the kernel reports idle or ctx is cancelled.
func (k *kernelTracker) WaitIdle(ctx context.Context) error {
	for {
		k.mu.Lock()
		if k.state == wire.KernelIdle {
			k.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		k.idlers = append(k.idlers, ch)
		k.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cellStateTracker holds the last-known execution state per cell and
// wakes WaitTerminal callers once a cell reaches a terminal execution
// state.
type cellStateTracker struct {
	mu      sync.Mutex
	states  map[string]string
	waiters map[string][]chan struct{}
}

func newCellStateTracker() *cellStateTracker {
	return &cellStateTracker{
		states:  make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Set records cellID's new state and wakes any waiters if it is terminal.
func (c *cellStateTracker) Set(cellID, state string) {
	c.mu.Lock()
	c.states[cellID] = state
	var waiters []chan struct{}
	if wire.IsTerminalExecutionState(state) {
		waiters = c.waiters[cellID]
		delete(c.waiters, cellID)
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Get returns cellID's last-known execution state, or "" if unknown.
func (c *cellStateTracker) Get(cellID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[cellID]
}

// WaitTerminal blocks until cellID reaches a terminal execution state
// (or ctx is cancelled), returning that state.
func (c *cellStateTracker) WaitTerminal(ctx context.Context, cellID string) (string, error) {
	for {
		c.mu.Lock()
		if s, ok := c.states[cellID]; ok && wire.IsTerminalExecutionState(s) {
			c.mu.Unlock()
			return s, nil
		}
		ch := make(chan struct{})
		c.waiters[cellID] = append(c.waiters[cellID], ch)
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
