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

// Package router dispatches inbound RTU frames to registered handlers by
// predicate (transaction id, event name, channel prefix), mirroring the
// webhook package's ServeHTTP-then-fan-out shape but keyed on frame
// content rather than HTTP path.
package router

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/noteable-io/origami-go/internal/wire"
)

// ErrSkip is returned by a Handler to indicate it was not actually
// interested in this frame; the router moves on to the next registered
// handler rather than treating it as an error.
var ErrSkip = errors.New("router: handler skipped frame")

// Predicate reports whether a handler wants to see frame f.
type Predicate func(f wire.Frame) bool

// Handler processes a frame the Predicate selected it for. Returning
// ErrSkip tells the router to keep scanning remaining handlers; any
// other non-nil error is logged and scanning also continues — a single
// handler's failure must never block delivery to the rest.
type Handler func(f wire.Frame) error

type registration struct {
	id        uint64
	name      string
	predicate Predicate
	handler   Handler
	once      bool
}

// Router holds an ordered set of predicate/handler registrations and
// dispatches each inbound frame to every matching one in registration
// order. Safe for concurrent use: registrations are commonly added from
// request/reply callers while Dispatch runs on the frame-pump goroutine.
type Router struct {
	mu     sync.Mutex
	nextID uint64
	regs   []registration
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers a persistent handler under name, for diagnostics.
func (r *Router) Handle(name string, pred Predicate, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.regs = append(r.regs, registration{id: r.nextID, name: name, predicate: pred, handler: h})
}

// HandleOnce registers a handler that is automatically removed from the
// router the first time its predicate matches and its handler returns a
// non-ErrSkip result — used for one-shot transaction-id correlated
// replies.
func (r *Router) HandleOnce(name string, pred Predicate, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.regs = append(r.regs, registration{id: r.nextID, name: name, predicate: pred, handler: h, once: true})
}

// Dispatch routes f to every registered handler whose predicate matches,
// in registration order. A handler returning ErrSkip is treated as "not
// for me" and does not stop the scan. once-registrations that ran (with
// a non-ErrSkip result) are removed afterward. Frames matching nothing
// are logged at debug level — this is not an error, since the router has
// no notion of which events a caller cares about.
func (r *Router) Dispatch(f wire.Frame) {
	r.mu.Lock()
	regs := make([]registration, len(r.regs))
	copy(regs, r.regs)
	r.mu.Unlock()

	matched := false
	fired := make(map[uint64]bool)

	for _, reg := range regs {
		if !reg.predicate(f) {
			continue
		}

		matched = true
		err := reg.handler(f)
		skipped := errors.Is(err, ErrSkip)
		if err != nil && !skipped {
			slog.Error("router: handler returned error",
				"handler", reg.name,
				"channel", f.Channel,
				"event", f.Event,
				"error", err,
			)
		}

		if reg.once && !skipped {
			fired[reg.id] = true
		}
	}

	if len(fired) > 0 {
		r.mu.Lock()
		remaining := r.regs[:0:0]
		for _, reg := range r.regs {
			if !fired[reg.id] {
				remaining = append(remaining, reg)
			}
		}
		r.regs = remaining
		r.mu.Unlock()
	}

	if !matched {
		slog.Debug("router: no handler matched frame",
			"channel", f.Channel,
			"event", f.Event,
			"transaction_id", f.TransactionID,
		)
	}
}

// Len reports the number of currently registered handlers (for tests and
// diagnostics, e.g. detecting a leaked one-shot registration).
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}
