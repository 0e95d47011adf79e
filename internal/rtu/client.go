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

// Package rtu composes the transport, router, notebook builder, and
// delta sequencer into the realtime collaborative-notebook client: it
// drives the connect/authenticate/subscribe/catch-up startup sequence,
// tracks kernel and cell execution state, submits local edits as
// deltas, and resyncs the whole document when the server reports it has
// drifted out of a consistent state.
package rtu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/noteable-io/origami-go/internal/auditstore"
	"github.com/noteable-io/origami-go/internal/delta"
	"github.com/noteable-io/origami-go/internal/dedup"
	"github.com/noteable-io/origami-go/internal/metrics"
	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/restapi"
	"github.com/noteable-io/origami-go/internal/router"
	"github.com/noteable-io/origami-go/internal/transport"
	"github.com/noteable-io/origami-go/internal/wire"
)

// Config configures a Client.
type Config struct {
	// APIBaseURL is the notebook service's HTTP(S) base URL; the
	// websocket RTU endpoint is derived from it.
	APIBaseURL string

	// TokenSource supplies the bearer token used both for REST calls and
	// for the in-band authenticate_request.
	TokenSource oauth2.TokenSource

	// CreatorClientType identifies this client in authenticate_request.
	// Defaults to wire.ClientTypeUnknown.
	CreatorClientType string

	// FileSubscribeTimeout bounds how long Initialize waits for each
	// request/reply round trip (authenticate, subscribe). Defaults to
	// 10s.
	FileSubscribeTimeout time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the transport's
	// reconnect backoff. Zero values fall back to transport's own
	// defaults.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// SessionID labels this client's audit entries. Defaults to a
	// generated uuid.
	SessionID string

	// Dedup, Audit, and Metrics are optional ambient sinks. Nil disables
	// each independently.
	Dedup   *dedup.Filter
	Audit   *auditstore.Store
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.CreatorClientType == "" {
		c.CreatorClientType = wire.ClientTypeUnknown
	}
	if c.FileSubscribeTimeout <= 0 {
		c.FileSubscribeTimeout = 10 * time.Second
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// Client is a single notebook's realtime connection: one Client per
// open document.
type Client struct {
	cfg Config

	rest      *restapi.Client
	transport *transport.Transport
	router    *router.Router
	sequencer *delta.Sequencer

	metrics *metrics.Metrics
	audit   *auditstore.Store

	fileID string

	// log is bound once per Client with rtu_session_id (and, once
	// Initialize has a fileID, file_id) so every log line for this
	// connection carries that context without threading a logger through
	// every method call.
	log *slog.Logger

	stateMu sync.Mutex
	state   State

	kernel *kernelTracker
	cells  *cellStateTracker

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// shutdownCh is closed exactly once, by Shutdown(ctx, now=true), to
	// wake any in-flight requestReply call with a CancelledError instead
	// of leaving it to time out against its own caller-supplied context.
	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	// squashWaiters maps a submitted delta's id to the channel submitDelta
	// is blocked on. onDeltaApplied (the Sequencer's onApplied callback)
	// signals the matching waiter, if any, the moment that delta id is
	// actually squashed into the builder — this is what ties wire
	// acknowledgement to local document convergence, since a
	// new_delta_reply ack alone does not mean the document has converged.
	squashMu      sync.Mutex
	squashWaiters map[string]chan wire.Delta
}

// New builds a Client. Call Initialize to open a document.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	rtuURL, err := transport.DeriveRTUURL(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("derive rtu url: %w", err)
	}

	m := cfg.Metrics

	c := &Client{
		cfg:  cfg,
		rest: restapi.New(cfg.APIBaseURL, cfg.TokenSource),
		transport: transport.New(transport.Config{
			URL:                rtuURL,
			ReconnectBaseDelay: cfg.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
			PingInterval:       30 * time.Second,
		}),
		router:        router.New(),
		metrics:       m,
		audit:         cfg.Audit,
		kernel:        newKernelTracker(),
		cells:         newCellStateTracker(),
		shutdownCh:    make(chan struct{}),
		squashWaiters: make(map[string]chan wire.Delta),
		log:           slog.With("rtu_session_id", cfg.SessionID),
	}

	c.registerPersistentHandlers()
	return c, nil
}

// registerPersistentHandlers wires the handlers that live for the whole
// connection, independent of any in-flight request/reply correlation.
func (c *Client) registerPersistentHandlers() {
	c.router.Handle("applied-delta-broadcast",
		router.And(router.ByChannelPrefix(wire.PrefixFiles), router.ByEvent(wire.EventNewDeltaEvent)),
		c.onNewDeltaEvent,
	)
	c.router.Handle("kernel-status",
		router.And(router.ByChannelPrefix(wire.PrefixKernels), router.ByEvent(wire.EventKernelStatusUpdate)),
		c.onKernelStatusUpdate,
	)
	c.router.Handle("bulk-cell-state",
		router.And(router.ByChannelPrefix(wire.PrefixFiles), router.ByEvent(wire.EventBulkCellStateUpdate)),
		c.onBulkCellStateUpdate,
	)
	c.router.Handle("inconsistent-state",
		router.ByEvent(wire.EventInconsistentState),
		c.onInconsistentState,
	)
}

func (c *Client) onNewDeltaEvent(f wire.Frame) error {
	var data wire.NewDeltaEventData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return fmt.Errorf("decode new_delta_event: %w", err)
	}
	if c.sequencer == nil {
		return router.ErrSkip
	}
	if err := c.sequencer.OnIncomingDelta(data.Delta); err != nil {
		c.log.Error("rtu: failed to apply incoming delta", "delta_id", data.Delta.ID, "error", err)
	}
	return nil
}

func (c *Client) onKernelStatusUpdate(f wire.Frame) error {
	var data wire.KernelStatusUpdateData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return fmt.Errorf("decode kernel_status_update_event: %w", err)
	}
	c.kernel.Set(data.KernelState)
	return nil
}

func (c *Client) onBulkCellStateUpdate(f wire.Frame) error {
	var data wire.BulkCellStateUpdateData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return fmt.Errorf("decode bulk_cell_state_update_event: %w", err)
	}
	for _, entry := range data.CellStates {
		c.cells.Set(entry.CellID, entry.State)
	}
	return nil
}

func (c *Client) onInconsistentState(f wire.Frame) error {
	c.log.Warn("rtu: server reported inconsistent state, resyncing")
	go c.resync()
	return nil
}

// onDeltaApplied is the Sequencer's onApplied callback: it records
// metrics and an audit entry for every delta actually applied to the
// document, whether it originated locally or from another collaborator,
// and resolves any submitDelta call waiting on this delta id being
// squashed. Called synchronously while the Sequencer's internal lock is
// held, so it must never call back into the Sequencer.
func (c *Client) onDeltaApplied(d wire.Delta, pendingCount int) {
	c.metrics.RecordDeltaApplied(d.DeltaType, d.DeltaAction)
	c.metrics.SetDeltasQueued(pendingCount)
	c.resolveSquash(d)

	if c.audit == nil {
		return
	}
	entry := auditstore.Entry{
		SessionID:     c.cfg.SessionID,
		FileID:        d.FileID,
		DeltaID:       d.ID,
		ParentDeltaID: d.ParentDeltaID,
		DeltaType:     d.DeltaType,
		DeltaAction:   d.DeltaAction,
		AppliedAt:     time.Now().UTC(),
	}
	if err := c.audit.Record(context.Background(), entry); err != nil {
		c.log.Warn("rtu: failed to record audit entry", "delta_id", d.ID, "error", err)
	}
}

// Notebook returns the live document. Callers must not mutate it
// directly; use the Client's cell operations instead.
func (c *Client) Notebook() *notebook.Notebook {
	if c.sequencer == nil {
		return nil
	}
	return c.sequencer.Builder().Notebook()
}

// KernelState returns the last-known kernel state.
func (c *Client) KernelState() string { return c.kernel.State() }

// CellState returns cellID's last-known execution state, or "" if
// unknown.
func (c *Client) CellState(cellID string) string { return c.cells.Get(cellID) }

// WaitForKernelIdle blocks until the kernel reports idle or ctx is
// cancelled.
func (c *Client) WaitForKernelIdle(ctx context.Context) error {
	return c.kernel.WaitIdle(ctx)
}

// registerSquashWaiter arranges for submitDelta to learn the moment
// deltaID is squashed into the builder, however it gets there — via this
// client's own new_delta_event broadcast, or (per the wire protocol's own
// ordering subtlety) one that races ahead of the new_delta_reply ack.
// Must be called before the request is sent, to close the window between
// send and registration.
func (c *Client) registerSquashWaiter(deltaID string) chan wire.Delta {
	ch := make(chan wire.Delta, 1)
	c.squashMu.Lock()
	c.squashWaiters[deltaID] = ch
	c.squashMu.Unlock()
	return ch
}

// unregisterSquashWaiter removes deltaID's waiter, if still present. Safe
// to call after the waiter has already fired or been abandoned.
func (c *Client) unregisterSquashWaiter(deltaID string) {
	c.squashMu.Lock()
	delete(c.squashWaiters, deltaID)
	c.squashMu.Unlock()
}

// resolveSquash signals d's waiter, if any is currently registered.
func (c *Client) resolveSquash(d wire.Delta) {
	c.squashMu.Lock()
	ch, ok := c.squashWaiters[d.ID]
	if ok {
		delete(c.squashWaiters, d.ID)
	}
	c.squashMu.Unlock()

	if ok {
		ch <- d
	}
}

// WaitForCellExecution blocks until cellID reaches a terminal execution
// state (or ctx is cancelled), returning that state.
func (c *Client) WaitForCellExecution(ctx context.Context, cellID string) (string, error) {
	return c.cells.WaitTerminal(ctx, cellID)
}
