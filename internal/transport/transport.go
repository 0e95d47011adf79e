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

// Package transport maintains the single persistent bidirectional
// connection to the RTU endpoint: a single reader goroutine, a single
// writer goroutine draining a FIFO outbound buffer, and an
// exponential-backoff reconnect loop. It is adapted from
// the reconnect-maintenance shape of Alpaca's market data stream client
// (maintainConnection/connReader/connWriter), re-keyed on RTU frames
// instead of trade/quote messages, with a cancel-func-plus-WaitGroup
// lifecycle for Run/Close.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noteable-io/origami-go/internal/wire"
)

// ErrPermanent wraps a connect failure the transport will not retry —
// e.g. a 401 on the websocket upgrade.
var ErrPermanent = errors.New("transport: permanent connect failure")

// ErrClosed is returned by Send after Close has been called.
var ErrClosed = errors.New("transport: closed")

// Config configures a Transport.
type Config struct {
	// URL is the RTU websocket endpoint (ws:// or wss://).
	URL string

	// Header is sent on the upgrade request (e.g. no auth here — RTU
	// authenticates in-band over the connection itself, not via HTTP
	// headers).
	Header http.Header

	// OutboundBufferSize bounds the outbound FIFO; Send blocks once full
	// rather than growing unbounded.
	OutboundBufferSize int

	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential
	// backoff between reconnect attempts.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// PingInterval, when non-zero, sends a websocket ping control frame on
	// this period. No pong deadline is enforced; a failed ping write stops
	// the pings but does not close the connection.
	PingInterval time.Duration

	// Dialer is overridable for tests; defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.OutboundBufferSize <= 0 {
		c.OutboundBufferSize = 256
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// ConnEvent is delivered on Transport.Events() whenever the underlying
// connection is established or lost, so internal/rtu can re-drive its
// startup state machine: any connection loss falls back to disconnected,
// and a successful reconnect returns to the connected state.
type ConnEvent struct {
	Connected bool
	Err       error // populated when Connected is false and the loss was an error
}

// Transport owns one websocket connection and reconnects it for the
// lifetime of the process until Close is called.
type Transport struct {
	cfg Config

	frames chan wire.Frame // inbound, delivered to the router
	events chan ConnEvent
	out    chan []byte // outbound FIFO, pre-serialized

	// gate is open once the RTU Client signals authentication succeeded;
	// outbound sends block on it first. SendRaw bypasses the gate
	// entirely for the authenticate_request frame itself.
	gateMu sync.Mutex
	gate   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Transport. Call Run to start the connect/reconnect
// loop, which keeps running until ctx is cancelled or Close is called.
func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:    cfg,
		frames: make(chan wire.Frame, 64),
		events: make(chan ConnEvent, 8),
		out:    make(chan []byte, cfg.OutboundBufferSize),
		gate:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Frames returns the channel of inbound frames. The caller (the router)
// must keep draining it.
func (t *Transport) Frames() <-chan wire.Frame { return t.frames }

// Events returns connection-lifecycle notifications.
func (t *Transport) Events() <-chan ConnEvent { return t.events }

// OpenGate releases any outbound sends queued since the last CloseGate
// and lets subsequent Send calls reach the wire immediately. Called once
// AUTH_SENT transitions to AUTHENTICATED.
func (t *Transport) OpenGate() {
	t.gateMu.Lock()
	defer t.gateMu.Unlock()
	select {
	case <-t.gate:
		// already open
	default:
		close(t.gate)
	}
}

// CloseGate re-arms the gate after a reconnect, so outbound messages
// queue again until the client re-authenticates.
func (t *Transport) CloseGate() {
	t.gateMu.Lock()
	defer t.gateMu.Unlock()
	select {
	case <-t.gate:
		t.gate = make(chan struct{})
	default:
	}
}

// Send enqueues f for the writer goroutine in FIFO order, blocking the
// caller only on the outbound buffer (never on network I/O). It waits
// for the authenticated gate to be open first.
func (t *Transport) Send(ctx context.Context, f wire.Frame) error {
	return t.enqueue(ctx, f, true)
}

// SendRaw enqueues f bypassing the authenticated gate — used for the
// authenticate_request frame itself and the whoami_request that follows
// it, so queued outbound traffic cannot race authentication.
func (t *Transport) SendRaw(ctx context.Context, f wire.Frame) error {
	return t.enqueue(ctx, f, false)
}

func (t *Transport) enqueue(ctx context.Context, f wire.Frame, gated bool) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	if gated {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return ErrClosed
		}
	}

	select {
	case t.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrClosed
	}
}

// Run connects and maintains the connection until ctx is cancelled. It
// blocks until the first connect attempt resolves (success or permanent
// failure) and continues reconnecting with exponential backoff in the
// background thereafter.
func (t *Transport) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	initial := make(chan error, 1)
	t.wg.Add(1)
	go t.maintain(runCtx, initial)

	select {
	case err := <-initial:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the connection and stops all reconnect attempts.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.cancel != nil {
			t.cancel()
		}
	})
	t.wg.Wait()
}

// Drain waits for the outbound buffer to empty (so already-enqueued
// frames reach the wire) before closing, up to timeout. It gives up and
// closes immediately once timeout elapses, same as Close.
func (t *Transport) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for len(t.out) > 0 && time.Now().Before(deadline) {
		<-ticker.C
	}
	t.Close()
}

func (t *Transport) maintain(ctx context.Context, initial chan<- error) {
	defer t.wg.Done()
	defer close(t.events)
	defer close(t.frames)

	attempt := 0
	firstResultSent := false
	sendInitial := func(err error) {
		if !firstResultSent {
			initial <- err
			firstResultSent = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			sendInitial(ctx.Err())
			return
		default:
		}

		if attempt > 0 {
			delay := backoff(t.cfg.ReconnectBaseDelay, t.cfg.ReconnectMaxDelay, attempt)
			slog.Info("transport: reconnecting", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				sendInitial(ctx.Err())
				return
			}
		}

		conn, err := t.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrPermanent) {
				slog.Error("transport: permanent connect failure", "error", err)
				sendInitial(err)
				return
			}
			slog.Warn("transport: connect failed, will retry", "error", err, "attempt", attempt)
			attempt++
			t.events <- ConnEvent{Connected: false, Err: err}
			continue
		}

		attempt = 0
		t.CloseGate()
		t.events <- ConnEvent{Connected: true}
		sendInitial(nil)

		lost := t.runConnection(ctx, conn)
		t.events <- ConnEvent{Connected: false, Err: lost}
		if ctx.Err() != nil {
			return
		}
		attempt = 1
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: upgrade rejected with HTTP %d", ErrPermanent, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redactURL(t.cfg.URL), err)
	}
	return conn, nil
}

// runConnection drives one connection's reader and writer until either
// fails, then blocks until both have exited.
func (t *Transport) runConnection(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errCh <- t.readLoop(connCtx, conn) }()
	go func() { defer wg.Done(); errCh <- t.writeLoop(connCtx, conn) }()

	if t.cfg.PingInterval > 0 {
		wg.Add(1)
		go func() { defer wg.Done(); t.pingLoop(connCtx, conn) }()
	}

	var first error
	select {
	case first = <-errCh:
	case <-ctx.Done():
		first = ctx.Err()
	}
	cancel()
	conn.Close()
	wg.Wait()
	return first
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("transport: dropping malformed frame", "error", err)
			continue
		}

		select {
		case t.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-t.out:
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Warn("transport: ping failed", "error", err)
				return
			}
		}
	}
}

// backoff computes exponential delay with full jitter, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(minInt(attempt, 20)))
	if d > max || d <= 0 {
		d = max
	}
	jittered := time.Duration(rand.Int63n(int64(d)))
	if jittered < base {
		jittered = base
	}
	return jittered
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// redactURL drops any userinfo/query from a URL before it lands in logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// DeriveRTUURL converts an HTTP(S) API base URL into the websocket RTU
// endpoint by replacing the scheme with its websocket equivalent and
// appending /v1/rtu.
func DeriveRTUURL(apiBaseURL string) (string, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api_base_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
		// already a websocket scheme
	default:
		return "", fmt.Errorf("unsupported api_base_url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/rtu"
	return u.String(), nil
}
