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
	"fmt"
	"time"

	"github.com/noteable-io/origami-go/internal/delta"
	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/wire"
)

// Initialize opens fileID: it connects the transport, authenticates,
// fetches the seed document, subscribes to the file and kernel channels,
// and catches the notebook builder up to the current delta chain. It
// returns once the client has reached StateSteady.
func (c *Client) Initialize(ctx context.Context, fileID string) error {
	c.fileID = fileID
	c.log = c.log.With("file_id", fileID)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.transport.Run(runCtx); err != nil {
		cancel()
		return fmt.Errorf("connect transport: %w", err)
	}
	c.setState(StateConnected)
	c.metrics.RecordConnectAttempt("success")

	c.wg.Add(1)
	go c.pumpFrames(runCtx)

	c.wg.Add(1)
	go c.watchConnEvents(runCtx)

	authCtx, cancelAuth := context.WithTimeout(ctx, c.cfg.FileSubscribeTimeout)
	err := c.authenticate(authCtx)
	cancelAuth()
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	c.transport.OpenGate()
	c.setState(StateAuthenticated)

	meta, body, err := c.rest.FetchSeedNotebook(ctx, fileID)
	if err != nil {
		return fmt.Errorf("fetch seed notebook: %w", err)
	}
	nb, err := notebook.ParseNotebook(body)
	if err != nil {
		return fmt.Errorf("parse seed notebook: %w", err)
	}
	builder := notebook.NewBuilder(nb, "")
	c.sequencer = delta.NewSequencer(builder, c.dedupAdapter(), c.onDeltaApplied)

	subCtx, cancelSub := context.WithTimeout(ctx, c.cfg.FileSubscribeTimeout)
	err = c.subscribeFiles(subCtx, wire.SubscribeRequestData{FromVersionID: meta.CurrentVersionID})
	cancelSub()
	if err != nil {
		return fmt.Errorf("subscribe files channel: %w", err)
	}
	c.setState(StateCaughtUp)

	kernelCtx, cancelKernel := context.WithTimeout(ctx, c.cfg.FileSubscribeTimeout)
	err = c.subscribeKernel(kernelCtx)
	cancelKernel()
	if err != nil {
		return fmt.Errorf("subscribe kernel channel: %w", err)
	}

	c.setState(StateSteady)
	return nil
}

// pumpFrames drains inbound frames into the router until the transport's
// frame channel closes (connection permanently torn down) or ctx is
// cancelled.
func (c *Client) pumpFrames(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case f, ok := <-c.transport.Frames():
			if !ok {
				return
			}
			c.router.Dispatch(f)
		case <-ctx.Done():
			return
		}
	}
}

// watchConnEvents re-drives the startup state machine on connection loss
// and re-authenticates after a reconnect, since the RTU server expects a
// fresh authenticate_request on every new websocket connection.
func (c *Client) watchConnEvents(ctx context.Context) {
	defer c.wg.Done()
	// The first Connected event is the initial connect, which Initialize
	// authenticates itself.
	initialSeen := false
	for {
		select {
		case ev, ok := <-c.transport.Events():
			if !ok {
				return
			}
			if !ev.Connected {
				c.log.Warn("rtu: connection lost", "error", ev.Err)
				c.setState(StateDisconnected)
				c.metrics.RecordReconnect()
				continue
			}
			if !initialSeen {
				initialSeen = true
				continue
			}

			c.log.Info("rtu: connection (re)established")
			c.setState(StateConnected)
			go c.reauthenticateAndResync(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// reauthenticateAndResync runs the post-reconnect recovery path: the
// server holds no state across a dropped connection, so the client must
// authenticate again and then resync exactly as it would after an
// inconsistent_state_event.
func (c *Client) reauthenticateAndResync(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.FileSubscribeTimeout)
	defer cancel()

	if err := c.authenticate(ctx); err != nil {
		c.log.Error("rtu: re-authentication after reconnect failed", "error", err)
		return
	}
	c.transport.OpenGate()
	c.setState(StateAuthenticated)
	c.resync()
}

func (c *Client) authenticate(ctx context.Context) error {
	c.setState(StateAuthSent)
	token, err := c.cfg.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	var reply wire.AuthenticateReplyData
	req := wire.AuthenticateRequestData{
		Token:         token.AccessToken,
		RTUClientType: c.cfg.CreatorClientType,
	}
	if err := c.requestReply(ctx, wire.PrefixSystem, wire.EventAuthenticateRequest, req, wire.EventAuthenticateReply, &reply, true); err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("authentication rejected")
	}

	c.whoami(ctx)
	return nil
}

// whoami binds the authenticated user id into this client's log context.
// It is best-effort: a failure here never aborts authentication, it just
// means log lines go without a user_id field. Sent raw because it runs
// immediately after authenticate_reply, before the caller has opened the
// outbound gate.
func (c *Client) whoami(ctx context.Context) {
	var reply wire.WhoamiReplyData
	if err := c.requestReply(ctx, wire.PrefixSystem, wire.EventWhoamiRequest, struct{}{}, wire.EventWhoamiReply, &reply, true); err != nil {
		c.log.Warn("rtu: whoami failed", "error", err)
		return
	}
	c.log = c.log.With("user_id", reply.UserID)
}

// dedupAdapter adapts cfg.Dedup (which may be nil) to internal/delta's
// Dedup interface, preserving "nil means always new".
func (c *Client) dedupAdapter() delta.Dedup {
	if c.cfg.Dedup == nil {
		return alwaysNewDedup{}
	}
	return c.cfg.Dedup
}

type alwaysNewDedup struct{}

func (alwaysNewDedup) IsNew(string) bool { return true }

// Shutdown tears down the connection and waits for background goroutines
// to exit. When now is false, it waits (bounded by ctx) for the
// transport's outbound buffer to drain before closing, so an in-flight
// submission already handed to the transport still reaches the wire.
// When now is true, it closes immediately and every request/reply call
// still waiting on a server response resolves with a CancelledError.
func (c *Client) Shutdown(ctx context.Context, now bool) error {
	if now {
		c.shutdownOnce.Do(func() { close(c.shutdownCh) })
	}

	if now {
		c.transport.Close()
	} else {
		remaining := 5 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if d := time.Until(dl); d > 0 {
				remaining = d
			}
		}
		c.transport.Drain(remaining)
	}

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
