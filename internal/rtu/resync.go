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

	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/wire"
)

// subscribeFiles sends subscribe_request on the file's channel and feeds
// the resulting catch-up set into the sequencer.
func (c *Client) subscribeFiles(ctx context.Context, req wire.SubscribeRequestData) error {
	var reply wire.SubscribeReplyData
	if err := c.requestReply(ctx, wire.FilesChannel(c.fileID), wire.EventSubscribeRequest, req, wire.EventSubscribeReply, &reply, false); err != nil {
		return err
	}

	if err := c.sequencer.CatchUp(reply.DeltasToApply, reply.LatestDeltaID); err != nil {
		return fmt.Errorf("catch up delta chain: %w", err)
	}
	for cellID, state := range reply.CellStates {
		c.cells.Set(cellID, state)
	}
	return nil
}

// subscribeKernel subscribes to the file's kernel status channel. The
// kernel channel carries no catch-up payload of its own — it only
// broadcasts status changes from this point forward.
func (c *Client) subscribeKernel(ctx context.Context) error {
	req := wire.SubscribeRequestData{}
	var reply wire.SubscribeReplyData
	return c.requestReply(ctx, wire.KernelChannel(c.fileID), wire.EventSubscribeRequest, req, wire.EventSubscribeReply, &reply, false)
}

// resync recovers from a server-reported inconsistent_state_event (or a
// reconnect) by discarding the local document and rebuilding it from a
// freshly fetched seed, then resubscribing from the new baseline.
func (c *Client) resync() {
	start := time.Now()
	c.setState(StateResyncing)
	c.metrics.RecordResync()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FileSubscribeTimeout)
	defer cancel()

	meta, body, err := c.rest.FetchSeedNotebook(ctx, c.fileID)
	if err != nil {
		c.log.Error("rtu: resync failed to fetch seed notebook", "error", err)
		return
	}
	nb, err := notebook.ParseNotebook(body)
	if err != nil {
		c.log.Error("rtu: resync failed to parse seed notebook", "error", err)
		return
	}

	builder := notebook.NewBuilder(nb, "")
	c.sequencer.Reset(builder)

	if err := c.subscribeFiles(ctx, wire.SubscribeRequestData{FromVersionID: meta.CurrentVersionID}); err != nil {
		c.log.Error("rtu: resync failed to resubscribe files channel", "error", err)
		return
	}
	if err := c.subscribeKernel(ctx); err != nil {
		c.log.Error("rtu: resync failed to resubscribe kernel channel", "error", err)
		return
	}

	c.setState(StateSteady)
	c.log.Info("rtu: resync complete", "took", time.Since(start))
}
