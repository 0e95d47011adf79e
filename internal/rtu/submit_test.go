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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noteable-io/origami-go/internal/delta"
	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/router"
	"github.com/noteable-io/origami-go/internal/transport"
	"github.com/noteable-io/origami-go/internal/wire"
)

// squashDelayServer upgrades one connection, reads frames sent to it, and
// for every new_delta_request frame replies with a new_delta_reply success
// ack immediately, then — after ackThenSquashDelay, on its own goroutine —
// broadcasts a new_delta_event carrying that same delta. This reproduces
// the wire protocol's ordering subtlety where ack and squash arrive as two
// independent messages, deliberately out of order.
func squashDelayServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f wire.Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			if f.Event != wire.EventNewDeltaRequest {
				continue
			}
			var req wire.NewDeltaRequestData
			_ = json.Unmarshal(f.Data, &req)

			replyData, _ := json.Marshal(wire.NewDeltaReplyData{Success: true, DeltaID: req.Delta.ID})
			reply := wire.Frame{TransactionID: f.TransactionID, Channel: f.Channel, Event: wire.EventNewDeltaReply, Data: replyData}
			replyBytes, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, replyBytes); err != nil {
				return
			}

			go func(d wire.Delta) {
				time.Sleep(delay)
				eventData, _ := json.Marshal(wire.NewDeltaEventData{Delta: d})
				event := wire.Frame{Channel: f.Channel, Event: wire.EventNewDeltaEvent, Data: eventData}
				eventBytes, _ := json.Marshal(event)
				_ = conn.WriteMessage(websocket.TextMessage, eventBytes)
			}(req.Delta)
		}
	}))
	return srv
}

func newSubmitTestClient(t *testing.T, srv *httptest.Server) (*Client, func()) {
	t.Helper()
	tr := transport.New(transport.Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	tr.OpenGate()

	builder := notebook.NewBuilder(notebook.New(), "")
	c := &Client{
		cfg:           Config{},
		fileID:        "file-1",
		transport:     tr,
		router:        router.New(),
		kernel:        newKernelTracker(),
		cells:         newCellStateTracker(),
		shutdownCh:    make(chan struct{}),
		squashWaiters: make(map[string]chan wire.Delta),
	}
	c.sequencer = delta.NewSequencer(builder, nil, c.onDeltaApplied)
	// Complete catch-up with nothing to apply so broadcast deltas are
	// applied on arrival instead of queued.
	if err := c.sequencer.CatchUp(nil, ""); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	c.registerPersistentHandlers()

	runCtx, runCancel := context.WithCancel(context.Background())
	go c.pumpFrames(runCtx)

	return c, func() { runCancel(); tr.Close(); srv.Close() }
}

// TestAddCell_WaitsForSquashNotJustAck proves AddCell does not return on
// the new_delta_reply ack alone: the server acks immediately but only
// broadcasts the squashing new_delta_event after a delay, and AddCell must
// not return before that event lands.
func TestAddCell_WaitsForSquashNotJustAck(t *testing.T) {
	srv := squashDelayServer(t, 50*time.Millisecond)
	c, cleanup := newSubmitTestClient(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	cell, err := c.AddCell(ctx, "", "code", "print(1)")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("AddCell: %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("AddCell returned after %v, before the squash delay elapsed; it resolved on the ack alone", elapsed)
	}
	if cell.Source != "print(1)" {
		t.Fatalf("cell.Source = %q, want %q", cell.Source, "print(1)")
	}
	if cell.CellType != "code" {
		t.Fatalf("cell.CellType = %q, want code", cell.CellType)
	}

	if got := c.sequencer.Builder().Notebook().FindCell(cell.ID); got == nil {
		t.Fatal("cell not present in local document after AddCell returned")
	}
}

// TestChangeCellType_EmitsTypeThenLanguageDelta confirms a type-and-language
// change submits two independent cell_metadata/replace deltas and resolves
// with the cell reflecting both.
func TestChangeCellType_EmitsTypeThenLanguageDelta(t *testing.T) {
	srv := squashDelayServer(t, 10*time.Millisecond)
	c, cleanup := newSubmitTestClient(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cell, err := c.AddCell(ctx, "", "code", "1+1")
	if err != nil {
		t.Fatalf("AddCell: %v", err)
	}

	updated, err := c.ChangeCellType(ctx, cell.ID, "code", "sql")
	if err != nil {
		t.Fatalf("ChangeCellType: %v", err)
	}
	if updated.CellType != "code" {
		t.Fatalf("CellType = %q, want code", updated.CellType)
	}
	noteable, _ := updated.Metadata["noteable"].(notebook.Metadata)
	if noteable == nil {
		t.Fatalf("metadata.noteable missing or wrong type: %#v", updated.Metadata["noteable"])
	}
	if got := noteable["cell_type"]; got != "sql" {
		t.Fatalf("metadata.noteable.cell_type = %v, want sql", got)
	}
}
