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
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noteable-io/origami-go/internal/router"
	"github.com/noteable-io/origami-go/internal/transport"
	"github.com/noteable-io/origami-go/internal/wire"
)

// blackHoleServer upgrades and never replies, so any requestReply call
// against it blocks until cancelled some other way.
func blackHoleServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv
}

func newConnectedTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	srv := blackHoleServer(t)

	tr := transport.New(transport.Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	tr.OpenGate()

	c := &Client{
		transport:     tr,
		router:        router.New(),
		kernel:        newKernelTracker(),
		cells:         newCellStateTracker(),
		shutdownCh:    make(chan struct{}),
		squashWaiters: make(map[string]chan wire.Delta),
		log:           slog.Default(),
	}
	return c, func() { tr.Close(); srv.Close() }
}

func TestRequestReply_ShutdownNowUnblocksPendingCall(t *testing.T) {
	c, cleanup := newConnectedTestClient(t)
	defer cleanup()

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errCh <- c.requestReply(ctx, "system", "ping_request", struct{}{}, "pong_reply", nil, false)
	}()

	// Give the goroutine time to register its HandleOnce and block on Send/select.
	time.Sleep(50 * time.Millisecond)
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })

	wg.Wait()
	err := <-errCh
	if !IsCancelled(err) {
		t.Fatalf("requestReply error = %v, want a CancelledError", err)
	}
}

func TestRequestReply_ContextCancellationStillWorksAlongsideShutdownChannel(t *testing.T) {
	c, cleanup := newConnectedTestClient(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.requestReply(ctx, "system", "ping_request", struct{}{}, "pong_reply", nil, false)
	if err == nil {
		t.Fatal("expected requestReply to fail once the context deadline passes")
	}
	if IsCancelled(err) {
		t.Fatal("a plain context timeout should not be reported as CancelledError")
	}
}
