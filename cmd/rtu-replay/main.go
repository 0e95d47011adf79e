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

// Origami RTU — Delta Replay Command
//
// Standalone CLI tool that prints the recorded delta history for one
// audit session, in application order, for offline debugging of a
// notebook's edit history.
//
// Usage:
//
//	go run ./cmd/rtu-replay/ --session <session-id> [--dsn postgres://...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noteable-io/origami-go/internal/auditstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	sessionFlag := flag.String("session", "", "audit session id to replay (required)")
	dsnFlag := flag.String("dsn", os.Getenv("AUDIT_POSTGRES_DSN"), "Postgres DSN (default: $AUDIT_POSTGRES_DSN)")
	flag.Parse()

	if *sessionFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --session is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *dsnFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --dsn or $AUDIT_POSTGRES_DSN is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("connecting to audit store", "session", *sessionFlag)

	pool, err := pgxpool.New(ctx, *dsnFlag)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := auditstore.NewStore(ctx, pool)
	if err != nil {
		slog.Error("failed to initialise audit store", "error", err)
		os.Exit(1)
	}

	entries, err := store.History(ctx, *sessionFlag)
	if err != nil {
		slog.Error("failed to fetch history", "error", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		slog.Warn("no recorded deltas for session", "session", *sessionFlag)
		return
	}

	for i, e := range entries {
		fmt.Printf("%4d  %s  %-10s %-8s delta=%s parent=%s file=%s\n",
			i+1,
			e.AppliedAt.Format(time.RFC3339),
			e.DeltaType,
			e.DeltaAction,
			e.DeltaID,
			e.ParentDeltaID,
			e.FileID,
		)
	}

	slog.Info("replay complete", "session", *sessionFlag, "deltas", len(entries))
}
