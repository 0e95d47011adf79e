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

// Package auditstore provides an optional Postgres-backed record of
// every delta this client has applied, for post-hoc debugging of a
// session (e.g. "what sequence of deltas produced this document state").
// It is adapted from the subscription store's ensure-schema-then-CRUD
// shape; the record here is an applied-delta entry rather than a Graph
// subscription, and it is purely a side-channel observability sink — the
// in-memory notebook held by internal/notebook.Builder remains the only
// source of truth the client reads from (this client does not persist or
// reload document state from Postgres).
package auditstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one applied-delta audit record.
type Entry struct {
	SessionID     string
	FileID        string
	DeltaID       string
	ParentDeltaID string
	DeltaType     string
	DeltaAction   string
	AppliedAt     time.Time
}

// Store persists Entry records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit store backed by the given pool, ensuring its
// schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS applied_deltas (
			id              BIGSERIAL PRIMARY KEY,
			session_id      TEXT NOT NULL,
			file_id         TEXT NOT NULL,
			delta_id        TEXT NOT NULL,
			parent_delta_id TEXT NOT NULL DEFAULT '',
			delta_type      TEXT NOT NULL,
			delta_action    TEXT NOT NULL,
			applied_at      TIMESTAMPTZ NOT NULL,
			UNIQUE(session_id, delta_id)
		);
		CREATE INDEX IF NOT EXISTS idx_applied_deltas_file ON applied_deltas(file_id);
		CREATE INDEX IF NOT EXISTS idx_applied_deltas_session ON applied_deltas(session_id, applied_at);
	`)
	return err
}

// Record appends one applied-delta entry. A unique-violation on
// (session_id, delta_id) is swallowed: the sequencer may hand the same
// applied delta to the audit sink more than once across a resync, and
// this sink only needs the first observation.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applied_deltas
			(session_id, file_id, delta_id, parent_delta_id, delta_type, delta_action, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, delta_id) DO NOTHING
	`, e.SessionID, e.FileID, e.DeltaID, e.ParentDeltaID, e.DeltaType, e.DeltaAction, e.AppliedAt)
	if err != nil {
		return fmt.Errorf("record applied delta %s: %w", e.DeltaID, err)
	}
	return nil
}

// History returns every recorded delta for a session, in application
// order, for offline debugging (consumed by cmd/rtu-replay).
func (s *Store) History(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, file_id, delta_id, parent_delta_id, delta_type, delta_action, applied_at
		FROM applied_deltas
		WHERE session_id = $1
		ORDER BY applied_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.FileID, &e.DeltaID, &e.ParentDeltaID, &e.DeltaType, &e.DeltaAction, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
