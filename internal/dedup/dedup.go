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

// Package dedup provides delta-id deduplication using a Redis SET with
// TTL, so a delta rebroadcast by the server (e.g. after a reconnect
// replays recent history) is not re-applied twice, using the classic
// SETNX advisory-lock pattern keyed on delta id rather than a
// content hash.
//
// Deduplication here is strictly an optimization: internal/delta.Sequencer
// already rejects any delta whose parent does not chain from
// last_applied_delta_id, so even total Redis unavailability only costs
// redundant apply_delta attempts on an identical delta id, never a
// correctness violation.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a delta id is remembered. An RTU session
	// is expected to run far shorter than this in steady state; the TTL
	// exists only to bound memory for long-lived connections.
	DefaultTTL = 1 * time.Hour

	keyPrefix = "origami-rtu:seen-delta:"
)

// Filter tracks which delta ids have already been applied in Redis.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by an existing Redis client.
// A nil rdb is valid and yields a Filter whose IsNew always reports new
// (dedup disabled, e.g. when dedup_redis_url is unset).
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew satisfies internal/delta.Dedup. It reports true (treat as new)
// whenever Redis is unavailable or unconfigured, per the package-level
// safety note above.
func (f *Filter) IsNew(id string) bool {
	if f.rdb == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := keyPrefix + id
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		slog.Warn("dedup: redis SETNX failed, treating delta as new", "delta_id", id, "error", err)
		return true
	}
	return set
}
