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

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/priority/internal/models"
)

// keyPrefix namespaces snapshot keys in Redis.
const keyPrefix = "priority:snapshot:"

// RedisBackend shares snapshots between service instances. Keys expire after
// the retention window.
type RedisBackend struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisBackend creates a Redis-backed second level.
func NewRedisBackend(rdb *redis.Client, retention time.Duration) *RedisBackend {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisBackend{rdb: rdb, retention: retention}
}

type storedSnapshot struct {
	StoredAt time.Time                   `json:"stored_at"`
	Snapshot *models.AggregationSnapshot `json:"snapshot"`
}

// Load returns the shared snapshot for key, or nil if there is none.
// Undecodable payloads are reported as ErrCacheCorruption.
func (b *RedisBackend) Load(ctx context.Context, key string) (*models.AggregationSnapshot, time.Time, error) {
	data, err := b.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis GET: %w", err)
	}

	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: decode snapshot: %v", models.ErrCacheCorruption, err)
	}
	if stored.Snapshot == nil || stored.StoredAt.IsZero() {
		return nil, time.Time{}, fmt.Errorf("%w: incomplete snapshot payload", models.ErrCacheCorruption)
	}
	return stored.Snapshot, stored.StoredAt, nil
}

// Store writes the snapshot with the retention window as expiry.
func (b *RedisBackend) Store(ctx context.Context, key string, snap *models.AggregationSnapshot, storedAt time.Time) error {
	data, err := json.Marshal(storedSnapshot{StoredAt: storedAt, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.rdb.Set(ctx, keyPrefix+key, data, b.retention).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

// Delete removes one snapshot.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// DeleteAll removes every snapshot key.
func (b *RedisBackend) DeleteAll(ctx context.Context) error {
	iter := b.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := b.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis DEL: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN: %w", err)
	}
	if len(batch) > 0 {
		if err := b.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis DEL: %w", err)
		}
	}
	return nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.rdb.Ping(ctx).Err()
}
