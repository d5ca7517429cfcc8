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
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/priority/internal/models"
)

// TestRedisBackend_RoundTrip runs against a real Redis when
// PRIORITY_TEST_REDIS_URL is set.
func TestRedisBackend_RoundTrip(t *testing.T) {
	url := os.Getenv("PRIORITY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PRIORITY_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	b := NewRedisBackend(rdb, time.Minute)
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	defer b.DeleteAll(ctx)

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := b.Store(ctx, "alice", snapshot("alice", at, "A-1"), at); err != nil {
		t.Fatalf("store: %v", err)
	}

	snap, storedAt, err := b.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap == nil || snap.Badges[0].ID != "A-1" || !storedAt.Equal(at) {
		t.Fatalf("unexpected load result: %+v at %v", snap, storedAt)
	}

	if err := rdb.Set(ctx, keyPrefix+"mallory", "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt payload: %v", err)
	}
	if _, _, err := b.Load(ctx, "mallory"); !errors.Is(err, models.ErrCacheCorruption) {
		t.Errorf("err = %v, want ErrCacheCorruption", err)
	}

	if err := b.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if snap, _, _ := b.Load(ctx, "alice"); snap != nil {
		t.Error("snapshot survived DeleteAll")
	}
}
