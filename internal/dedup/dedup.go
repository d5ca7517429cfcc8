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

// Package dedup remembers which critical badges have already been alerted
// using Redis SETNX keys with a TTL, so every refresh cycle can re-offer the
// same badge without paging the user twice.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/priority/internal/models"
)

const (
	// DefaultTTL is how long an alerted badge stays suppressed.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "priority:alerted:"
)

// Filter tracks which badges have already been alerted.
type Filter struct {
	setNX func(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ttl   time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		setNX: func(ctx context.Context, key string, ttl time.Duration) (bool, error) {
			return rdb.SetNX(ctx, key, 1, ttl).Result()
		},
		ttl: ttl,
	}
}

// Key builds the dedup key for one badge of one focus user.
func Key(focusUser string, source models.Source, id string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, strings.ToLower(focusUser), source, id)
}

// IsNew returns true if the badge has NOT been alerted before. If true, the
// badge is marked as alerted atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, focusUser string, source models.Source, id string) (bool, error) {
	set, err := f.setNX(ctx, Key(focusUser, source, id), f.ttl)
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}
