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

// Package cache stores the last aggregation snapshot per focus user. Reads
// inside the freshness window never touch the sources; concurrent refreshes
// for the same key are coalesced into one upstream call.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bcem/priority/internal/models"
)

const (
	// DefaultTTL is the freshness window for a snapshot.
	DefaultTTL = 60 * time.Second

	// DefaultRetention is how long a stale snapshot may still be served.
	DefaultRetention = 24 * time.Hour
)

// Entry is a cached snapshot as seen by a reader. Snapshot is a private copy.
type Entry struct {
	Snapshot *models.AggregationSnapshot
	StoredAt time.Time
	Fresh    bool
}

// RefreshFunc produces a new snapshot for a key.
type RefreshFunc func(ctx context.Context) (*models.AggregationSnapshot, error)

// Backend is an optional shared second level behind the in-memory map.
type Backend interface {
	Load(ctx context.Context, key string) (*models.AggregationSnapshot, time.Time, error)
	Store(ctx context.Context, key string, snap *models.AggregationSnapshot, storedAt time.Time) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
}

// Config holds cache settings.
type Config struct {
	TTL       time.Duration
	Retention time.Duration
	Backend   Backend
	// Validate checks snapshot invariants; failing snapshots are discarded.
	Validate func(*models.AggregationSnapshot) error
	// OnStore runs after a refresh result has been stored.
	OnStore func(ctx context.Context, key string, snap *models.AggregationSnapshot)
	Now     func() time.Time
}

type entry struct {
	snap     *models.AggregationSnapshot
	storedAt time.Time
}

// Cache owns every AggregationSnapshot. All mutation goes through Put,
// Invalidate, InvalidateAll and refreshes.
type Cache struct {
	ttl       time.Duration
	retention time.Duration
	backend   Backend
	validate  func(*models.AggregationSnapshot) error
	onStore   func(context.Context, string, *models.AggregationSnapshot)
	now       func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	epoch     uint64
	keyEpochs map[string]uint64
	inflight  map[string]int

	group singleflight.Group
	wg    sync.WaitGroup
}

// New creates a cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Retention < cfg.TTL {
		cfg.Retention = DefaultRetention
		if cfg.Retention < cfg.TTL {
			cfg.Retention = cfg.TTL
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		ttl:       cfg.TTL,
		retention: cfg.Retention,
		backend:   cfg.Backend,
		validate:  cfg.Validate,
		onStore:   cfg.OnStore,
		now:       cfg.Now,
		entries:   make(map[string]entry),
		keyEpochs: make(map[string]uint64),
		inflight:  make(map[string]int),
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached snapshot for key. Expired or corrupt entries are
// evicted and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok && c.backend != nil {
		e, ok = c.loadBackend(ctx, key)
	}
	if !ok {
		return Entry{}, false
	}

	now := c.now()
	age := now.Sub(e.storedAt)
	if age > c.retention {
		c.evict(ctx, key, e)
		return Entry{}, false
	}
	if err := c.check(e.snap); err != nil {
		slog.Error("discarding corrupt cached snapshot", "focus_user", key, "error", err)
		c.evict(ctx, key, e)
		return Entry{}, false
	}

	return Entry{
		Snapshot: e.snap.Clone(),
		StoredAt: e.storedAt,
		Fresh:    age <= c.ttl,
	}, true
}

// Put stores snap for key, replacing any previous snapshot as a whole.
func (c *Cache) Put(ctx context.Context, key string, snap *models.AggregationSnapshot) {
	c.mu.Lock()
	token := c.tokenLocked(key)
	c.mu.Unlock()
	c.putIfCurrent(ctx, key, snap, token)
}

// Invalidate drops the snapshot for one key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.keyEpochs[key]++
	c.mu.Unlock()
	c.group.Forget(key)

	if c.backend != nil {
		if err := c.backend.Delete(ctx, key); err != nil {
			slog.Warn("cache backend delete failed", "focus_user", key, "error", err)
		}
	}
}

// InvalidateAll drops every snapshot unconditionally. Refreshes already in
// flight finish but their results are not stored.
func (c *Cache) InvalidateAll(ctx context.Context) int {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[string]entry)
	c.epoch++
	pending := make([]string, 0, len(c.inflight))
	for key := range c.inflight {
		pending = append(pending, key)
	}
	c.mu.Unlock()

	for _, key := range pending {
		c.group.Forget(key)
	}

	if c.backend != nil {
		if err := c.backend.DeleteAll(ctx); err != nil {
			slog.Warn("cache backend clear failed", "error", err)
		}
	}
	return dropped
}

// Refresh runs fn for key, coalescing concurrent callers into one call. All
// waiters receive the same snapshot. A cancelled caller stops waiting but does
// not cancel the shared refresh.
func (c *Cache) Refresh(ctx context.Context, key string, fn RefreshFunc) (*models.AggregationSnapshot, error) {
	return c.do(ctx, key, fn, false)
}

// Fill returns the cached entry for key or, on a miss, waits for a coalesced
// refresh. A caller that missed just before another flight stored its
// result reuses that result instead of starting a second upstream call.
func (c *Cache) Fill(ctx context.Context, key string, fn RefreshFunc) (Entry, error) {
	if e, ok := c.Get(ctx, key); ok {
		return e, nil
	}
	snap, err := c.do(ctx, key, fn, true)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Snapshot: snap, StoredAt: c.now(), Fresh: true}, nil
}

func (c *Cache) do(ctx context.Context, key string, fn RefreshFunc, reuse bool) (*models.AggregationSnapshot, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if reuse {
			if snap, ok := c.peek(key); ok {
				return snap, nil
			}
		}
		return c.run(flightCtx, key, fn)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AggregationSnapshot).Clone(), nil
	}
}

// RefreshAsync starts a coalesced refresh in the background. Errors are
// logged; the stale entry stays in place.
func (c *Cache) RefreshAsync(ctx context.Context, key string, fn RefreshFunc) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Refresh(context.WithoutCancel(ctx), key, fn); err != nil {
			slog.Warn("background refresh failed", "focus_user", key, "error", err)
		}
	}()
}

// Wait blocks until background refreshes have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Sweep evicts entries older than the retention window.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	var expired []string
	for key, e := range c.entries {
		if now.Sub(e.storedAt) > c.retention {
			delete(c.entries, key)
			expired = append(expired, key)
		}
	}
	c.mu.Unlock()

	if c.backend != nil {
		for _, key := range expired {
			_ = c.backend.Delete(ctx, key)
		}
	}
	return len(expired)
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type epochToken struct {
	global uint64
	key    uint64
}

func (c *Cache) tokenLocked(key string) epochToken {
	return epochToken{global: c.epoch, key: c.keyEpochs[key]}
}

func (c *Cache) run(ctx context.Context, key string, fn RefreshFunc) (*models.AggregationSnapshot, error) {
	c.mu.Lock()
	token := c.tokenLocked(key)
	c.inflight[key]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[key]--; c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	snap, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.New("refresh returned no snapshot")
	}
	if c.putIfCurrent(ctx, key, snap, token) && c.onStore != nil {
		c.onStore(ctx, key, snap.Clone())
	}
	return snap, nil
}

// putIfCurrent stores snap unless key was invalidated after token was taken.
func (c *Cache) putIfCurrent(ctx context.Context, key string, snap *models.AggregationSnapshot, token epochToken) bool {
	stored := snap.Clone()
	storedAt := c.now()

	c.mu.Lock()
	if c.tokenLocked(key) != token {
		c.mu.Unlock()
		slog.Debug("dropping snapshot from invalidated refresh", "focus_user", key)
		return false
	}
	c.entries[key] = entry{snap: stored, storedAt: storedAt}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Store(ctx, key, stored, storedAt); err != nil {
			slog.Warn("cache backend store failed", "focus_user", key, "error", err)
		}
	}
	return true
}

func (c *Cache) loadBackend(ctx context.Context, key string) (entry, bool) {
	c.mu.RLock()
	token := c.tokenLocked(key)
	c.mu.RUnlock()

	snap, storedAt, err := c.backend.Load(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrCacheCorruption) {
			slog.Error("discarding corrupt shared snapshot", "focus_user", key, "error", err)
			_ = c.backend.Delete(ctx, key)
		} else {
			slog.Warn("cache backend load failed", "focus_user", key, "error", err)
		}
		return entry{}, false
	}
	if snap == nil {
		return entry{}, false
	}

	e := entry{snap: snap, storedAt: storedAt}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenLocked(key) != token {
		return entry{}, false
	}
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = e
	}
	return e, true
}

// peek returns the in-memory snapshot for key if it is still fresh.
func (c *Cache) peek(key string) (*models.AggregationSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) > c.ttl || c.check(e.snap) != nil {
		return nil, false
	}
	return e.snap, true
}

func (c *Cache) check(snap *models.AggregationSnapshot) error {
	if snap == nil {
		return models.ErrCacheCorruption
	}
	if c.validate == nil {
		return nil
	}
	return c.validate(snap)
}

func (c *Cache) evict(ctx context.Context, key string, e entry) {
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur.snap == e.snap {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if c.backend != nil {
		_ = c.backend.Delete(ctx, key)
	}
}
