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

// Package dashboard is the service boundary consumed by the HTTP API and
// the chat assistant. It resolves the focus user, serves snapshots from the
// cache, and on a miss fans out to every source adapter, aggregates the
// results and stores the new snapshot.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/cache"
	"github.com/bcem/priority/internal/events"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/history"
	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
	"github.com/bcem/priority/internal/scoring"
	"github.com/bcem/priority/internal/sources"
)

// DefaultSourceTimeout bounds a single adapter call.
const DefaultSourceTimeout = 10 * time.Second

// IdentityResolver maps a focus user to the identities it owns.
type IdentityResolver interface {
	Resolve(ctx context.Context, focusUser string) (identity.Identity, error)
}

// EventPublisher receives dashboard notifications.
type EventPublisher interface {
	Publish(e events.Event)
}

// HealthTracker records per-source outcomes.
type HealthTracker interface {
	Observe(source models.Source, err error)
	Snapshot() map[models.Source]health.SourceHealth
}

// HistoryStore persists snapshots for change reports.
type HistoryStore interface {
	Record(ctx context.Context, snap *models.AggregationSnapshot) error
	Previous(ctx context.Context, focusUser string, before time.Time) (*history.Entry, error)
}

// AlertNotifier is told about every refreshed snapshot.
type AlertNotifier interface {
	Notify(ctx context.Context, snap *models.AggregationSnapshot) (int, error)
}

// Config wires the service. Adapters, Identities and Cache are required in
// practice; every other collaborator is optional.
type Config struct {
	Adapters      []sources.Adapter
	Identities    IdentityResolver
	Scoring       scoring.Params
	Capacity      aggregate.CapacityConfig
	Cache         cache.Config
	SourceTimeout time.Duration
	Greeter       Greeter
	Events        EventPublisher
	Health        HealthTracker
	History       HistoryStore
	Alerts        AlertNotifier
	Now           func() time.Time
}

// Service implements dashboard, report, workload, urgent and cache clear.
type Service struct {
	adapters      []sources.Adapter
	identities    IdentityResolver
	aggregator    atomic.Pointer[aggregate.Aggregator]
	cache         *cache.Cache
	sourceTimeout time.Duration
	greeter       Greeter
	events        EventPublisher
	health        HealthTracker
	history       HistoryStore
	alerts        AlertNotifier
	now           func() time.Time
}

// New creates the service and its snapshot cache.
func New(cfg Config) *Service {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Greeter == nil {
		cfg.Greeter = TimeOfDayGreeter{}
	}

	s := &Service{
		adapters:      cfg.Adapters,
		identities:    cfg.Identities,
		sourceTimeout: cfg.SourceTimeout,
		greeter:       cfg.Greeter,
		events:        cfg.Events,
		health:        cfg.Health,
		history:       cfg.History,
		alerts:        cfg.Alerts,
		now:           cfg.Now,
	}
	s.aggregator.Store(aggregate.New(scoring.NewScorer(cfg.Scoring), cfg.Capacity))

	cacheCfg := cfg.Cache
	cacheCfg.Validate = s.validate
	cacheCfg.OnStore = s.afterRefresh
	if cacheCfg.Now == nil {
		cacheCfg.Now = cfg.Now
	}
	s.cache = cache.New(cacheCfg)
	return s
}

// Cache exposes the snapshot cache for maintenance loops.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// validate rejects snapshots that break their own invariants under the
// current scoring tiers.
func (s *Service) validate(snap *models.AggregationSnapshot) error {
	return snap.Validate(s.aggregator.Load().Scorer().Tier)
}

// UpdateScoring swaps in new scoring and capacity parameters. Every cached
// snapshot was ranked with the old parameters, so the cache is cleared. A
// model equal to the active one is ignored and reports changed=false.
func (s *Service) UpdateScoring(ctx context.Context, params scoring.Params, capacity aggregate.CapacityConfig) (changed bool, err error) {
	next := aggregate.New(scoring.NewScorer(params), capacity)
	if err := next.Scorer().Params().Tiers.Validate(); err != nil {
		return false, fmt.Errorf("update scoring: %w", err)
	}
	cur := s.aggregator.Load()
	if reflect.DeepEqual(cur.Scorer().Params(), next.Scorer().Params()) && cur.CapacityConfig() == next.CapacityConfig() {
		slog.Debug("scoring parameters unchanged")
		return false, nil
	}
	s.aggregator.Store(next)
	dropped := s.cache.InvalidateAll(ctx)
	slog.Info("scoring parameters updated", "dropped_snapshots", dropped)
	return true, nil
}

// Scoring returns the active scoring parameters.
func (s *Service) Scoring() scoring.Params {
	return s.aggregator.Load().Scorer().Params()
}

// load returns the snapshot for focusUser. Stale entries are served as is;
// when refreshStale is set a background refresh is started as well.
func (s *Service) load(ctx context.Context, focusUser string, refreshStale bool) (*models.AggregationSnapshot, identity.Identity, bool, error) {
	if err := identity.Validate(focusUser); err != nil {
		return nil, identity.Identity{}, false, err
	}
	if focusUser == "" {
		return nil, identity.Identity{}, false, fmt.Errorf("%w: no focus user", models.ErrNoDataAvailable)
	}

	id, err := s.identities.Resolve(ctx, focusUser)
	if err != nil {
		return nil, identity.Identity{}, false, fmt.Errorf("resolve %s: %w", focusUser, err)
	}

	if e, ok := s.cache.Get(ctx, focusUser); ok {
		if !e.Fresh && refreshStale {
			s.cache.RefreshAsync(ctx, focusUser, s.refreshFunc(focusUser, id))
		}
		return e.Snapshot, id, !e.Fresh, nil
	}

	e, err := s.cache.Fill(ctx, focusUser, s.refreshFunc(focusUser, id))
	if err != nil {
		return nil, id, false, s.missError(focusUser, err)
	}
	return e.Snapshot, id, false, nil
}

func (s *Service) missError(focusUser string, err error) error {
	if errors.Is(err, models.ErrSourceUnavailable) {
		return fmt.Errorf("%w: every source failed for %s and nothing is cached", models.ErrNoDataAvailable, focusUser)
	}
	return err
}

// Refresh forces a coalesced refresh for focusUser regardless of freshness.
// If every source fails the cached snapshot, if any, is left in place.
func (s *Service) Refresh(ctx context.Context, focusUser string) (*models.AggregationSnapshot, error) {
	if err := identity.Validate(focusUser); err != nil {
		return nil, err
	}
	if focusUser == "" {
		return nil, fmt.Errorf("%w: no focus user", models.ErrNoDataAvailable)
	}
	id, err := s.identities.Resolve(ctx, focusUser)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", focusUser, err)
	}
	snap, err := s.cache.Refresh(ctx, focusUser, s.refreshFunc(focusUser, id))
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", focusUser, err)
	}
	return snap, nil
}

// refreshFunc runs one aggregation cycle for id. The snapshot carries
// focusUser exactly as requested, matching its cache key.
func (s *Service) refreshFunc(focusUser string, id identity.Identity) cache.RefreshFunc {
	return func(ctx context.Context) (*models.AggregationSnapshot, error) {
		results := s.fetchAll(ctx, id)
		if aggregate.AllFailed(results) {
			return nil, fmt.Errorf("%w: all %d sources failed", models.ErrSourceUnavailable, len(results))
		}

		snap := s.aggregator.Load().Aggregate(focusUser, id, results, s.now())
		slog.Info("aggregated snapshot",
			"focus_user", focusUser,
			"badges", len(snap.Badges),
			"capacity", snap.CapacityIndicator.Level,
			"failed_sources", snap.FailedSources(),
		)
		return snap, nil
	}
}

// fetchAll calls every adapter concurrently. Each call is bounded by the
// source timeout; failures are captured in the result, never returned.
func (s *Service) fetchAll(ctx context.Context, id identity.Identity) []aggregate.SourceResult {
	results := make([]aggregate.SourceResult, len(s.adapters))

	var g errgroup.Group
	for i, a := range s.adapters {
		g.Go(func() error {
			results[i] = s.fetchOne(ctx, a, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) fetchOne(ctx context.Context, a sources.Adapter, id identity.Identity) aggregate.SourceResult {
	src := a.Source()
	start := s.now()

	t := timeout.New[sources.Batch](timeout.Config{DefaultTimeout: s.sourceTimeout})
	batch, err := t.Execute(ctx, s.sourceTimeout, func(ctx context.Context) (sources.Batch, error) {
		return a.Fetch(ctx, id)
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if s.health != nil {
		s.health.Observe(src, err)
	}
	if err != nil {
		slog.Warn("source fetch failed",
			"source", src,
			"focus_user", id.FocusUser,
			"elapsed", s.now().Sub(start),
			"error", err,
		)
		return aggregate.SourceResult{
			Source:    src,
			FetchedAt: start,
			Err:       fmt.Errorf("%w: %s: %v", models.ErrSourceUnavailable, src, err),
		}
	}

	res := normalize.Normalize(src, batch.Records)
	if res.Dropped > 0 {
		slog.Debug("dropped malformed records", "source", src, "dropped", res.Dropped)
	}
	fetchedAt := batch.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = start
	}
	return aggregate.SourceResult{
		Source:    src,
		Items:     res.Items,
		Dropped:   res.Dropped,
		FetchedAt: fetchedAt,
	}
}

// afterRefresh fans a newly stored snapshot out to history, alerts and
// subscribers. None of these can fail the refresh.
func (s *Service) afterRefresh(ctx context.Context, _ string, snap *models.AggregationSnapshot) {
	if s.history != nil {
		if err := s.history.Record(ctx, snap); err != nil {
			slog.Warn("failed to record snapshot history", "focus_user", snap.FocusUser, "error", err)
		}
	}
	if s.alerts != nil {
		if _, err := s.alerts.Notify(ctx, snap); err != nil {
			slog.Warn("failed to publish alerts", "focus_user", snap.FocusUser, "error", err)
		}
	}
	if s.events != nil {
		capacity := snap.CapacityIndicator
		s.events.Publish(events.Event{
			Type:      events.SnapshotRefreshed,
			FocusUser: snap.FocusUser,
			Capacity:  &capacity,
			Failed:    snap.FailedSources(),
		})
	}
}
