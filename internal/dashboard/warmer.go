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

package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner trims persisted history.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// WarmerConfig holds the configuration for the cache warmer.
type WarmerConfig struct {
	Service          *Service
	Users            []string
	Interval         time.Duration
	History          Pruner
	HistoryRetention time.Duration
}

// Warmer refreshes configured focus users on a fixed interval so their
// dashboards are served from a fresh cache, and sweeps expired entries.
type Warmer struct {
	svc              *Service
	users            []string
	interval         time.Duration
	history          Pruner
	historyRetention time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWarmer creates a warmer. It does nothing until Start.
func NewWarmer(cfg WarmerConfig) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Warmer{
		svc:              cfg.Service,
		users:            cfg.Users,
		interval:         cfg.Interval,
		history:          cfg.History,
		historyRetention: cfg.HistoryRetention,
	}
}

// WarmOnce refreshes every configured user and sweeps the cache. It returns
// the number of users refreshed successfully.
func (w *Warmer) WarmOnce(ctx context.Context) int {
	ok := 0
	for _, user := range w.users {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.svc.Refresh(ctx, user); err != nil {
			slog.Error("cache warm failed", "focus_user", user, "error", err)
			continue
		}
		ok++
	}

	if n := w.svc.Cache().Sweep(ctx); n > 0 {
		slog.Info("swept expired snapshots", "count", n)
	}
	if w.history != nil && w.historyRetention > 0 {
		if n, err := w.history.Prune(ctx, w.historyRetention); err != nil {
			slog.Warn("history prune failed", "error", err)
		} else if n > 0 {
			slog.Info("pruned snapshot history", "rows", n)
		}
	}
	return ok
}

// Start runs WarmOnce immediately and then on every tick.
func (w *Warmer) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		w.WarmOnce(loopCtx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				w.WarmOnce(loopCtx)
			}
		}
	}()

	slog.Info("cache warmer started", "interval", w.interval, "users", len(w.users))
}

// Stop shuts down the warm loop.
func (w *Warmer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
