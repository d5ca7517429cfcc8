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

// Priority Service
//
// Entry point for the priority aggregation service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to Redis (shared cache, alert queue) and PostgreSQL (history) when configured
//  3. Builds the JIRA, Outlook and Confluence adapters
//  4. Serves the dashboard API, event stream and health check
//  5. Keeps configured dashboards warm and reloads scoring on config changes
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/priority/internal/access"
	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/api"
	"github.com/bcem/priority/internal/cache"
	"github.com/bcem/priority/internal/config"
	"github.com/bcem/priority/internal/dashboard"
	"github.com/bcem/priority/internal/dedup"
	"github.com/bcem/priority/internal/events"
	"github.com/bcem/priority/internal/graph"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/history"
	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/queue"
	"github.com/bcem/priority/internal/scoring"
	"github.com/bcem/priority/internal/sources"
	"github.com/bcem/priority/internal/sources/atlassian"
	"github.com/bcem/priority/internal/sources/confluence"
	"github.com/bcem/priority/internal/sources/jira"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting priority service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"users", len(cfg.Users),
		"cache_ttl", cfg.CacheTTL,
		"source_timeout", cfg.SourceTimeout,
		"graph", cfg.Graph.Enabled(),
		"jira", cfg.Jira.Enabled(),
		"confluence", cfg.Confluence.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := map[string]api.Pinger{}
	svcCfg := dashboard.Config{
		Scoring:       cfg.Scoring,
		Capacity:      cfg.Capacity,
		SourceTimeout: cfg.SourceTimeout,
		Cache: cache.Config{
			TTL:       cfg.CacheTTL,
			Retention: cfg.CacheRetention,
		},
	}

	// --- Connect to PostgreSQL (snapshot history) ---
	var historyStore *history.Store
	if cfg.DatabaseURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")

		historyStore, err = history.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise history store", "error", err)
			os.Exit(1)
		}
		svcCfg.History = historyStore
		deps["postgres"] = historyStore
	} else {
		slog.Warn("DATABASE_URL not set, change reports disabled")
	}

	// --- Connect to Redis (shared cache, alert queue) ---
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		backend := cache.NewRedisBackend(rdb, cfg.CacheRetention)
		if err := backend.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")

		svcCfg.Cache.Backend = backend
		svcCfg.Alerts = queue.NewPublisher(rdb, cfg.AlertsQueue, dedup.NewFilter(rdb, cfg.AlertTTL))
		deps["redis"] = backend
	} else {
		slog.Warn("REDIS_URL not set, cache is process-local and alerts are disabled")
	}

	// --- Build source adapters ---
	var graphClient *http.Client
	if cfg.Graph.Enabled() {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Graph.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		graphClient = creds.Client(ctx)
		svcCfg.Adapters = append(svcCfg.Adapters, graph.NewFetcher(graphClient, cfg.Graph.BaseURL, cfg.Graph.Lookahead))
	}
	if cfg.Jira.Enabled() {
		client := atlassian.NewClient(atlassianConfig(cfg.Jira), nil)
		svcCfg.Adapters = append(svcCfg.Adapters, jira.NewAdapter(client, cfg.Jira.Filter, cfg.Jira.MaxResults))
	}
	if cfg.Confluence.Enabled() {
		client := atlassian.NewClient(atlassianConfig(cfg.Confluence), nil)
		svcCfg.Adapters = append(svcCfg.Adapters, confluence.NewAdapter(client, cfg.Confluence.MaxResults))
	}
	slog.Info("source adapters ready", "sources", adapterNames(svcCfg.Adapters))

	// --- Identity directory ---
	directory := identity.NewDirectory(cfg.Users, graphClient, cfg.Graph.BaseURL)
	svcCfg.Identities = directory

	// --- Roles ---
	userRoles := make(map[string][]string, len(cfg.Users))
	for _, u := range cfg.Users {
		if len(u.Roles) > 0 {
			userRoles[u.ID] = u.Roles
		}
	}
	resolver, err := access.NewResolver(userRoles, cfg.DefaultRole)
	if err != nil {
		slog.Error("invalid role configuration", "error", err)
		os.Exit(1)
	}

	// --- Source health and events ---
	tracker, err := health.NewTracker(3)
	if err != nil {
		slog.Error("failed to build source health tracker", "error", err)
		os.Exit(1)
	}
	broker := events.NewBroker(16)
	svcCfg.Health = tracker
	svcCfg.Events = broker

	svc := dashboard.New(svcCfg)

	// --- Cache warmer ---
	warmerCfg := dashboard.WarmerConfig{
		Service:          svc,
		Users:            cfg.WarmUsers,
		Interval:         cfg.WarmInterval,
		HistoryRetention: cfg.HistoryRetention,
	}
	if historyStore != nil {
		warmerCfg.History = historyStore
	}
	warmer := dashboard.NewWarmer(warmerCfg)
	warmer.Start(ctx)

	// --- Scoring hot reload ---
	go func() {
		err := config.Watch(ctx, cfg.Path, time.Second,
			func(ctx context.Context, params scoring.Params, capacity aggregate.CapacityConfig) {
				if _, err := svc.UpdateScoring(ctx, params, capacity); err != nil {
					slog.Warn("rejected scoring reload, keeping current model", "error", err)
				}
			})
		if err != nil && ctx.Err() == nil {
			slog.Error("config watcher stopped", "error", err)
		}
	}()

	// --- API server ---
	handler := api.NewHandler(svc, resolver, api.Options{
		Broker:       broker,
		Health:       tracker,
		Dependencies: deps,
	})
	ready, stopped, err := api.Serve(ctx, cfg.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	warmer.Stop()
	broker.Close()
	cancel()
	<-stopped
	svc.Cache().Wait()

	slog.Info("priority service stopped")
}

func atlassianConfig(c config.AtlassianConfig) atlassian.Config {
	return atlassian.Config{
		BaseURL:  c.BaseURL,
		Email:    c.Email,
		APIToken: c.APIToken,
	}
}

func adapterNames(adapters []sources.Adapter) []string {
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = string(a.Source())
	}
	return names
}
