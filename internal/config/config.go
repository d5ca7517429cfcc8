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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/scoring"
)

// GraphConfig holds the app registration used for Outlook and the directory.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string
	Lookahead    time.Duration
}

// Enabled reports whether credentials are present.
func (g GraphConfig) Enabled() bool {
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != ""
}

// AtlassianConfig holds a JIRA or Confluence site.
type AtlassianConfig struct {
	BaseURL    string
	Email      string
	APIToken   string
	Filter     string // extra JQL, JIRA only
	MaxResults int
}

// Enabled reports whether the site is configured.
func (a AtlassianConfig) Enabled() bool {
	return a.BaseURL != "" && a.APIToken != ""
}

// Config holds all configuration for the priority service.
type Config struct {
	Path string

	Users       []identity.User
	DefaultRole string

	Graph         GraphConfig
	Jira          AtlassianConfig
	Confluence    AtlassianConfig
	SourceTimeout time.Duration

	CacheTTL       time.Duration
	CacheRetention time.Duration
	WarmUsers      []string
	WarmInterval   time.Duration

	Scoring  scoring.Params
	Capacity aggregate.CapacityConfig

	// Redis
	RedisURL    string
	AlertsQueue string
	AlertTTL    time.Duration

	// Postgres
	DatabaseURL      string
	HistoryRetention time.Duration

	Port int
}

type rawAtlassian struct {
	BaseURL    string `yaml:"base_url"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
	Filter     string `yaml:"filter"`
	MaxResults int    `yaml:"max_results"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Users       []identity.User `yaml:"users"`
	DefaultRole string          `yaml:"default_role"`
	Sources     struct {
		Timeout string `yaml:"timeout"`
		Graph   struct {
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			BaseURL      string `yaml:"base_url"`
			Lookahead    string `yaml:"lookahead"`
		} `yaml:"graph"`
		Jira       rawAtlassian `yaml:"jira"`
		Confluence rawAtlassian `yaml:"confluence"`
	} `yaml:"sources"`
	Cache struct {
		TTL          string   `yaml:"ttl"`
		Retention    string   `yaml:"retention"`
		WarmUsers    []string `yaml:"warm_users"`
		WarmInterval string   `yaml:"warm_interval"`
	} `yaml:"cache"`
	Scoring  *scoring.Params           `yaml:"scoring"`
	Capacity *aggregate.CapacityConfig `yaml:"capacity"`
	Redis    struct {
		URL    string `yaml:"url"`
		Queues struct {
			Alerts string `yaml:"alerts"`
		} `yaml:"queues"`
		AlertTTL string `yaml:"alert_ttl"`
	} `yaml:"redis"`
	Database struct {
		URL              string `yaml:"url"`
		HistoryRetention string `yaml:"history_retention"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	raw, err := readRaw(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Path:        configPath,
		Users:       raw.Users,
		DefaultRole: firstNonEmpty(raw.DefaultRole, envOrDefault("DEFAULT_ROLE", "member")),
		Graph: GraphConfig{
			TenantID:     raw.Sources.Graph.TenantID,
			ClientID:     raw.Sources.Graph.ClientID,
			ClientSecret: raw.Sources.Graph.ClientSecret,
			BaseURL:      firstNonEmpty(raw.Sources.Graph.BaseURL, "https://graph.microsoft.com/v1.0"),
			Lookahead:    parseDuration(raw.Sources.Graph.Lookahead, 7*24*time.Hour),
		},
		Jira:           atlassian(raw.Sources.Jira),
		Confluence:     atlassian(raw.Sources.Confluence),
		SourceTimeout:  parseDuration(raw.Sources.Timeout, envOrDefaultDuration("SOURCE_TIMEOUT", 10*time.Second)),
		CacheTTL:       parseDuration(raw.Cache.TTL, envOrDefaultDuration("CACHE_TTL", 60*time.Second)),
		CacheRetention: parseDuration(raw.Cache.Retention, envOrDefaultDuration("CACHE_RETENTION", 24*time.Hour)),
		WarmUsers:      raw.Cache.WarmUsers,
		WarmInterval:   parseDuration(raw.Cache.WarmInterval, envOrDefaultDuration("WARM_INTERVAL", 5*time.Minute)),
		RedisURL:       firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		AlertsQueue:    firstNonEmpty(raw.Redis.Queues.Alerts, envOrDefault("ALERTS_QUEUE", "priority:alerts")),
		AlertTTL:       parseDuration(raw.Redis.AlertTTL, 24*time.Hour),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		HistoryRetention: parseDuration(raw.Database.HistoryRetention,
			envOrDefaultDuration("HISTORY_RETENTION", 30*24*time.Hour)),
		Port: envOrDefaultInt("PORT", 8080),
	}
	if cfg.Scoring, cfg.Capacity, err = modelParams(raw); err != nil {
		return nil, err
	}

	for i, u := range cfg.Users {
		if err := identity.Validate(u.ID); err != nil || u.ID == "" {
			return nil, fmt.Errorf("users[%d]: invalid id %q", i, u.ID)
		}
	}
	if !cfg.Graph.Enabled() && !cfg.Jira.Enabled() && !cfg.Confluence.Enabled() {
		return nil, fmt.Errorf("no sources configured: check config.yaml and environment variables")
	}

	return cfg, nil
}

// LoadModel re-reads only the scoring and capacity sections of path.
func LoadModel(path string) (scoring.Params, aggregate.CapacityConfig, error) {
	raw, err := readRaw(path)
	if err != nil {
		return scoring.Params{}, aggregate.CapacityConfig{}, err
	}
	return modelParams(raw)
}

func readRaw(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	return &raw, nil
}

// modelParams returns the configured scoring model. Missing fields keep the
// documented defaults; a per-source weight table replaces that source's
// defaults as a whole. Tier thresholds that are out of order are rejected.
func modelParams(raw *rawConfig) (scoring.Params, aggregate.CapacityConfig, error) {
	params := scoring.DefaultParams()
	if s := raw.Scoring; s != nil {
		for src, w := range scoring.NormalizeWeights(s.Weights) {
			params.Weights[src] = w
		}
		for src, w := range s.DefaultWeights {
			params.DefaultWeights[src] = w
		}
		setIfPositive(&params.OverdueBase, s.OverdueBase)
		setIfPositive(&params.OverduePerDay, s.OverduePerDay)
		setIfPositive(&params.OverdueMax, s.OverdueMax)
		setIfPositive(&params.DueSoonMax, s.DueSoonMax)
		setIfPositive(&params.RecencyMax, s.RecencyMax)
		if s.DueHorizon > 0 {
			params.DueHorizon = s.DueHorizon
		}
		if s.RecencyWindow > 0 {
			params.RecencyWindow = s.RecencyWindow
		}
		setIfPositive(&params.Tiers.Critical, s.Tiers.Critical)
		setIfPositive(&params.Tiers.High, s.Tiers.High)
		setIfPositive(&params.Tiers.Medium, s.Tiers.Medium)
	}

	capacity := aggregate.DefaultCapacity()
	if c := raw.Capacity; c != nil {
		setIfPositive(&capacity.Baseline, c.Baseline)
		setIfPositive(&capacity.HighWeight, c.HighWeight)
		setIfPositive(&capacity.CriticalWeight, c.CriticalWeight)
		setIfPositive(&capacity.ModerateAt, c.ModerateAt)
		setIfPositive(&capacity.HighAt, c.HighAt)
		setIfPositive(&capacity.OverloadedAt, c.OverloadedAt)
	}
	if err := params.Tiers.Validate(); err != nil {
		return params, capacity, fmt.Errorf("scoring: %w", err)
	}
	return params, capacity, nil
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func atlassian(r rawAtlassian) AtlassianConfig {
	return AtlassianConfig{
		BaseURL:    r.BaseURL,
		Email:      r.Email,
		APIToken:   r.APIToken,
		Filter:     r.Filter,
		MaxResults: r.MaxResults,
	}
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
