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

// Package aggregate merges normalized items from every source into one
// ranked AggregationSnapshot for a focus user.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/scoring"
)

// SourceResult is one source's contribution to an aggregation cycle.
type SourceResult struct {
	Source    models.Source
	Items     []models.WorkItem
	Dropped   int
	FetchedAt time.Time
	Err       error
}

// OK reports whether the source responded this cycle.
func (r SourceResult) OK() bool {
	return r.Err == nil
}

// AllFailed reports whether no source in the cycle succeeded.
func AllFailed(results []SourceResult) bool {
	for _, r := range results {
		if r.OK() {
			return false
		}
	}
	return true
}

// Identity is the set of owner ids that resolve to the focus user.
type Identity interface {
	Matches(ownerID string) bool
}

// CapacityConfig controls the workload indicator.
type CapacityConfig struct {
	Baseline       float64 `yaml:"baseline"`
	HighWeight     float64 `yaml:"high_weight"`
	CriticalWeight float64 `yaml:"critical_weight"`
	ModerateAt     float64 `yaml:"moderate_at"`
	HighAt         float64 `yaml:"high_at"`
	OverloadedAt   float64 `yaml:"overloaded_at"`
}

// DefaultCapacity returns the default capacity model.
func DefaultCapacity() CapacityConfig {
	return CapacityConfig{
		Baseline:       10,
		HighWeight:     1,
		CriticalWeight: 2,
		ModerateAt:     40,
		HighAt:         70,
		OverloadedAt:   100,
	}
}

// Aggregator ranks items with a scorer and computes capacity.
type Aggregator struct {
	scorer   *scoring.Scorer
	capacity CapacityConfig
}

// New creates an aggregator.
func New(scorer *scoring.Scorer, capacity CapacityConfig) *Aggregator {
	if capacity.Baseline <= 0 {
		capacity = DefaultCapacity()
	}
	return &Aggregator{scorer: scorer, capacity: capacity}
}

// CapacityConfig returns the capacity model in use.
func (a *Aggregator) CapacityConfig() CapacityConfig {
	return a.capacity
}

// Scorer returns the scorer used for ranking.
func (a *Aggregator) Scorer() *scoring.Scorer {
	return a.scorer
}

type ranked struct {
	item  models.WorkItem
	score float64
}

// Aggregate builds a snapshot from one cycle's per-source results. Failed
// sources contribute no items and are flagged in the summary; previous items
// from a failed source are never carried forward.
func (a *Aggregator) Aggregate(focusUser string, id Identity, results []SourceResult, now time.Time) *models.AggregationSnapshot {
	status := make(map[models.Source]models.SourceStatus, len(results))
	latest := make(map[string]models.WorkItem)

	for _, r := range results {
		if !r.OK() {
			status[r.Source] = models.SourceStatus{OK: false, Error: r.Err.Error()}
			continue
		}
		status[r.Source] = models.SourceStatus{OK: true}

		for _, item := range r.Items {
			if item.Source != r.Source {
				continue
			}
			if id == nil || !id.Matches(item.OwnerID) {
				continue
			}
			key := item.Key()
			if prev, seen := latest[key]; seen && !item.UpdatedAt.After(prev.UpdatedAt) {
				continue
			}
			latest[key] = item
		}
	}

	scored := make([]ranked, 0, len(latest))
	for _, item := range latest {
		scored = append(scored, ranked{item: item, score: a.scorer.Score(item, now)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return less(scored[i], scored[j])
	})

	badges := make([]models.PriorityBadge, len(scored))
	for i, r := range scored {
		badges[i] = models.PriorityBadge{
			ID:      r.item.ID,
			Title:   r.item.Title,
			Source:  r.item.Source,
			Urgency: a.scorer.Tier(r.score),
			Score:   r.score,
			DueAt:   r.item.DueAt,
		}
	}

	return &models.AggregationSnapshot{
		FocusUser: focusUser,
		Badges:    badges,
		Summary: models.Summary{
			LastUpdated:  now,
			SourceStatus: status,
		},
		CapacityIndicator: a.Capacity(badges),
	}
}

// less orders by score descending, then earlier due date, then id. Items
// with no due date sort after dated ones. Source is the final tie-break
// because ids are only unique within a source.
func less(a, b ranked) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	ad, bd := a.item.DueAt, b.item.DueAt
	switch {
	case ad != nil && bd != nil && !ad.Equal(*bd):
		return ad.Before(*bd)
	case ad != nil && bd == nil:
		return true
	case ad == nil && bd != nil:
		return false
	}
	if a.item.ID != b.item.ID {
		return a.item.ID < b.item.ID
	}
	return a.item.Source < b.item.Source
}

// Capacity computes the workload indicator from HIGH and CRITICAL badges.
func (a *Aggregator) Capacity(badges []models.PriorityBadge) models.CapacityIndicator {
	c := a.capacity
	var load float64
	for _, b := range badges {
		switch b.Urgency {
		case models.UrgencyCritical:
			load += c.CriticalWeight
		case models.UrgencyHigh:
			load += c.HighWeight
		}
	}
	pct := math.Round(math.Max(0, math.Min(100, load/c.Baseline*100))*100) / 100

	level := models.CapacityLow
	switch {
	case pct >= c.OverloadedAt:
		level = models.CapacityOverloaded
	case pct >= c.HighAt:
		level = models.CapacityHigh
	case pct >= c.ModerateAt:
		level = models.CapacityModerate
	}
	return models.CapacityIndicator{Level: level, Percentage: pct}
}

// Aliases is a simple case-insensitive Identity.
type Aliases map[string]struct{}

// NewAliases builds an Identity from the given ids, ignoring blanks.
func NewAliases(ids ...string) Aliases {
	a := make(Aliases, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

// Matches implements Identity.
func (a Aliases) Matches(ownerID string) bool {
	ownerID = strings.ToLower(strings.TrimSpace(ownerID))
	if ownerID == "" {
		return false
	}
	_, ok := a[ownerID]
	return ok
}
