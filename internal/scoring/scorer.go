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

// Package scoring assigns a numeric urgency score and a tier to WorkItems.
// Scores are a deterministic function of the item and the evaluation time.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bcem/priority/internal/models"
)

// Thresholds are the minimum scores for each tier above LOW.
type Thresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// Params holds the product parameters of the scoring model.
type Params struct {
	// Weights maps source -> lower-cased native priority -> base weight.
	Weights map[models.Source]map[string]float64 `yaml:"weights"`
	// DefaultWeights applies when an item has no recognised priority signal.
	DefaultWeights map[models.Source]float64 `yaml:"default_weights"`

	OverdueBase   float64       `yaml:"overdue_base"`
	OverduePerDay float64       `yaml:"overdue_per_day"`
	OverdueMax    float64       `yaml:"overdue_max"`
	DueSoonMax    float64       `yaml:"due_soon_max"`
	DueHorizon    time.Duration `yaml:"due_horizon"`

	RecencyMax    float64       `yaml:"recency_max"`
	RecencyWindow time.Duration `yaml:"recency_window"`

	Tiers Thresholds `yaml:"tiers"`
}

// DefaultParams returns the documented default model. Changing these values
// changes product behaviour; the golden tests pin them.
func DefaultParams() Params {
	return Params{
		Weights: map[models.Source]map[string]float64{
			models.SourceJira: {
				"highest": 50, "blocker": 50,
				"high": 40, "critical": 40,
				"medium": 25,
				"low":    10,
				"lowest": 5, "trivial": 5,
			},
			models.SourceOutlook: {
				"high":    25,
				"flagged": 25,
				"normal":  10,
				"low":     5,
			},
			models.SourceConfluence: {
				"urgent":          40,
				"priority-high":   30,
				"priority-medium": 20,
				"priority-low":    5,
			},
		},
		DefaultWeights: map[models.Source]float64{
			models.SourceJira:       25,
			models.SourceOutlook:    10,
			models.SourceConfluence: 0,
		},
		OverdueBase:   40,
		OverduePerDay: 5,
		OverdueMax:    60,
		DueSoonMax:    30,
		DueHorizon:    7 * 24 * time.Hour,
		RecencyMax:    15,
		RecencyWindow: 14 * 24 * time.Hour,
		Tiers: Thresholds{
			Critical: 70,
			High:     45,
			Medium:   30,
		},
	}
}

// Scorer evaluates items against a fixed parameter set.
type Scorer struct {
	params Params
}

// NewScorer creates a scorer. Zero-valued sections of p fall back to defaults.
func NewScorer(p Params) *Scorer {
	def := DefaultParams()
	if p.Weights == nil {
		p.Weights = def.Weights
	}
	p.Weights = NormalizeWeights(p.Weights)
	if p.DefaultWeights == nil {
		p.DefaultWeights = def.DefaultWeights
	}
	if p.DueHorizon <= 0 {
		p.DueHorizon = def.DueHorizon
	}
	if p.RecencyWindow <= 0 {
		p.RecencyWindow = def.RecencyWindow
	}
	p.Tiers = p.Tiers.withDefaults(def.Tiers)
	return &Scorer{params: p}
}

// withDefaults fills each unset threshold from def.
func (t Thresholds) withDefaults(def Thresholds) Thresholds {
	if t.Critical <= 0 {
		t.Critical = def.Critical
	}
	if t.High <= 0 {
		t.High = def.High
	}
	if t.Medium <= 0 {
		t.Medium = def.Medium
	}
	return t
}

// Validate requires Critical > High > Medium > 0.
func (t Thresholds) Validate() error {
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > 0) {
		return fmt.Errorf("tier thresholds must satisfy critical > high > medium > 0, got critical=%v high=%v medium=%v",
			t.Critical, t.High, t.Medium)
	}
	return nil
}

// NormalizeWeights returns a copy of w with priority names lower-cased and
// trimmed, matching how raw priorities are looked up.
func NormalizeWeights(w map[models.Source]map[string]float64) map[models.Source]map[string]float64 {
	out := make(map[models.Source]map[string]float64, len(w))
	for src, table := range w {
		norm := make(map[string]float64, len(table))
		for name, v := range table {
			norm[strings.ToLower(strings.TrimSpace(name))] = v
		}
		out[src] = norm
	}
	return out
}

// Params returns the scorer's parameters.
func (s *Scorer) Params() Params {
	return s.params
}

// Score computes the item's urgency score at time now.
func (s *Scorer) Score(item models.WorkItem, now time.Time) float64 {
	score := s.baseWeight(item)
	if item.DueAt != nil {
		score += s.dueTerm(*item.DueAt, now)
	} else {
		score += s.recencyTerm(item.UpdatedAt, now)
	}
	return round(score)
}

// Tier maps a score to its urgency tier.
func (s *Scorer) Tier(score float64) models.Urgency {
	t := s.params.Tiers
	switch {
	case score >= t.Critical:
		return models.UrgencyCritical
	case score >= t.High:
		return models.UrgencyHigh
	case score >= t.Medium:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// baseWeight takes the strongest recognised component of the raw priority,
// so "high+flagged" scores as its heaviest part.
func (s *Scorer) baseWeight(item models.WorkItem) float64 {
	weights := s.params.Weights[item.Source]
	best, found := 0.0, false
	for _, part := range strings.Split(strings.ToLower(item.RawPriority), "+") {
		w, ok := weights[strings.TrimSpace(part)]
		if ok && (!found || w > best) {
			best, found = w, true
		}
	}
	if !found {
		return s.params.DefaultWeights[item.Source]
	}
	return best
}

// dueTerm grows as the due time approaches. Any overdue item gets at least
// OverdueBase, which is above the largest not-yet-due contribution.
func (s *Scorer) dueTerm(due, now time.Time) float64 {
	p := s.params
	if now.After(due) {
		days := now.Sub(due).Hours() / 24
		return math.Min(p.OverdueBase+days*p.OverduePerDay, math.Max(p.OverdueMax, p.OverdueBase))
	}
	remaining := due.Sub(now)
	if remaining >= p.DueHorizon {
		return 0
	}
	return p.DueSoonMax * (1 - float64(remaining)/float64(p.DueHorizon))
}

// recencyTerm rewards recently updated items with no due date. It is bounded
// by RecencyMax.
func (s *Scorer) recencyTerm(updated, now time.Time) float64 {
	p := s.params
	if updated.IsZero() {
		return 0
	}
	age := now.Sub(updated)
	if age < 0 {
		age = 0
	}
	if age >= p.RecencyWindow {
		return 0
	}
	return p.RecencyMax * (1 - float64(age)/float64(p.RecencyWindow))
}

// round keeps scores stable to four decimal places.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
