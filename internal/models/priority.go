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

// Package models defines the data structures shared across the priority service.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies the system a WorkItem came from.
type Source string

const (
	SourceJira       Source = "JIRA"
	SourceOutlook    Source = "OUTLOOK"
	SourceConfluence Source = "CONFLUENCE"
)

// AllSources lists every known source in display order.
var AllSources = []Source{SourceJira, SourceOutlook, SourceConfluence}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceJira, SourceOutlook, SourceConfluence:
		return true
	}
	return false
}

// Urgency is the display tier derived from a score.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (u Urgency) String() string {
	if u < UrgencyLow || u > UrgencyCritical {
		return fmt.Sprintf("Urgency(%d)", int(u))
	}
	return urgencyNames[u]
}

// MarshalJSON encodes the tier by name ("HIGH"), matching the UI contract.
func (u Urgency) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON decodes a tier name.
func (u *Urgency) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseUrgency(name)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseUrgency converts a tier name into an Urgency.
func ParseUrgency(name string) (Urgency, error) {
	for i, n := range urgencyNames {
		if strings.EqualFold(n, name) {
			return Urgency(i), nil
		}
	}
	return UrgencyLow, fmt.Errorf("unknown urgency %q", name)
}

// WorkItem is a unit of actionable information from one source.
// (Source, ID) is its stable identity.
type WorkItem struct {
	ID          string     `json:"id"`
	Source      Source     `json:"source"`
	Title       string     `json:"title"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RawPriority string     `json:"raw_priority,omitempty"`
	OwnerID     string     `json:"owner_id"`
}

// Key returns the dedup key for the item.
func (w WorkItem) Key() string {
	return string(w.Source) + ":" + w.ID
}

// PriorityBadge is the ranked, display-ready form of a WorkItem.
type PriorityBadge struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Source  Source     `json:"source"`
	Urgency Urgency    `json:"urgency"`
	Score   float64    `json:"score"`
	DueAt   *time.Time `json:"dueAt,omitempty"`
}

// SourceStatus records whether a source responded during the last cycle.
type SourceStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Summary carries snapshot-level metadata.
type Summary struct {
	LastUpdated  time.Time               `json:"lastUpdated"`
	SourceStatus map[Source]SourceStatus `json:"sourceStatus"`
}

// CapacityLevel buckets the capacity percentage.
type CapacityLevel string

const (
	CapacityLow        CapacityLevel = "LOW"
	CapacityModerate   CapacityLevel = "MODERATE"
	CapacityHigh       CapacityLevel = "HIGH"
	CapacityOverloaded CapacityLevel = "OVERLOADED"
)

// CapacityIndicator summarises open HIGH and CRITICAL load.
type CapacityIndicator struct {
	Level      CapacityLevel `json:"level"`
	Percentage float64       `json:"percentage"`
}

// AggregationSnapshot is one complete aggregation result for a focus user.
// Snapshots are replaced wholesale and never patched in place.
type AggregationSnapshot struct {
	FocusUser         string            `json:"focusUser"`
	Badges            []PriorityBadge   `json:"badges"`
	Summary           Summary           `json:"summary"`
	CapacityIndicator CapacityIndicator `json:"capacityIndicator"`
}

// Clone returns a deep copy so callers can never mutate a cached snapshot.
func (s *AggregationSnapshot) Clone() *AggregationSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Badges = make([]PriorityBadge, len(s.Badges))
	for i, b := range s.Badges {
		if b.DueAt != nil {
			due := *b.DueAt
			b.DueAt = &due
		}
		out.Badges[i] = b
	}
	out.Summary.SourceStatus = make(map[Source]SourceStatus, len(s.Summary.SourceStatus))
	for k, v := range s.Summary.SourceStatus {
		out.Summary.SourceStatus[k] = v
	}
	return &out
}

// Urgent returns the HIGH and CRITICAL badges in rank order.
func (s *AggregationSnapshot) Urgent() []PriorityBadge {
	urgent := make([]PriorityBadge, 0, len(s.Badges))
	for _, b := range s.Badges {
		if b.Urgency >= UrgencyHigh {
			urgent = append(urgent, b)
		}
	}
	return urgent
}

// CountByUrgency tallies badges per tier.
func (s *AggregationSnapshot) CountByUrgency() map[Urgency]int {
	counts := make(map[Urgency]int, 4)
	for _, b := range s.Badges {
		counts[b.Urgency]++
	}
	return counts
}

// FailedSources lists sources whose last fetch failed, in display order.
func (s *AggregationSnapshot) FailedSources() []Source {
	var failed []Source
	for _, src := range AllSources {
		if st, ok := s.Summary.SourceStatus[src]; ok && !st.OK {
			failed = append(failed, src)
		}
	}
	return failed
}

// Validate checks the snapshot's own shape invariants. A snapshot that fails
// validation must never be served.
func (s *AggregationSnapshot) Validate(tier func(float64) Urgency) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrCacheCorruption)
	}
	if s.Summary.LastUpdated.IsZero() {
		return fmt.Errorf("%w: missing lastUpdated", ErrCacheCorruption)
	}
	if len(s.Summary.SourceStatus) == 0 {
		return fmt.Errorf("%w: missing source status", ErrCacheCorruption)
	}
	for src := range s.Summary.SourceStatus {
		if !src.Valid() {
			return fmt.Errorf("%w: unknown source %q", ErrCacheCorruption, src)
		}
	}
	p := s.CapacityIndicator.Percentage
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: capacity percentage %.2f out of range", ErrCacheCorruption, p)
	}
	for i, b := range s.Badges {
		if b.ID == "" || !b.Source.Valid() {
			return fmt.Errorf("%w: badge %d has no identity", ErrCacheCorruption, i)
		}
		if tier != nil && tier(b.Score) != b.Urgency {
			return fmt.Errorf("%w: badge %s urgency %s does not match score %.2f",
				ErrCacheCorruption, b.ID, b.Urgency, b.Score)
		}
		if i > 0 && s.Badges[i-1].Score < b.Score {
			return fmt.Errorf("%w: badges out of order at %d", ErrCacheCorruption, i)
		}
	}
	return nil
}
