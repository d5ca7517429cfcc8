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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/priority/internal/events"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/history"
	"github.com/bcem/priority/internal/models"
)

// View is the dashboard payload.
type View struct {
	Greeting          string                   `json:"greeting"`
	Summary           models.Summary           `json:"summary"`
	CapacityIndicator models.CapacityIndicator `json:"capacityIndicator"`
	UrgencyBadges     []models.PriorityBadge   `json:"urgencyBadges"`
	Stale             bool                     `json:"stale,omitempty"`
}

// Workload is the capacity-only payload.
type Workload struct {
	CapacityIndicator models.CapacityIndicator `json:"capacityIndicator"`
}

// UrgentList is the HIGH and CRITICAL badge payload.
type UrgentList struct {
	UrgencyBadges []models.PriorityBadge `json:"urgencyBadges"`
}

// ClearResult acknowledges a cache clear.
type ClearResult struct {
	Cleared bool `json:"cleared"`
	Dropped int  `json:"dropped"`
}

// Report is the long-form status update.
type Report struct {
	FocusUser         string                                `json:"focusUser"`
	Greeting          string                                `json:"greeting"`
	Narrative         string                                `json:"narrative"`
	Summary           models.Summary                        `json:"summary"`
	CapacityIndicator models.CapacityIndicator              `json:"capacityIndicator"`
	Counts            map[string]int                        `json:"counts"`
	SourceCounts      map[models.Source]map[string]int      `json:"sourceCounts"`
	UrgencyBadges     []models.PriorityBadge                `json:"urgencyBadges"`
	Disclosure        string                                `json:"disclosure,omitempty"`
	SourceHealth      map[models.Source]health.SourceHealth `json:"sourceHealth,omitempty"`
	Changes           *history.Changes                      `json:"changes,omitempty"`
	Stale             bool                                  `json:"stale,omitempty"`
}

// Dashboard returns the full snapshot with a greeting. A stale snapshot is
// returned immediately and refreshed in the background.
func (s *Service) Dashboard(ctx context.Context, focusUser string) (*View, error) {
	snap, id, stale, err := s.load(ctx, focusUser, true)
	if err != nil {
		return nil, err
	}
	badges := snap.Badges
	if badges == nil {
		badges = []models.PriorityBadge{}
	}
	return &View{
		Greeting:          s.greeter.Greeting(id, s.now()),
		Summary:           snap.Summary,
		CapacityIndicator: snap.CapacityIndicator,
		UrgencyBadges:     badges,
		Stale:             stale,
	}, nil
}

// Workload returns the capacity indicator. Stale data is acceptable.
func (s *Service) Workload(ctx context.Context, focusUser string) (*Workload, error) {
	snap, _, _, err := s.load(ctx, focusUser, false)
	if err != nil {
		return nil, err
	}
	return &Workload{CapacityIndicator: snap.CapacityIndicator}, nil
}

// Urgent returns HIGH and CRITICAL badges in rank order.
func (s *Service) Urgent(ctx context.Context, focusUser string) (*UrgentList, error) {
	snap, _, _, err := s.load(ctx, focusUser, true)
	if err != nil {
		return nil, err
	}
	urgent := snap.Urgent()
	if urgent == nil {
		urgent = []models.PriorityBadge{}
	}
	return &UrgentList{UrgencyBadges: urgent}, nil
}

// CacheClear drops every cached snapshot. The next read for any focus user
// aggregates from the sources again.
func (s *Service) CacheClear(ctx context.Context) (*ClearResult, error) {
	dropped := s.cache.InvalidateAll(ctx)
	if f, ok := s.identities.(interface{ Forget() }); ok {
		f.Forget()
	}
	if s.events != nil {
		s.events.Publish(events.Event{Type: events.CacheCleared})
	}
	slog.Info("cache cleared", "dropped_snapshots", dropped)
	return &ClearResult{Cleared: true, Dropped: dropped}, nil
}

// Report returns the narrative status update. Stale data is acceptable.
func (s *Service) Report(ctx context.Context, focusUser string) (*Report, error) {
	snap, id, stale, err := s.load(ctx, focusUser, false)
	if err != nil {
		return nil, err
	}

	r := &Report{
		FocusUser:         snap.FocusUser,
		Greeting:          s.greeter.Greeting(id, s.now()),
		Summary:           snap.Summary,
		CapacityIndicator: snap.CapacityIndicator,
		Counts:            tierCounts(snap.Badges),
		SourceCounts:      sourceCounts(snap),
		UrgencyBadges:     snap.Urgent(),
		Disclosure:        Disclosure(snap),
		Stale:             stale,
	}
	if r.UrgencyBadges == nil {
		r.UrgencyBadges = []models.PriorityBadge{}
	}
	if s.health != nil {
		r.SourceHealth = s.health.Snapshot()
	}
	if s.history != nil {
		prev, err := s.history.Previous(ctx, snap.FocusUser, snap.Summary.LastUpdated)
		if err != nil {
			slog.Warn("failed to load previous snapshot", "focus_user", snap.FocusUser, "error", err)
		} else {
			r.Changes = history.Diff(prev, snap)
		}
	}
	r.Narrative = narrative(r, snap, s.now())
	return r, nil
}

func tierCounts(badges []models.PriorityBadge) map[string]int {
	out := map[string]int{}
	for u := models.UrgencyLow; u <= models.UrgencyCritical; u++ {
		out[u.String()] = 0
	}
	for _, b := range badges {
		out[b.Urgency.String()]++
	}
	return out
}

func sourceCounts(snap *models.AggregationSnapshot) map[models.Source]map[string]int {
	out := map[models.Source]map[string]int{}
	for src, st := range snap.Summary.SourceStatus {
		if st.OK {
			out[src] = tierCounts(nil)
		}
	}
	for _, b := range snap.Badges {
		if out[b.Source] == nil {
			out[b.Source] = tierCounts(nil)
		}
		out[b.Source][b.Urgency.String()]++
	}
	return out
}

// Disclosure names failed sources and what the snapshot still covers, e.g.
// "JIRA unavailable, showing OUTLOOK and CONFLUENCE only". It is empty when
// every source succeeded.
func Disclosure(snap *models.AggregationSnapshot) string {
	failed := snap.FailedSources()
	if len(failed) == 0 {
		return ""
	}
	var ok []models.Source
	for _, src := range models.AllSources {
		if st, present := snap.Summary.SourceStatus[src]; present && st.OK {
			ok = append(ok, src)
		}
	}
	if len(ok) == 0 {
		return joinSources(failed) + " unavailable"
	}
	return fmt.Sprintf("%s unavailable, showing %s only", joinSources(failed), joinSources(ok))
}

func joinSources(srcs []models.Source) string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = string(s)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// narrative renders the report as a few plain sentences for the chat layer.
func narrative(r *Report, snap *models.AggregationSnapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString(r.Greeting)
	b.WriteString(". ")

	critical := r.Counts[models.UrgencyCritical.String()]
	high := r.Counts[models.UrgencyHigh.String()]
	switch {
	case len(snap.Badges) == 0:
		b.WriteString("You have no open items. ")
	case critical+high == 0:
		fmt.Fprintf(&b, "You have %s open and nothing urgent. ", plural(len(snap.Badges), "item"))
	default:
		fmt.Fprintf(&b, "You have %s (%d critical, %d high) out of %d open. ",
			plural(critical+high, "urgent item"), critical, high, len(snap.Badges))
	}

	fmt.Fprintf(&b, "Workload is %s at %.0f%%.", r.CapacityIndicator.Level, r.CapacityIndicator.Percentage)

	if len(snap.Badges) > 0 {
		top := snap.Badges[0]
		fmt.Fprintf(&b, " Top priority: [%s] %s (%s", top.Source, top.Title, top.Urgency)
		if top.DueAt != nil {
			if top.DueAt.Before(now) {
				fmt.Fprintf(&b, ", overdue since %s", top.DueAt.Format("Jan 2"))
			} else {
				fmt.Fprintf(&b, ", due %s", top.DueAt.Format("Jan 2 15:04"))
			}
		}
		b.WriteString(").")
	}

	if r.Disclosure != "" {
		fmt.Fprintf(&b, " %s.", r.Disclosure)
	}

	if c := r.Changes; c != nil && !c.Empty() {
		fmt.Fprintf(&b, " Since %s: %d new, %d resolved, %d escalated.",
			c.Since.Format("Jan 2 15:04"), len(c.Added), len(c.Resolved), len(c.Escalated))
	}

	if r.Stale {
		fmt.Fprintf(&b, " Data as of %s.", snap.Summary.LastUpdated.Format("15:04"))
	}
	return b.String()
}
