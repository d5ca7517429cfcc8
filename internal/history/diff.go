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

package history

import (
	"time"

	"github.com/bcem/priority/internal/models"
)

// Changes describes how a snapshot differs from a previous entry.
type Changes struct {
	Since         time.Time              `json:"since"`
	Added         []models.PriorityBadge `json:"added,omitempty"`
	Resolved      []models.PriorityBadge `json:"resolved,omitempty"`
	Escalated     []models.PriorityBadge `json:"escalated,omitempty"`
	CapacityDelta float64                `json:"capacityDelta"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Resolved) == 0 && len(c.Escalated) == 0 && c.CapacityDelta == 0
}

// Diff compares snap against prev. Badges are matched by (source, id).
// Items from a source that failed in either cycle are not reported as
// added or resolved, since their absence says nothing about the work.
func Diff(prev *Entry, snap *models.AggregationSnapshot) *Changes {
	if prev == nil || snap == nil {
		return nil
	}

	failed := map[models.Source]bool{}
	for src, st := range prev.SourceStatus {
		if !st.OK {
			failed[src] = true
		}
	}
	for _, src := range snap.FailedSources() {
		failed[src] = true
	}

	key := func(b models.PriorityBadge) string { return string(b.Source) + "|" + b.ID }
	before := make(map[string]models.PriorityBadge, len(prev.Badges))
	for _, b := range prev.Badges {
		before[key(b)] = b
	}

	c := &Changes{
		Since:         prev.RecordedAt,
		CapacityDelta: snap.CapacityIndicator.Percentage - prev.Capacity.Percentage,
	}
	current := make(map[string]bool, len(snap.Badges))
	for _, b := range snap.Badges {
		current[key(b)] = true
		old, ok := before[key(b)]
		switch {
		case !ok && !failed[b.Source]:
			c.Added = append(c.Added, b)
		case ok && b.Urgency > old.Urgency:
			c.Escalated = append(c.Escalated, b)
		}
	}
	for _, b := range prev.Badges {
		if !current[key(b)] && !failed[b.Source] {
			c.Resolved = append(c.Resolved, b)
		}
	}
	return c
}
