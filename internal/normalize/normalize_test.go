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

package normalize

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/bcem/priority/internal/models"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// TestNormalize_DropsIncompleteRecords verifies records without id or title
// are counted instead of failing the batch.
func TestNormalize_DropsIncompleteRecords(t *testing.T) {
	records := []Record{
		JiraIssue{Key: "OPS-1", Summary: "Fix pager", Priority: "High", Updated: base, Assignee: "alice"},
		JiraIssue{Key: "", Summary: "No key", Updated: base},
		JiraIssue{Key: "OPS-3", Summary: "   ", Updated: base},
		nil,
	}

	res := Normalize(models.SourceJira, records)

	if len(res.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(res.Items))
	}
	if res.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", res.Dropped)
	}
	item := res.Items[0]
	if item.Source != models.SourceJira || item.ID != "OPS-1" || item.RawPriority != "High" {
		t.Errorf("unexpected item: %+v", item)
	}
}

// TestNormalize_RejectsForeignSource verifies a record normalized under the
// wrong source is dropped.
func TestNormalize_RejectsForeignSource(t *testing.T) {
	res := Normalize(models.SourceOutlook, []Record{
		ConfluencePage{ID: "9", Title: "Runbook", LastUpdated: base},
	})
	if len(res.Items) != 0 || res.Dropped != 1 {
		t.Errorf("items = %d dropped = %d, want 0 and 1", len(res.Items), res.Dropped)
	}
}

// TestNormalize_PreservesPrioritySignal verifies native priority signals
// survive normalization for every source.
func TestNormalize_PreservesPrioritySignal(t *testing.T) {
	due := base.Add(48 * time.Hour)
	tests := []struct {
		name   string
		source models.Source
		rec    Record
		want   string
		hasDue bool
	}{
		{"jira", models.SourceJira, JiraIssue{Key: "A-1", Summary: "s", Priority: " Highest ", Updated: base}, "Highest", false},
		{"mail high", models.SourceOutlook, OutlookMessage{ID: "m1", Subject: "s", Importance: "High"}, "high", false},
		{"mail flagged", models.SourceOutlook, OutlookMessage{ID: "m2", Subject: "s", Importance: "normal", Flagged: true, FlagDue: &due}, "normal+flagged", true},
		{"mail flag only", models.SourceOutlook, OutlookMessage{ID: "m3", Subject: "s", Flagged: true}, "flagged", false},
		{"event", models.SourceOutlook, OutlookEvent{ID: "e1", Subject: "Review", Importance: "high", Start: due}, "high", true},
		{"page urgent", models.SourceConfluence, ConfluencePage{ID: "p1", Title: "t", Labels: []string{"docs", "Priority-High", "urgent"}}, "urgent", false},
		{"page none", models.SourceConfluence, ConfluencePage{ID: "p2", Title: "t", Labels: []string{"docs"}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.source, []Record{tt.rec})
			if len(res.Items) != 1 {
				t.Fatalf("expected 1 item, got %d", len(res.Items))
			}
			if got := res.Items[0].RawPriority; got != tt.want {
				t.Errorf("RawPriority = %q, want %q", got, tt.want)
			}
			if (res.Items[0].DueAt != nil) != tt.hasDue {
				t.Errorf("DueAt = %v, want set=%v", res.Items[0].DueAt, tt.hasDue)
			}
		})
	}
}

// TestNormalize_MessageFallsBackToReceivedTime verifies UpdatedAt is taken
// from the message itself, never from the clock.
func TestNormalize_MessageFallsBackToReceivedTime(t *testing.T) {
	res := Normalize(models.SourceOutlook, []Record{
		OutlookMessage{ID: "m1", Subject: "s", ReceivedDateTime: base},
	})
	if !res.Items[0].UpdatedAt.Equal(base) {
		t.Errorf("UpdatedAt = %v, want %v", res.Items[0].UpdatedAt, base)
	}
}

// TestNormalize_DoesNotAliasInputTimes verifies due dates are copied.
func TestNormalize_DoesNotAliasInputTimes(t *testing.T) {
	due := base
	issue := JiraIssue{Key: "A-1", Summary: "s", DueDate: &due}
	res := Normalize(models.SourceJira, []Record{issue})

	due = due.Add(time.Hour)
	if !res.Items[0].DueAt.Equal(base) {
		t.Errorf("DueAt changed with input: %v", res.Items[0].DueAt)
	}
}

// TestProperty_NormalizeIsIdempotent checks that normalizing the same batch
// twice yields identical sequences.
func TestProperty_NormalizeIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 25).Draw(rt, "n")
		records := make([]Record, 0, n)
		for i := 0; i < n; i++ {
			var due *time.Time
			if rapid.Bool().Draw(rt, fmt.Sprintf("hasDue_%d", i)) {
				d := base.Add(time.Duration(rapid.IntRange(-240, 240).Draw(rt, fmt.Sprintf("due_%d", i))) * time.Hour)
				due = &d
			}
			records = append(records, JiraIssue{
				Key:      rapid.SampledFrom([]string{"", "A-1", "A-2", "B-7"}).Draw(rt, fmt.Sprintf("key_%d", i)),
				Summary:  rapid.SampledFrom([]string{"", "Deploy", "Review"}).Draw(rt, fmt.Sprintf("summary_%d", i)),
				Priority: rapid.SampledFrom([]string{"", "High", "Low"}).Draw(rt, fmt.Sprintf("prio_%d", i)),
				DueDate:  due,
				Updated:  base.Add(time.Duration(i) * time.Minute),
				Assignee: "alice",
			})
		}

		first := Normalize(models.SourceJira, records)
		second := Normalize(models.SourceJira, records)

		if !reflect.DeepEqual(first, second) {
			rt.Fatalf("normalize not idempotent:\n%+v\n%+v", first, second)
		}
	})
}
