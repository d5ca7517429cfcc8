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

// Package normalize converts native records from each source adapter into
// the shared WorkItem shape. Normalization is a pure function of its input:
// no timestamps are generated here, so the same batch always yields the same
// items.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/bcem/priority/internal/models"
)

// Record is a native record produced by a source adapter.
type Record interface {
	// Origin reports which source produced the record.
	Origin() models.Source
	workItem() models.WorkItem
}

// Result is the outcome of normalizing one batch.
type Result struct {
	Items   []models.WorkItem
	Dropped int
}

// Normalize converts a batch of native records from source into WorkItems.
// Records missing an id or title, or produced by a different source, are
// dropped and counted rather than reported as errors.
func Normalize(source models.Source, records []Record) Result {
	res := Result{Items: make([]models.WorkItem, 0, len(records))}
	for _, rec := range records {
		if rec == nil || rec.Origin() != source {
			res.Dropped++
			continue
		}
		item := rec.workItem()
		if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Title) == "" {
			res.Dropped++
			continue
		}
		item.Source = source
		res.Items = append(res.Items, item)
	}
	return res
}

// JiraIssue is the subset of a JIRA issue the service needs.
type JiraIssue struct {
	Key      string
	Summary  string
	Priority string // native priority name, e.g. "Highest"
	DueDate  *time.Time
	Updated  time.Time
	Assignee string // account id, email or username
}

func (JiraIssue) Origin() models.Source { return models.SourceJira }

func (j JiraIssue) workItem() models.WorkItem {
	return models.WorkItem{
		ID:          j.Key,
		Title:       j.Summary,
		DueAt:       copyTime(j.DueDate),
		UpdatedAt:   j.Updated,
		RawPriority: strings.TrimSpace(j.Priority),
		OwnerID:     j.Assignee,
	}
}

// OutlookMessage is a mail message from the focus user's mailbox.
type OutlookMessage struct {
	ID               string
	Subject          string
	Importance       string // "low", "normal" or "high"
	Flagged          bool
	FlagDue          *time.Time
	LastModified     time.Time
	ReceivedDateTime time.Time
	Mailbox          string
}

func (OutlookMessage) Origin() models.Source { return models.SourceOutlook }

func (m OutlookMessage) workItem() models.WorkItem {
	updated := m.LastModified
	if updated.IsZero() {
		updated = m.ReceivedDateTime
	}
	return models.WorkItem{
		ID:          m.ID,
		Title:       m.Subject,
		DueAt:       copyTime(m.FlagDue),
		UpdatedAt:   updated,
		RawPriority: outlookPriority(m.Importance, m.Flagged),
		OwnerID:     m.Mailbox,
	}
}

// OutlookEvent is a calendar entry; its start time is treated as the due time.
type OutlookEvent struct {
	ID           string
	Subject      string
	Importance   string
	Start        time.Time
	LastModified time.Time
	Mailbox      string
}

func (OutlookEvent) Origin() models.Source { return models.SourceOutlook }

func (e OutlookEvent) workItem() models.WorkItem {
	var due *time.Time
	if !e.Start.IsZero() {
		start := e.Start
		due = &start
	}
	return models.WorkItem{
		ID:          e.ID,
		Title:       e.Subject,
		DueAt:       due,
		UpdatedAt:   e.LastModified,
		RawPriority: outlookPriority(e.Importance, false),
		OwnerID:     e.Mailbox,
	}
}

// ConfluencePage is a page the focus user contributed to.
type ConfluencePage struct {
	ID          string
	Title       string
	Labels      []string
	LastUpdated time.Time
	Author      string
}

func (ConfluencePage) Origin() models.Source { return models.SourceConfluence }

func (p ConfluencePage) workItem() models.WorkItem {
	return models.WorkItem{
		ID:          p.ID,
		Title:       p.Title,
		UpdatedAt:   p.LastUpdated,
		RawPriority: confluencePriority(p.Labels),
		OwnerID:     p.Author,
	}
}

// confluenceLabels are the labels that carry a priority signal, strongest first.
var confluenceLabels = []string{"urgent", "priority-high", "priority-medium", "priority-low"}

func confluencePriority(labels []string) string {
	have := make(map[string]bool, len(labels))
	for _, l := range labels {
		have[strings.ToLower(strings.TrimSpace(l))] = true
	}
	for _, l := range confluenceLabels {
		if have[l] {
			return l
		}
	}
	return ""
}

func outlookPriority(importance string, flagged bool) string {
	importance = strings.ToLower(strings.TrimSpace(importance))
	switch {
	case flagged && importance != "":
		return fmt.Sprintf("%s+flagged", importance)
	case flagged:
		return "flagged"
	default:
		return importance
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
