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

// Package jira fetches the focus user's open JIRA issues.
package jira

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
	"github.com/bcem/priority/internal/sources"
	"github.com/bcem/priority/internal/sources/atlassian"
)

const (
	dueDateLayout = "2006-01-02"
	updatedLayout = "2006-01-02T15:04:05.000-0700"
)

// Adapter searches open issues assigned to the focus user.
type Adapter struct {
	client     *atlassian.Client
	filter     string // extra JQL, e.g. "project in (OPS, PLAT)"
	maxResults int
	now        func() time.Time
}

// NewAdapter creates a JIRA adapter. filter is ANDed into the search.
func NewAdapter(client *atlassian.Client, filter string, maxResults int) *Adapter {
	if maxResults <= 0 {
		maxResults = 100
	}
	return &Adapter{client: client, filter: strings.TrimSpace(filter), maxResults: maxResults, now: time.Now}
}

// Source implements sources.Adapter.
func (a *Adapter) Source() models.Source { return models.SourceJira }

// searchPath is the token-paged enhanced search endpoint.
const searchPath = "/rest/api/3/search/jql"

// maxPages bounds one fetch; a user with more open issues than
// maxPages*maxResults gets the most recently updated ones.
const maxPages = 10

type searchResponse struct {
	Issues        []issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken"`
	IsLast        bool    `json:"isLast"`
}

type issue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary  string `json:"summary"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		DueDate  string `json:"duedate"`
		Updated  string `json:"updated"`
		Assignee *struct {
			AccountID    string `json:"accountId"`
			EmailAddress string `json:"emailAddress"`
			Name         string `json:"name"`
		} `json:"assignee"`
	} `json:"fields"`
}

// Fetch implements sources.Adapter. A known account ID is the only
// assignee queried; otherwise each alias is tried on its own and those JIRA
// rejects as unknown users are skipped.
func (a *Adapter) Fetch(ctx context.Context, id identity.Identity) (sources.Batch, error) {
	var issues []issue
	if id.AccountID != "" {
		found, err := a.search(ctx, a.jql(id.AccountID))
		if err != nil {
			return sources.Batch{}, fmt.Errorf("jira search: %w", err)
		}
		issues = found
	} else {
		seen := map[string]bool{}
		matched := false
		for _, alias := range id.IDs() {
			found, err := a.search(ctx, a.jql(alias))
			if atlassian.IsBadRequest(err) {
				slog.Debug("jira rejected assignee", "focus_user", id.FocusUser, "assignee", alias, "error", err)
				continue
			}
			if err != nil {
				return sources.Batch{}, fmt.Errorf("jira search: %w", err)
			}
			matched = true
			for _, is := range found {
				if !seen[is.Key] {
					seen[is.Key] = true
					issues = append(issues, is)
				}
			}
		}
		if !matched {
			return sources.Batch{}, fmt.Errorf("jira search: no alias of %s is a known assignee", id.FocusUser)
		}
	}

	records := make([]normalize.Record, 0, len(issues))
	for _, is := range issues {
		records = append(records, toRecord(is))
	}
	return sources.Batch{Records: records, FetchedAt: a.now()}, nil
}

// search follows nextPageToken until the last page or maxPages.
func (a *Adapter) search(ctx context.Context, jql string) ([]issue, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("fields", "summary,priority,duedate,updated,assignee")
	params.Set("maxResults", strconv.Itoa(a.maxResults))

	var out []issue
	for page := 0; page < maxPages; page++ {
		var resp searchResponse
		if err := a.client.GetJSON(ctx, searchPath, params, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Issues...)
		if resp.IsLast || resp.NextPageToken == "" || len(resp.Issues) == 0 {
			return out, nil
		}
		params.Set("nextPageToken", resp.NextPageToken)
	}
	slog.Warn("jira search truncated", "pages", maxPages, "issues", len(out))
	return out, nil
}

func (a *Adapter) jql(assignee string) string {
	jql := "assignee = " + atlassian.QuoteCQL(assignee) + " AND statusCategory != Done"
	if a.filter != "" {
		jql += " AND (" + a.filter + ")"
	}
	return jql + " ORDER BY updated DESC"
}

func toRecord(is issue) normalize.JiraIssue {
	rec := normalize.JiraIssue{
		Key:     is.Key,
		Summary: is.Fields.Summary,
	}
	if is.Fields.Priority != nil {
		rec.Priority = is.Fields.Priority.Name
	}
	if d, err := time.Parse(dueDateLayout, is.Fields.DueDate); err == nil {
		rec.DueDate = &d
	}
	if u, err := time.Parse(updatedLayout, is.Fields.Updated); err == nil {
		rec.Updated = u.UTC()
	}
	if as := is.Fields.Assignee; as != nil {
		switch {
		case as.AccountID != "":
			rec.Assignee = as.AccountID
		case as.EmailAddress != "":
			rec.Assignee = as.EmailAddress
		default:
			rec.Assignee = as.Name
		}
	}
	return rec
}
