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

// Package confluence fetches pages created by the focus user.
package confluence

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
	"github.com/bcem/priority/internal/sources"
	"github.com/bcem/priority/internal/sources/atlassian"
)

// Adapter runs a CQL content search.
type Adapter struct {
	client *atlassian.Client
	limit  int
	now    func() time.Time
}

// NewAdapter creates a Confluence adapter.
func NewAdapter(client *atlassian.Client, limit int) *Adapter {
	if limit <= 0 {
		limit = 50
	}
	return &Adapter{client: client, limit: limit, now: time.Now}
}

// Source implements sources.Adapter.
func (a *Adapter) Source() models.Source { return models.SourceConfluence }

type searchResponse struct {
	Results []content `json:"results"`
}

type content struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	History struct {
		CreatedBy struct {
			AccountID string `json:"accountId"`
			Email     string `json:"email"`
		} `json:"createdBy"`
		LastUpdated struct {
			When time.Time `json:"when"`
		} `json:"lastUpdated"`
	} `json:"history"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
}

// Fetch implements sources.Adapter.
func (a *Adapter) Fetch(ctx context.Context, id identity.Identity) (sources.Batch, error) {
	creator := id.AccountID
	if creator == "" {
		creator = id.FocusUser
	}

	params := url.Values{}
	params.Set("cql", fmt.Sprintf("type = page AND creator = %s ORDER BY lastmodified DESC", atlassian.QuoteCQL(creator)))
	params.Set("expand", "history.lastUpdated,metadata.labels")
	params.Set("limit", strconv.Itoa(a.limit))

	var resp searchResponse
	if err := a.client.GetJSON(ctx, "/wiki/rest/api/content/search", params, &resp); err != nil {
		return sources.Batch{}, fmt.Errorf("confluence search: %w", err)
	}

	records := make([]normalize.Record, 0, len(resp.Results))
	for _, c := range resp.Results {
		page := normalize.ConfluencePage{
			ID:          c.ID,
			Title:       c.Title,
			LastUpdated: c.History.LastUpdated.When.UTC(),
			Author:      c.History.CreatedBy.AccountID,
		}
		if page.Author == "" {
			page.Author = c.History.CreatedBy.Email
		}
		for _, l := range c.Metadata.Labels.Results {
			page.Labels = append(page.Labels, l.Name)
		}
		records = append(records, page)
	}
	return sources.Batch{Records: records, FetchedAt: a.now()}, nil
}
