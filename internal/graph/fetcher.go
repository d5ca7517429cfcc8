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

// Package graph provides the Outlook source adapter. It reads flagged or
// important mail and upcoming calendar entries from the Microsoft Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
	"github.com/bcem/priority/internal/sources"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Fetcher retrieves mail and calendar data for one mailbox. The HTTP client
// must already handle authentication (see cmd/server).
type Fetcher struct {
	httpClient   *http.Client
	graphBaseURL string
	lookahead    time.Duration
	maxPages     int
	now          func() time.Time
}

// NewFetcher creates a Graph API fetcher. lookahead bounds the calendar view.
func NewFetcher(httpClient *http.Client, graphBaseURL string, lookahead time.Duration) *Fetcher {
	if lookahead <= 0 {
		lookahead = 7 * 24 * time.Hour
	}
	return &Fetcher{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
		lookahead:    lookahead,
		maxPages:     5,
		now:          time.Now,
	}
}

// Source implements sources.Adapter.
func (f *Fetcher) Source() models.Source { return models.SourceOutlook }

// Fetch implements sources.Adapter. Messages and events are fetched in turn;
// a failure of either fails the whole batch so the snapshot never mixes a
// partial Outlook view with a complete one.
func (f *Fetcher) Fetch(ctx context.Context, id identity.Identity) (sources.Batch, error) {
	mailbox := id.Mailbox
	if mailbox == "" {
		mailbox = id.FocusUser
	}

	messages, err := f.FetchMessages(ctx, mailbox)
	if err != nil {
		return sources.Batch{}, err
	}
	events, err := f.FetchEvents(ctx, mailbox)
	if err != nil {
		return sources.Batch{}, err
	}

	records := make([]normalize.Record, 0, len(messages)+len(events))
	for _, m := range messages {
		records = append(records, m)
	}
	for _, e := range events {
		records = append(records, e)
	}
	return sources.Batch{Records: records, FetchedAt: f.now()}, nil
}

// FetchMessages lists flagged or high-importance messages in the mailbox.
func (f *Fetcher) FetchMessages(ctx context.Context, mailbox string) ([]normalize.OutlookMessage, error) {
	params := url.Values{}
	params.Set("$filter", "flag/flagStatus eq 'flagged' or importance eq 'high'")
	params.Set("$select", "id,subject,importance,flag,lastModifiedDateTime,receivedDateTime")
	params.Set("$top", "50")
	first := fmt.Sprintf("%s/users/%s/messages?%s", f.graphBaseURL, url.PathEscape(mailbox), params.Encode())

	var out []normalize.OutlookMessage
	err := f.paginate(ctx, first, func(body io.Reader) (string, error) {
		page, err := parseMessagePage(body, mailbox)
		if err != nil {
			return "", err
		}
		out = append(out, page.messages...)
		return page.nextLink, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// FetchEvents lists calendar entries between now and the lookahead horizon.
func (f *Fetcher) FetchEvents(ctx context.Context, mailbox string) ([]normalize.OutlookEvent, error) {
	start := f.now().UTC()
	params := url.Values{}
	params.Set("startDateTime", start.Format(time.RFC3339))
	params.Set("endDateTime", start.Add(f.lookahead).Format(time.RFC3339))
	params.Set("$select", "id,subject,importance,start,lastModifiedDateTime,isCancelled")
	params.Set("$top", "50")
	first := fmt.Sprintf("%s/users/%s/calendarView?%s", f.graphBaseURL, url.PathEscape(mailbox), params.Encode())

	var out []normalize.OutlookEvent
	err := f.paginate(ctx, first, func(body io.Reader) (string, error) {
		page, err := parseEventPage(body, mailbox)
		if err != nil {
			return "", err
		}
		out = append(out, page.events...)
		return page.nextLink, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// paginate follows @odata.nextLink up to maxPages.
func (f *Fetcher) paginate(ctx context.Context, first string, handle func(io.Reader) (string, error)) error {
	pages := 0
	for next := first; next != "" && pages < f.maxPages; pages++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			slog.Error("graph query error", "status", resp.StatusCode, "body", string(body))
			return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
		}

		next, err = handle(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeJSON is shared by the page parsers.
func decodeJSON(body io.Reader, v interface{}) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
