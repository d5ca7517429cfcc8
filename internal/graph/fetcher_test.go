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

package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
)

const messagesPage1 = `{
  "value": [
    {"id": "m1", "subject": "Contract review", "importance": "high",
     "flag": {"flagStatus": "flagged", "dueDateTime": {"dateTime": "2026-03-05T17:00:00.0000000", "timeZone": "UTC"}},
     "lastModifiedDateTime": "2026-03-01T09:00:00Z", "receivedDateTime": "2026-02-28T09:00:00Z"}
  ],
  "@odata.nextLink": "%s/users/alice%%40example.com/messages?page=2"
}`

const messagesPage2 = `{
  "value": [
    {"id": "m2", "subject": "FYI", "importance": "normal", "flag": {"flagStatus": "notFlagged"},
     "lastModifiedDateTime": "2026-03-01T10:00:00Z", "receivedDateTime": "2026-03-01T10:00:00Z"}
  ]
}`

const eventsPage = `{
  "value": [
    {"id": "e1", "subject": "Quarterly planning", "importance": "high",
     "start": {"dateTime": "2026-03-03T14:30:00.0000000", "timeZone": "UTC"},
     "lastModifiedDateTime": "2026-02-27T08:00:00Z", "isCancelled": false},
    {"id": "e2", "subject": "Cancelled sync", "importance": "normal",
     "start": {"dateTime": "2026-03-04T10:00:00.0000000", "timeZone": "UTC"},
     "lastModifiedDateTime": "2026-02-27T08:00:00Z", "isCancelled": true}
  ]
}`

func newGraphServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Prefer"); got != `outlook.timezone="UTC"` {
			t.Errorf("expected UTC Prefer header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages") && r.URL.Query().Get("page") == "2":
			fmt.Fprint(w, messagesPage2)
		case strings.HasSuffix(r.URL.Path, "/messages"):
			if !strings.Contains(r.URL.Query().Get("$filter"), "flagged") {
				t.Errorf("expected flag filter, got %q", r.URL.Query().Get("$filter"))
			}
			fmt.Fprintf(w, messagesPage1, server.URL)
		case strings.HasSuffix(r.URL.Path, "/calendarView"):
			if r.URL.Query().Get("startDateTime") == "" || r.URL.Query().Get("endDateTime") == "" {
				t.Error("calendarView requires a start and end")
			}
			fmt.Fprint(w, eventsPage)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &paths
}

func TestFetch_MessagesAndEvents(t *testing.T) {
	server, paths := newGraphServer(t)

	f := NewFetcher(server.Client(), server.URL, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	batch, err := f.Fetch(context.Background(), identity.Identity{FocusUser: "alice", Mailbox: "alice@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*paths) != 3 {
		t.Errorf("expected 3 requests (2 message pages, 1 calendar), got %d: %v", len(*paths), *paths)
	}
	if !batch.FetchedAt.Equal(now) {
		t.Errorf("expected FetchedAt %v, got %v", now, batch.FetchedAt)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("expected 3 records (cancelled event skipped), got %d", len(batch.Records))
	}

	m1, ok := batch.Records[0].(normalize.OutlookMessage)
	if !ok {
		t.Fatalf("expected OutlookMessage, got %T", batch.Records[0])
	}
	if !m1.Flagged || m1.Importance != "high" {
		t.Errorf("unexpected message flags: %+v", m1)
	}
	if m1.FlagDue == nil || !m1.FlagDue.Equal(time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected flag due: %v", m1.FlagDue)
	}
	if m1.Mailbox != "alice@example.com" {
		t.Errorf("expected mailbox alice@example.com, got %s", m1.Mailbox)
	}

	ev, ok := batch.Records[2].(normalize.OutlookEvent)
	if !ok {
		t.Fatalf("expected OutlookEvent, got %T", batch.Records[2])
	}
	if ev.ID != "e1" || !ev.Start.Equal(time.Date(2026, 3, 3, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected event: %+v", ev)
	}

	res := normalize.Normalize(models.SourceOutlook, batch.Records)
	if res.Dropped != 0 || len(res.Items) != 3 {
		t.Errorf("expected 3 normalized items, got %d (dropped %d)", len(res.Items), res.Dropped)
	}
}

func TestFetch_MailboxFallsBackToFocusUser(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got == "" {
			got = r.URL.Path
		}
		fmt.Fprint(w, `{"value": []}`)
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), server.URL, time.Hour)
	if _, err := f.Fetch(context.Background(), identity.Identity{FocusUser: "bob"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/users/bob/messages" {
		t.Errorf("expected /users/bob/messages, got %s", got)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"code": "ErrorAccessDenied"}}`)
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), server.URL, 0)
	_, err := f.Fetch(context.Background(), identity.Identity{FocusUser: "alice"})
	if err == nil {
		t.Fatal("expected error for HTTP 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestFetch_PageLimit(t *testing.T) {
	requests := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprintf(w, `{"value": [], "@odata.nextLink": "%s%s"}`, server.URL, r.URL.Path)
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), server.URL, 0)
	f.maxPages = 2
	if _, err := f.FetchMessages(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 2 {
		t.Errorf("expected paging to stop after 2 requests, got %d", requests)
	}
}

func TestDateTimeTimeZone(t *testing.T) {
	var nilDT *dateTimeTimeZone
	if nilDT.time() != nil {
		t.Error("nil dateTimeTimeZone should yield nil")
	}

	dt := &dateTimeTimeZone{DateTime: "2026-03-05T09:00:00.0000000", TimeZone: "America/New_York"}
	got := dt.time()
	if got == nil {
		t.Fatal("expected a time")
	}
	if want := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if (&dateTimeTimeZone{DateTime: "not a time"}).time() != nil {
		t.Error("unparseable dateTime should yield nil")
	}
}
