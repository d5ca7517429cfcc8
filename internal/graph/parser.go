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
	"io"
	"strings"
	"time"

	"github.com/bcem/priority/internal/normalize"
)

// graphDateTimeLayout is the dateTime format of Graph dateTimeTimeZone values.
const graphDateTimeLayout = "2006-01-02T15:04:05.9999999"

// dateTimeTimeZone is Graph's zoned timestamp. With the UTC Prefer header
// the zone is always UTC.
type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (d *dateTimeTimeZone) time() *time.Time {
	if d == nil || d.DateTime == "" {
		return nil
	}
	loc := time.UTC
	if d.TimeZone != "" && !strings.EqualFold(d.TimeZone, "UTC") {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphDateTimeLayout, d.DateTime, loc)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// graphMessage represents the relevant fields from a Graph message.
type graphMessage struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Importance string `json:"importance"`
	Flag       struct {
		FlagStatus  string            `json:"flagStatus"`
		DueDateTime *dateTimeTimeZone `json:"dueDateTime"`
	} `json:"flag"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	ReceivedDateTime     time.Time `json:"receivedDateTime"`
}

type graphEvent struct {
	ID                   string            `json:"id"`
	Subject              string            `json:"subject"`
	Importance           string            `json:"importance"`
	Start                *dateTimeTimeZone `json:"start"`
	LastModifiedDateTime time.Time         `json:"lastModifiedDateTime"`
	IsCancelled          bool              `json:"isCancelled"`
}

type messagePage struct {
	messages []normalize.OutlookMessage
	nextLink string
}

type eventPage struct {
	events   []normalize.OutlookEvent
	nextLink string
}

// parseMessagePage converts a Graph messages page into native records.
func parseMessagePage(body io.Reader, mailbox string) (*messagePage, error) {
	var raw struct {
		Value    []graphMessage `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		return nil, err
	}

	page := &messagePage{nextLink: raw.NextLink}
	for _, m := range raw.Value {
		page.messages = append(page.messages, normalize.OutlookMessage{
			ID:               m.ID,
			Subject:          m.Subject,
			Importance:       m.Importance,
			Flagged:          strings.EqualFold(m.Flag.FlagStatus, "flagged"),
			FlagDue:          m.Flag.DueDateTime.time(),
			LastModified:     m.LastModifiedDateTime.UTC(),
			ReceivedDateTime: m.ReceivedDateTime.UTC(),
			Mailbox:          mailbox,
		})
	}
	return page, nil
}

// parseEventPage converts a Graph calendarView page, skipping cancelled events.
func parseEventPage(body io.Reader, mailbox string) (*eventPage, error) {
	var raw struct {
		Value    []graphEvent `json:"value"`
		NextLink string       `json:"@odata.nextLink"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		return nil, err
	}

	page := &eventPage{nextLink: raw.NextLink}
	for _, e := range raw.Value {
		if e.IsCancelled {
			continue
		}
		ev := normalize.OutlookEvent{
			ID:           e.ID,
			Subject:      e.Subject,
			Importance:   e.Importance,
			LastModified: e.LastModifiedDateTime.UTC(),
			Mailbox:      mailbox,
		}
		if start := e.Start.time(); start != nil {
			ev.Start = *start
		}
		page.events = append(page.events, ev)
	}
	return page, nil
}
