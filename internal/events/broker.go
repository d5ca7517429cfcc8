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

// Package events is an in-process broker for dashboard notifications.
// Subscribers receive typed events on their own buffered channel; a slow
// subscriber loses events rather than blocking publishers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/priority/internal/models"
	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	// SnapshotRefreshed is published after a new snapshot is cached.
	SnapshotRefreshed Type = "snapshot.refreshed"
	// CacheCleared is published after every snapshot was invalidated.
	CacheCleared Type = "cache.cleared"
)

// Event is a single notification.
type Event struct {
	ID        string                    `json:"id"`
	Type      Type                      `json:"type"`
	FocusUser string                    `json:"focusUser,omitempty"`
	At        time.Time                 `json:"at"`
	Capacity  *models.CapacityIndicator `json:"capacityIndicator,omitempty"`
	Failed    []models.Source           `json:"failedSources,omitempty"`
}

// Filter selects the events a subscriber wants. A nil filter accepts all.
type Filter func(Event) bool

// ForUser accepts events for focusUser plus broadcast events with no user.
func ForUser(focusUser string) Filter {
	return func(e Event) bool {
		return e.FocusUser == "" || e.FocusUser == focusUser
	}
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker fans events out to subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	buffer int
	now    func() time.Time
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once. After Close the
// channel is returned already closed.
func (b *Broker) Subscribe(filter Filter) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer), filter: filter}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}
}

// Close ends every subscription. Streams reading from the broker see their
// channel close and return.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish stamps e with an id and time when missing and delivers it.
func (b *Broker) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slog.Debug("dropping event for slow subscriber", "type", e.Type, "focus_user", e.FocusUser)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
