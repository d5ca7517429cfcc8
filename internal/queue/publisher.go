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

// Package queue publishes critical-priority alerts to a Redis list for the
// chat layer, which pops them and notifies the focus user.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/priority/internal/models"
)

// DefaultQueue is the Redis list alerts are pushed to.
const DefaultQueue = "priority:alerts"

// alertType tags the envelope so consumers can multiplex the list.
const alertType = "priority.critical"

// Envelope is the JSON message pushed to the queue.
type Envelope struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	FocusUser string               `json:"focusUser"`
	Badge     models.PriorityBadge `json:"badge"`
	CreatedAt time.Time            `json:"createdAt"`
}

// Deduper suppresses repeat alerts.
type Deduper interface {
	IsNew(ctx context.Context, focusUser string, source models.Source, id string) (bool, error)
}

// Publisher sends alert envelopes to Redis.
type Publisher struct {
	rdb       *redis.Client
	push      func(ctx context.Context, payload string) error
	queueName string
	dedup     Deduper
	now       func() time.Time
}

// NewPublisher creates a Redis publisher targeting queueName. dedup may be
// nil, in which case every critical badge is published on every call.
func NewPublisher(rdb *redis.Client, queueName string, dedup Deduper) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb: rdb,
		push: func(ctx context.Context, payload string) error {
			return rdb.LPush(ctx, queueName, payload).Err()
		},
		queueName: queueName,
		dedup:     dedup,
		now:       time.Now,
	}
}

// Notify publishes every CRITICAL badge of snap that has not been alerted
// yet and returns the number published. Dedup errors skip the badge so a
// flaky Redis never floods the queue.
func (p *Publisher) Notify(ctx context.Context, snap *models.AggregationSnapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}
	published := 0
	for _, b := range snap.Badges {
		if b.Urgency != models.UrgencyCritical {
			continue
		}
		if p.dedup != nil {
			fresh, err := p.dedup.IsNew(ctx, snap.FocusUser, b.Source, b.ID)
			if err != nil {
				slog.Warn("alert dedup failed, skipping badge", "focus_user", snap.FocusUser, "badge", b.ID, "error", err)
				continue
			}
			if !fresh {
				continue
			}
		}
		if err := p.Publish(ctx, snap.FocusUser, b); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Publish pushes a single alert envelope.
func (p *Publisher) Publish(ctx context.Context, focusUser string, badge models.PriorityBadge) error {
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      alertType,
		FocusUser: focusUser,
		Badge:     badge,
		CreatedAt: p.now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	// Consumers BRPOP, so LPUSH gives FIFO order.
	if err := p.push(ctx, string(payload)); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published critical alert",
		"alert_id", env.ID,
		"focus_user", focusUser,
		"source", badge.Source,
		"badge", badge.ID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
