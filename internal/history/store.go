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

// Package history persists refreshed snapshots in Postgres so reports can
// describe what changed since the previous cycle.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/priority/internal/models"
)

// Entry is one persisted snapshot.
type Entry struct {
	ID           int64
	FocusUser    string
	RecordedAt   time.Time
	Critical     int
	High         int
	Medium       int
	Low          int
	Capacity     models.CapacityIndicator
	Badges       []models.PriorityBadge
	SourceStatus map[models.Source]models.SourceStatus
}

// NewEntry derives a history entry from snap.
func NewEntry(snap *models.AggregationSnapshot) Entry {
	counts := snap.CountByUrgency()
	return Entry{
		FocusUser:    snap.FocusUser,
		RecordedAt:   snap.Summary.LastUpdated,
		Critical:     counts[models.UrgencyCritical],
		High:         counts[models.UrgencyHigh],
		Medium:       counts[models.UrgencyMedium],
		Low:          counts[models.UrgencyLow],
		Capacity:     snap.CapacityIndicator,
		Badges:       snap.Badges,
		SourceStatus: snap.Summary.SourceStatus,
	}
}

// Store records snapshots in the snapshot_history table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a history store backed by the given Postgres pool.
// It ensures the snapshot_history table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	slog.Info("history store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshot_history (
			id            BIGSERIAL PRIMARY KEY,
			focus_user    TEXT NOT NULL,
			recorded_at   TIMESTAMPTZ NOT NULL,
			critical      INT NOT NULL DEFAULT 0,
			high          INT NOT NULL DEFAULT 0,
			medium        INT NOT NULL DEFAULT 0,
			low           INT NOT NULL DEFAULT 0,
			capacity_level TEXT NOT NULL,
			capacity_pct  DOUBLE PRECISION NOT NULL,
			badges        JSONB NOT NULL DEFAULT '[]',
			source_status JSONB NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_history_user_time ON snapshot_history(focus_user, recorded_at DESC);
	`)
	return err
}

// Record inserts snap.
func (s *Store) Record(ctx context.Context, snap *models.AggregationSnapshot) error {
	e := NewEntry(snap)
	badges, err := json.Marshal(e.Badges)
	if err != nil {
		return fmt.Errorf("marshal badges: %w", err)
	}
	status, err := json.Marshal(e.SourceStatus)
	if err != nil {
		return fmt.Errorf("marshal source status: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshot_history
			(focus_user, recorded_at, critical, high, medium, low,
			 capacity_level, capacity_pct, badges, source_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.FocusUser, e.RecordedAt, e.Critical, e.High, e.Medium, e.Low,
		string(e.Capacity.Level), e.Capacity.Percentage, badges, status)
	if err != nil {
		return fmt.Errorf("insert snapshot history: %w", err)
	}
	return nil
}

// Previous returns the newest entry for focusUser recorded strictly before
// before, or nil when there is none.
func (s *Store) Previous(ctx context.Context, focusUser string, before time.Time) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, focus_user, recorded_at, critical, high, medium, low,
		       capacity_level, capacity_pct, badges, source_status
		FROM snapshot_history
		WHERE focus_user = $1 AND recorded_at < $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, focusUser, before)
	return scanEntry(row)
}

// Prune deletes entries older than retention and returns the count removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshot_history WHERE recorded_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("prune snapshot history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e              Entry
		level          string
		badges, status []byte
	)
	err := row.Scan(
		&e.ID, &e.FocusUser, &e.RecordedAt, &e.Critical, &e.High, &e.Medium, &e.Low,
		&level, &e.Capacity.Percentage, &badges, &status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Capacity.Level = models.CapacityLevel(level)
	if err := json.Unmarshal(badges, &e.Badges); err != nil {
		return nil, fmt.Errorf("decode badges: %w", err)
	}
	if err := json.Unmarshal(status, &e.SourceStatus); err != nil {
		return nil, fmt.Errorf("decode source status: %w", err)
	}
	return &e, nil
}
