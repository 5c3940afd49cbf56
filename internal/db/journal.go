package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/occupancy.report/internal/crossing"
	"github.com/banshee-data/occupancy.report/internal/doorway"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

var _ doorway.Recorder = (*DB)(nil)

// CrossingRecord is a journaled entry or exit.
type CrossingRecord struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Direction string    `json:"direction"`
	Delta     int       `json:"delta"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
}

// TransitionRecord is a journaled state change.
type TransitionRecord struct {
	ID      int64               `json:"id"`
	At      time.Time           `json:"at"`
	From    occupancy.StateCode `json:"from"`
	To      occupancy.StateCode `json:"to"`
	InnerMM int                 `json:"inner_mm"`
	OuterMM int                 `json:"outer_mm"`
}

// OverrideRecord is a journaled manual count change.
type OverrideRecord struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Previous int       `json:"previous"`
	Count    int       `json:"count"`
	Source   string    `json:"source"`
}

// RecordCrossing implements doorway.Recorder.
func (db *DB) RecordCrossing(ctx context.Context, c doorway.Crossing) error {
	if c.Direction == crossing.None {
		return fmt.Errorf("refusing to record a crossing with no direction")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO crossings (crossing_id, occurred_unix_ms, direction, delta, count_after, occupancy_limit)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), c.At.UnixMilli(), c.Direction.String(), c.Direction.Delta(), c.Count, c.Limit,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crossing: %w", err)
	}
	return nil
}

// RecordTransition implements doorway.Recorder.
func (db *DB) RecordTransition(ctx context.Context, t doorway.Transition) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO state_transitions (occurred_unix_ms, from_state, to_state, inner_mm, outer_mm)
		 VALUES (?, ?, ?, ?, ?)`,
		t.At.UnixMilli(), int(t.From), int(t.To), t.InnerMM, t.OuterMM,
	)
	if err != nil {
		return fmt.Errorf("failed to insert state transition: %w", err)
	}
	return nil
}

// RecordCountOverride implements doorway.Recorder.
func (db *DB) RecordCountOverride(ctx context.Context, o doorway.Override) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO count_overrides (override_id, occurred_unix_ms, previous_count, new_count, source)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), o.At.UnixMilli(), o.Previous, o.Count, o.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert count override: %w", err)
	}
	return nil
}

func scanCrossings(rows *sql.Rows) ([]CrossingRecord, error) {
	defer rows.Close()
	var out []CrossingRecord
	for rows.Next() {
		var (
			c  CrossingRecord
			ms int64
		)
		if err := rows.Scan(&c.ID, &ms, &c.Direction, &c.Delta, &c.Count, &c.Limit); err != nil {
			return nil, err
		}
		c.At = time.UnixMilli(ms).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentCrossings returns up to limit crossings, newest first.
func (db *DB) RecentCrossings(ctx context.Context, limit int) ([]CrossingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT crossing_id, occurred_unix_ms, direction, delta, count_after, occupancy_limit
		 FROM crossings ORDER BY occurred_unix_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crossings: %w", err)
	}
	return scanCrossings(rows)
}

// CrossingsBetween returns crossings in [since, until), oldest first.
func (db *DB) CrossingsBetween(ctx context.Context, since, until time.Time) ([]CrossingRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT crossing_id, occurred_unix_ms, direction, delta, count_after, occupancy_limit
		 FROM crossings WHERE occurred_unix_ms >= ? AND occurred_unix_ms < ?
		 ORDER BY occurred_unix_ms, rowid`, since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query crossings: %w", err)
	}
	return scanCrossings(rows)
}

// RecentTransitions returns up to limit state transitions, newest first.
func (db *DB) RecentTransitions(ctx context.Context, limit int) ([]TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT transition_id, occurred_unix_ms, from_state, to_state, inner_mm, outer_mm
		 FROM state_transitions ORDER BY transition_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query state transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			t  TransitionRecord
			ms int64
		)
		if err := rows.Scan(&t.ID, &ms, &t.From, &t.To, &t.InnerMM, &t.OuterMM); err != nil {
			return nil, err
		}
		t.At = time.UnixMilli(ms).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentOverrides returns up to limit count overrides, newest first.
func (db *DB) RecentOverrides(ctx context.Context, limit int) ([]OverrideRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT override_id, occurred_unix_ms, previous_count, new_count, source
		 FROM count_overrides ORDER BY occurred_unix_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query count overrides: %w", err)
	}
	defer rows.Close()

	var out []OverrideRecord
	for rows.Next() {
		var (
			o  OverrideRecord
			ms int64
		)
		if err := rows.Scan(&o.ID, &ms, &o.Previous, &o.Count, &o.Source); err != nil {
			return nil, err
		}
		o.At = time.UnixMilli(ms).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}
