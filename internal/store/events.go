package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MergeEvent is one recorded merge activity.
type MergeEvent struct {
	ID        int64
	RecordID  int64
	Actor     string
	Action    string
	CreatedAt time.Time
}

// Metrics is the per-record aggregate updated alongside the merge event.
type Metrics struct {
	RecordID      int64
	MergedEventID int64
	MergedBy      string
	MergedAt      time.Time
}

// RecordMergeEvent writes the "merged" activity event and the record's
// aggregate metrics in one transaction. The pair is atomic: the metrics row
// always references the event written with it, and neither is ever
// observable without the other.
func (s *Store) RecordMergeEvent(ctx context.Context, recordID int64, actor string, at time.Time) (eventID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record merge event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO merge_events (record_id, actor, action, created_at)
		VALUES (?, ?, 'merged', ?)`,
		recordID, actor, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("record merge event: %w", err)
	}
	eventID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record merge event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO record_metrics (record_id, merged_event_id, merged_by, merged_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			merged_event_id = excluded.merged_event_id,
			merged_by = excluded.merged_by,
			merged_at = excluded.merged_at`,
		recordID, eventID, actor, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("record merge metrics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record merge event: commit: %w", err)
	}
	return eventID, nil
}

// MergeEvents returns the merge events for a record, oldest first.
func (s *Store) MergeEvents(ctx context.Context, recordID int64) ([]MergeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, actor, action, created_at
		FROM merge_events WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("merge events for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []MergeEvent
	for rows.Next() {
		var (
			ev        MergeEvent
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.Actor, &ev.Action, &createdAt); err != nil {
			return nil, fmt.Errorf("scan merge event: %w", err)
		}
		ev.CreatedAt = parseTime(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MetricsFor returns the aggregate metrics for a record, or ErrNotFound.
func (s *Store) MetricsFor(ctx context.Context, recordID int64) (*Metrics, error) {
	var (
		m        Metrics
		mergedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, merged_event_id, merged_by, merged_at
		FROM record_metrics WHERE record_id = ?`, recordID).
		Scan(&m.RecordID, &m.MergedEventID, &m.MergedBy, &mergedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metrics for record %d: %w", recordID, err)
	}
	m.MergedAt = parseTime(mergedAt)
	return &m, nil
}
