package store

import (
	"context"
	"fmt"
	"time"
)

// Note is one audit note left on a record by the pipelines.
type Note struct {
	ID        int64
	RecordID  int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// AddNote appends an audit note to a record.
func (s *Store) AddNote(ctx context.Context, recordID int64, author, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (record_id, author, body, created_at)
		VALUES (?, ?, ?, ?)`,
		recordID, author, body, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("add note to record %d: %w", recordID, err)
	}
	return nil
}

// Notes returns a record's audit notes, oldest first.
func (s *Store) Notes(ctx context.Context, recordID int64) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, author, body, created_at
		FROM notes WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("notes for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			n         Note
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.RecordID, &n.Author, &n.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ReplaceClosingWorkItems overwrites the cache of work items a record would
// close on merge.
func (s *Store) ReplaceClosingWorkItems(ctx context.Context, recordID int64, itemIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace closing work items: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM closing_work_items WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("replace closing work items: %w", err)
	}
	for _, itemID := range itemIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO closing_work_items (record_id, work_item_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING`, recordID, itemID); err != nil {
			return fmt.Errorf("replace closing work items: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace closing work items: commit: %w", err)
	}
	return nil
}

// ClosingWorkItems returns the cached ids of work items a record would
// close on merge.
func (s *Store) ClosingWorkItems(ctx context.Context, recordID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_item_id FROM closing_work_items
		WHERE record_id = ? ORDER BY work_item_id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("closing work items for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan closing work item: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
