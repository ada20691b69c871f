package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Diff snapshot states. An empty snapshot means the source branch no longer
// contributes commits (e.g. it vanished or was fully merged).
const (
	DiffStateFresh = "fresh"
	DiffStateEmpty = "empty"
)

// DiffSnapshot is one materialized diff for a record. The newest snapshot
// per record is the authoritative one.
type DiffSnapshot struct {
	ID           int64
	RecordID     int64
	HeadCommitID string
	State        string
	CreatedAt    time.Time
}

// InsertDiffSnapshot writes a new snapshot with the commit ids it captured,
// and advances the record's observed diff head, all in one transaction.
func (s *Store) InsertDiffSnapshot(ctx context.Context, recordID int64, headCommitID, state string, commitIDs []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert diff snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO diff_snapshots (record_id, head_commit_id, state, created_at)
		VALUES (?, ?, ?, ?)`,
		recordID, headCommitID, state, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert diff snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert diff snapshot: %w", err)
	}

	for _, id := range commitIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO diff_snapshot_commits (snapshot_id, commit_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING`, snapshotID, id); err != nil {
			return 0, fmt.Errorf("insert snapshot commit: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE records SET diff_head_commit_id = ?, updated_at = ? WHERE id = ?`,
		headCommitID, formatTime(time.Now()), recordID); err != nil {
		return 0, fmt.Errorf("advance diff head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert diff snapshot: commit: %w", err)
	}
	return snapshotID, nil
}

// LatestDiffSnapshot returns the newest snapshot for a record, or
// ErrNotFound when the record has none.
func (s *Store) LatestDiffSnapshot(ctx context.Context, recordID int64) (*DiffSnapshot, error) {
	var (
		snap      DiffSnapshot
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, head_commit_id, state, created_at
		FROM diff_snapshots WHERE record_id = ?
		ORDER BY id DESC LIMIT 1`, recordID).
		Scan(&snap.ID, &snap.RecordID, &snap.HeadCommitID, &snap.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest diff snapshot for record %d: %w", recordID, err)
	}
	snap.CreatedAt = parseTime(createdAt)
	return &snap, nil
}

// SnapshotCommitIDs returns the commit ids a snapshot captured.
func (s *Store) SnapshotCommitIDs(ctx context.Context, snapshotID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_id FROM diff_snapshot_commits
		WHERE snapshot_id = ? ORDER BY commit_id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d commits: %w", snapshotID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot commit: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneDiffSnapshots deletes all but the newest snapshot for a record.
// Captured commit ids cascade with their snapshots.
func (s *Store) PruneDiffSnapshots(ctx context.Context, recordID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM diff_snapshots
		WHERE record_id = ?
		  AND id < (SELECT MAX(id) FROM diff_snapshots WHERE record_id = ?)`,
		recordID, recordID)
	if err != nil {
		return fmt.Errorf("prune diff snapshots for record %d: %w", recordID, err)
	}
	return nil
}

// DiffSnapshotCount returns how many snapshots a record has.
func (s *Store) DiffSnapshotCount(ctx context.Context, recordID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM diff_snapshots WHERE record_id = ?`, recordID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count diff snapshots for record %d: %w", recordID, err)
	}
	return n, nil
}
