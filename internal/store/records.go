package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/record"
)

const recordColumns = `id, source_project, source_branch, target_project, target_branch,
	title, author, state, merge_job_token, merge_error, merge_commit_id,
	in_progress_commit_id, squash, fast_forward_only, force_remove_source_branch,
	diff_head_commit_id, diff_freshness, upstream_project_id, upstream_iid,
	created_at, updated_at`

// CreateRecord inserts a new Integration Record and fills in its id and
// timestamps. New records always start opened.
func (s *Store) CreateRecord(ctx context.Context, r *record.Record) error {
	now := time.Now()
	if r.State == "" {
		r.State = record.StateOpened
	}
	if r.DiffFreshness == "" {
		r.DiffFreshness = record.FreshnessUnchecked
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records
		(source_project, source_branch, target_project, target_branch,
		 title, author, state, merge_job_token, merge_error, merge_commit_id,
		 in_progress_commit_id, squash, fast_forward_only, force_remove_source_branch,
		 diff_head_commit_id, diff_freshness, upstream_project_id, upstream_iid,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.SourceProject, r.SourceBranch, r.TargetProject, r.TargetBranch,
		r.Title, r.Author, string(r.State), r.MergeJobToken, r.MergeError, r.MergeCommitID,
		r.InProgressCommitID, r.Squash, r.FastForwardOnly, r.ForceRemoveSourceBranch,
		r.DiffHeadCommitID, string(r.DiffFreshness), r.UpstreamProjectID, r.UpstreamIID,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	r.ID = id
	r.CreatedAt = now.UTC()
	r.UpdatedAt = now.UTC()
	return nil
}

// GetRecord loads one record by id. Returns ErrNotFound if absent.
func (s *Store) GetRecord(ctx context.Context, id int64) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return r, nil
}

// OpenedBySource returns the open records whose source branch is the given
// branch in the given project. Fork proposals are included: the match is on
// the source project, not the target.
func (s *Store) OpenedBySource(ctx context.Context, project, branch string) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE state = 'opened' AND source_project = ? AND source_branch = ?
		ORDER BY id`, project, branch)
}

// OpenedByTarget returns the open records targeting the given branch.
func (s *Store) OpenedByTarget(ctx context.Context, project, branch string) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE state = 'opened' AND target_project = ? AND target_branch = ?
		ORDER BY id`, project, branch)
}

// OpenedMirrored returns the open records tracking an upstream proposal.
func (s *Store) OpenedMirrored(ctx context.Context) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE state = 'opened' AND upstream_project_id <> 0 AND upstream_iid <> 0
		ORDER BY id`)
}

// ListRecords returns all records, newest first.
func (s *Store) ListRecords(ctx context.Context) ([]*record.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY id DESC`)
}

// CloseRecord transitions an opened record to closed. Closing an already
// closed or merged record is a no-op.
func (s *Store) CloseRecord(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET state = 'closed', updated_at = ?
		WHERE id = ? AND state = 'opened'`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("close record %d: %w", id, err)
	}
	return nil
}

// UpdateTitle replaces the record title.
func (s *Store) UpdateTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update title for record %d: %w", id, err)
	}
	return nil
}

// MarkUnchecked flags the record's diff state as needing re-validation.
func (s *Store) MarkUnchecked(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET diff_freshness = 'unchecked', updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark record %d unchecked: %w", id, err)
	}
	return nil
}

// MarkChecked flags the record's diff state as validated.
func (s *Store) MarkChecked(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET diff_freshness = 'checked', updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark record %d checked: %w", id, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		r                    record.Record
		state, freshness     string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.SourceProject, &r.SourceBranch, &r.TargetProject, &r.TargetBranch,
		&r.Title, &r.Author, &state, &r.MergeJobToken, &r.MergeError, &r.MergeCommitID,
		&r.InProgressCommitID, &r.Squash, &r.FastForwardOnly, &r.ForceRemoveSourceBranch,
		&r.DiffHeadCommitID, &freshness, &r.UpstreamProjectID, &r.UpstreamIID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = record.State(state)
	r.DiffFreshness = record.Freshness(freshness)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
