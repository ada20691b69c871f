package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireMergeLock attempts the opened → locked transition for one merge
// attempt. The transition is a single compare-and-set UPDATE: exactly one of
// any number of racing attempts observes rows-affected == 1; the rest get
// acquired == false and must fail fast.
//
// Acquiring the lock also resets the per-attempt outcome fields
// (merge_error, merge_commit_id) and stamps the job token and the commit id
// the attempt will merge.
func (s *Store) AcquireMergeLock(ctx context.Context, id int64, jobToken, inProgressCommitID string) (acquired bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			state = 'locked',
			merge_job_token = ?,
			in_progress_commit_id = ?,
			merge_error = '',
			merge_commit_id = '',
			updated_at = ?
		WHERE id = ? AND state = 'opened'`,
		jobToken, inProgressCommitID, formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("acquire merge lock for record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire merge lock for record %d: %w", id, err)
	}
	return n == 1, nil
}

// FailMerge releases the merge lock back to opened and records the failure
// reason. The in-flight token and in-progress commit are always cleared.
func (s *Store) FailMerge(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			state = 'opened',
			merge_job_token = '',
			in_progress_commit_id = '',
			merge_error = ?,
			updated_at = ?
		WHERE id = ? AND state = 'locked'`,
		reason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fail merge for record %d: %w", id, err)
	}
	return nil
}

// FinishMerge marks the record merged: the durable first step of post-merge
// orchestration. It releases the merge lock when one is held, clears the
// in-flight fields, and persists the merge commit when known. Records
// merged manually (outside the merge service) arrive here from opened
// rather than locked. Finishing an already-merged record is a no-op, which
// makes the call idempotent for retried orchestration.
func (s *Store) FinishMerge(ctx context.Context, id int64, mergeCommitID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			state = 'merged',
			merge_job_token = '',
			in_progress_commit_id = '',
			merge_error = '',
			merge_commit_id = CASE WHEN ? <> '' THEN ? ELSE merge_commit_id END,
			updated_at = ?
		WHERE id = ? AND state IN ('opened', 'locked')`,
		mergeCommitID, mergeCommitID, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish merge for record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish merge for record %d: %w", id, err)
	}
	if n == 0 {
		r, err := s.GetRecord(ctx, id)
		if err != nil {
			return fmt.Errorf("finish merge for record %d: %w", id, err)
		}
		if r.State != "merged" {
			return fmt.Errorf("finish merge for record %d: record is %s", id, r.State)
		}
	}
	return nil
}
