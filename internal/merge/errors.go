package merge

import (
	"errors"
	"fmt"
)

// MergeError represents a failed or rejected merge attempt.
//
// Expected outcomes (lock contention, conflicts, policy rejections) travel
// as MergeError values with a code, never as panics or bare sentinel
// errors. Only genuinely unexpected backend faults use CodeTransportFailure.
//
// Every code except CodeConcurrentMergeInProgress is persisted into the
// record's merge_error field; lock contention leaves the record untouched.
type MergeError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is a human-readable description. For pre-receive rejections
	// it carries the backend's reason verbatim.
	Message string

	// RecordID identifies the affected record.
	RecordID int64

	// JobToken correlates the failure with the attempt that produced it,
	// when one was in flight.
	JobToken string
}

// ErrorCode categorizes merge failures.
type ErrorCode string

const (
	// CodeConcurrentMergeInProgress means another attempt holds the record's
	// merge lock. No state was changed.
	CodeConcurrentMergeInProgress ErrorCode = "CONCURRENT_MERGE_IN_PROGRESS"

	// CodeRebaseRequired means the target project is fast-forward-only and
	// the source tip is not a descendant of the target tip.
	CodeRebaseRequired ErrorCode = "REBASE_REQUIRED"

	// CodeNotMergeable means the record's state disallows merging.
	CodeNotMergeable ErrorCode = "NOT_MERGEABLE"

	// CodeNoSourceCommit means no mergeable source commit could be resolved
	// (missing source tip, or the squash computation failed).
	CodeNoSourceCommit ErrorCode = "NO_SOURCE_COMMIT"

	// CodeConflictsDetected means the backend reported merge conflicts.
	CodeConflictsDetected ErrorCode = "CONFLICTS_DETECTED"

	// CodePreReceiveRejected means a backend-side policy declined the write.
	CodePreReceiveRejected ErrorCode = "PRE_RECEIVE_REJECTED"

	// CodeTransportFailure means the backend failed in an unspecified way.
	CodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"
)

// Error implements the error interface.
func (e *MergeError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("%s: %s (record=%d)", e.Code, e.Message, e.RecordID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the error code from err, or "" when err is not a
// MergeError. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var me *MergeError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsConcurrentMergeInProgress reports whether err is a lock-contention
// rejection.
func IsConcurrentMergeInProgress(err error) bool {
	return CodeOf(err) == CodeConcurrentMergeInProgress
}

// IsConflict reports whether err is a backend-reported conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflictsDetected
}

func newError(code ErrorCode, recordID int64, format string, args ...any) *MergeError {
	return &MergeError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		RecordID: recordID,
	}
}
