package refresh

import (
	"context"

	"github.com/forgeline/forgeline/internal/hooks"
	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/vcs"
)

// SuggestionOutdater outdates line-level suggestions that no longer apply
// after a push.
type SuggestionOutdater interface {
	Outdate(ctx context.Context, rec *record.Record) error
}

// AutoMergeAborter cancels an automatic-merge-on-pipeline-success request.
type AutoMergeAborter interface {
	Abort(ctx context.Context, rec *record.Record, reason string) error
}

// TodoService marks pending notifications/tasks done for the pushing user.
type TodoService interface {
	MarkPushDone(ctx context.Context, rec *record.Record, actor string) error
}

// PipelineService creates CI pipelines and refreshes head pipelines for
// affected records.
type PipelineService interface {
	Create(ctx context.Context, rec *record.Record, actor string) error
	RefreshHead(ctx context.Context, rec *record.Record) error
}

// PushNotifier tells watchers about newly pushed commits, split into
// commits the record already knew and genuinely new ones.
type PushNotifier interface {
	NotifyPush(ctx context.Context, rec *record.Record, actor string, newCommits, existingCommits []vcs.Commit) error
}

// WorkItemResolver resolves which work items a record would close.
type WorkItemResolver interface {
	ClosingItems(ctx context.Context, rec *record.Record) ([]int64, error)
}

// HookDispatcher delivers outbound integration hook payloads.
type HookDispatcher interface {
	Fire(ctx context.Context, payload hooks.Payload) error
}

// Collaborators are the external systems the refresh pipeline drives.
// Nil fields are skipped; every collaborator is optional.
type Collaborators struct {
	Suggestions SuggestionOutdater
	AutoMerge   AutoMergeAborter
	Todos       TodoService
	Pipelines   PipelineService
	Notifier    PushNotifier
	WorkItems   WorkItemResolver
	Hooks       HookDispatcher
}
