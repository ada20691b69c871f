package mirror

import (
	"context"
	"time"

	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/merge"
	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
)

// Reconciler polls upstream proposals for mirrored records and applies
// upstream state transitions locally. A proposal merged upstream runs the
// regular post-merge orchestration here; a proposal closed upstream closes
// the local record.
type Reconciler struct {
	*Client

	store    *store.Store
	post     *merge.PostMergeService
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler wires an upstream reconciler.
func NewReconciler(client *Client, st *store.Store, post *merge.PostMergeService, interval time.Duration) *Reconciler {
	return &Reconciler{
		Client:   client,
		store:    st,
		post:     post,
		interval: interval,
		logger:   client.logger.Named("reconciler"),
	}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	tick := time.Tick(r.interval)

	for {
		select {
		case <-tick:
			r.ReconcileOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("Stopping mirror reconciler")
			return
		}
	}
}

// ReconcileOnce walks every opened mirrored record once. A failure on one
// record is logged and never stops the sweep.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	r.logger.Info("Start mirror reconciliation iteration")
	defer r.logger.Info("Finish mirror reconciliation iteration")

	recs, err := r.store.OpenedMirrored(ctx)
	if err != nil {
		r.logger.Error("Failed to list mirrored records", zap.Error(err))
		return
	}

	for _, rec := range recs {
		if err := r.reconcileRecord(ctx, rec); err != nil {
			r.logger.Error("Failed to reconcile record",
				zap.Int64("record_id", rec.ID),
				zap.Int64("upstream_project_id", rec.UpstreamProjectID),
				zap.Int("upstream_iid", rec.UpstreamIID),
				zap.Error(err),
			)
		}
	}
}

func (r *Reconciler) reconcileRecord(ctx context.Context, rec *record.Record) error {
	mr, err := r.MergeRequest(rec.UpstreamProjectID, rec.UpstreamIID)
	if err != nil {
		return err
	}

	switch mr.State {
	case "merged":
		return r.applyUpstreamMerge(ctx, rec, mr)
	case "closed":
		return r.applyUpstreamClose(ctx, rec)
	default:
		return nil
	}
}

// applyUpstreamMerge marks the record merged with the upstream merge commit
// and runs the full post-merge sequence locally.
func (r *Reconciler) applyUpstreamMerge(ctx context.Context, rec *record.Record, mr *gitlab.MergeRequest) error {
	rec.MergeCommitID = mr.MergeCommitSHA
	if rec.MergeCommitID == "" {
		rec.MergeCommitID = mr.SquashCommitSHA
	}

	actor := "mirror"
	if mr.MergedBy != nil && mr.MergedBy.Username != "" {
		actor = mr.MergedBy.Username
	}

	r.logger.Info("Upstream proposal merged, applying locally",
		zap.Int64("record_id", rec.ID),
		zap.String("merge_commit_id", rec.MergeCommitID),
		zap.String("actor", actor),
	)
	return r.post.Execute(ctx, rec, actor)
}

func (r *Reconciler) applyUpstreamClose(ctx context.Context, rec *record.Record) error {
	r.logger.Info("Upstream proposal closed, closing locally",
		zap.Int64("record_id", rec.ID))

	if err := r.store.CloseRecord(ctx, rec.ID); err != nil {
		return err
	}
	return r.store.AddNote(ctx, rec.ID, "mirror", "closed because the upstream proposal was closed")
}
