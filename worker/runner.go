// Package worker provides the job execution engine: a Runner that
// invokes registered handlers through middleware and settles the job's
// terminal state, and a Pool that manages worker goroutines polling
// the queue one job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
	"github.com/sightline/forensic/middleware"
)

// Runner executes a single job through middleware and the registered
// handler, then settles state and the terminal result.
type Runner struct {
	registry *job.Registry
	store    job.Store
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(
	registry *job.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Runner {
	return &Runner{
		registry: registry,
		store:    store,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Run executes a job through the middleware chain and handler, then
// settles the outcome:
//
//   - success: a final progress-100 result is appended and the job
//     record moves to success.
//   - revocation (job context cancelled, however the handler reports
//     it): the record moves to revoked. The terminal cancelled result
//     is written by the canceller, so exactly one final result reaches
//     the stream.
//   - error or panic: a final error result is appended and the record
//     moves to failure, with the stack preserved for panics.
func (r *Runner) Run(ctx context.Context, j *job.Job) error {
	handler, ok := r.registry.Get(j.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for job %q", j.Name)
		r.settleFailure(j, err.Error(), "")
		return err
	}

	emitter := &storeEmitter{store: r.store, jobID: j.ID}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j, emitter)
	}

	err := r.mw(ctx, j, terminal)

	switch {
	case err == nil:
		return r.settleSuccess(j)
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		// Handlers often surface revocation as a wrapped transport
		// error (a camera read cut mid-stream, not context.Canceled).
		// The live context decides the outcome, not the error's type.
		return r.settleRevoked(j)
	default:
		var pe *middleware.PanicError
		if errors.As(err, &pe) {
			r.settleFailure(j, pe.Error(), pe.Stack)
		} else {
			r.settleFailure(j, err.Error(), "")
		}
		return err
	}
}

// alreadySettled reports whether another writer has already moved the
// job to a terminal state. Engine.Cancel settles the job directly, and
// its final result must stay the only one in the stream.
func (r *Runner) alreadySettled(j *job.Job) bool {
	cur, err := r.store.GetJob(context.Background(), j.ID)
	if err != nil || !cur.State.Terminal() {
		return false
	}
	r.logger.Debug("job already settled, keeping existing final result",
		slog.String("job_id", j.ID.String()),
		slog.String("state", string(cur.State)),
	)
	return true
}

// settleSuccess appends the final progress marker and marks the record.
// The result is written first so a subscriber that observes the
// terminal state always finds the final result retained.
func (r *Runner) settleSuccess(j *job.Job) error {
	if r.alreadySettled(j) {
		return nil
	}
	final := &job.Result{
		JobID: j.ID,
		Meta:  job.Meta{Kind: job.KindProgress, Progress: 100},
		Final: true,
		At:    time.Now().UTC(),
	}
	if err := r.store.AppendResult(context.Background(), final); err != nil {
		r.logger.Error("failed to append final result",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := r.store.SetState(context.Background(), j.ID, job.StateSuccess, "", ""); err != nil {
		r.logger.Error("failed to mark job succeeded",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (r *Runner) settleRevoked(j *job.Job) error {
	if err := r.store.SetState(context.Background(), j.ID, job.StateRevoked, "", ""); err != nil {
		r.logger.Error("failed to mark job revoked",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.logger.Info("job revoked", slog.String("job_id", j.ID.String()))
	return nil
}

func (r *Runner) settleFailure(j *job.Job, msg, stack string) {
	if r.alreadySettled(j) {
		return
	}
	final := &job.Result{
		JobID: j.ID,
		Meta:  job.Meta{Kind: job.KindError, Message: msg},
		Final: true,
		At:    time.Now().UTC(),
	}
	if err := r.store.AppendResult(context.Background(), final); err != nil {
		r.logger.Error("failed to append error result",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := r.store.SetState(context.Background(), j.ID, job.StateFailure, msg, stack); err != nil {
		r.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// storeEmitter is the job.Emitter handed to handlers. Every emitted
// result is non-final; terminal results are the Runner's business.
type storeEmitter struct {
	store job.ResultStore
	jobID id.JobID
}

func (e *storeEmitter) Emit(ctx context.Context, meta job.Meta, frame []byte) error {
	return e.store.AppendResult(ctx, &job.Result{
		JobID: e.jobID,
		Meta:  meta,
		Frame: frame,
		At:    time.Now().UTC(),
	})
}
