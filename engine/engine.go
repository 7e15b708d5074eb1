package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
	mw "github.com/sightline/forensic/middleware"
	"github.com/sightline/forensic/worker"
)

// Engine is the application-facing facade over the job store, the
// registry, and the worker pool.
type Engine struct {
	store    job.Store
	registry *job.Registry
	pool     *worker.Pool
	config   forensic.Config
	logger   *slog.Logger

	mws []mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithMiddleware appends middleware to the execution chain, after the
// default recover/tracing/metrics/logging stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// metrics middleware uses this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine over the given store.
func New(store job.Store, config forensic.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, forensic.ErrNoStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	eng := &Engine{
		store:    store,
		registry: job.NewRegistry(),
		config:   config,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/sightline/forensic"))
	}

	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/sightline/forensic"))
	}

	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	runner := worker.NewRunner(eng.registry, store, logger, allMws...)
	eng.pool = worker.NewPool(store, runner, logger,
		worker.WithPoolQueue(config.Queue),
		worker.WithPollInterval(config.PollInterval),
	)

	return eng, nil
}

// Registry returns the job registry for handler registration.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the underlying job store.
func (eng *Engine) Store() job.Store { return eng.store }

// WorkerID returns the worker pool's identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// Start begins job processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the worker pool, bounded by the
// configured shutdown timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	return eng.pool.Stop(ctx)
}

// Submit validates the search parameters, enqueues the job, and
// returns it immediately. The job record carries type and creation
// time for later introspection.
func (eng *Engine) Submit(ctx context.Context, name string, params job.Params) (*job.Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity: forensic.NewEntity(),
		ID:     id.NewJobID(),
		Name:   name,
		Queue:  eng.config.Queue,
		Params: params,
		State:  job.StatePending,
	}

	if err := eng.store.Enqueue(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.String("target", string(params.Target)),
		slog.Int("sources", len(params.Sources)),
	)
	return j, nil
}

// SubmitRaw decodes a dashboard submission payload and submits it.
func (eng *Engine) SubmitRaw(ctx context.Context, name string, payload []byte) (*job.Job, error) {
	params, err := job.ParseSubmission(payload)
	if err != nil {
		return nil, err
	}
	return eng.Submit(ctx, name, params)
}

// Cancel revokes a job. A revoke request goes to the broker so the
// worker pool can cancel the running unit of work; independently, the
// cancelled final result is written directly to the result store so
// subscribers are notified even if forced termination races the
// notification. Cancelling a job that already reached a terminal state
// returns forensic.ErrInvalidState.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", forensic.ErrInvalidState, jobID, j.State)
	}

	if err := eng.store.Revoke(ctx, jobID); err != nil {
		eng.logger.Warn("revoke publish failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}

	final := &job.Result{
		JobID: jobID,
		Meta:  job.Meta{Kind: job.KindCancelled, Message: forensic.ErrCancelled.Error()},
		Final: true,
		At:    time.Now().UTC(),
	}
	if err := eng.store.AppendResult(ctx, final); err != nil {
		return fmt.Errorf("engine: write cancelled result: %w", err)
	}

	if err := eng.store.SetState(ctx, jobID, job.StateRevoked, "", ""); err != nil {
		return err
	}

	eng.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	return nil
}

// Status returns the job's user-visible state. The transient retry
// state is reported as started; an unrecognized stored state maps to
// failure so polling can never get stuck.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (job.State, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.MapNative(string(j.State)), nil
}

// Err returns the failure message and stack trace of a failed job.
// Both are empty when the job has not failed.
func (eng *Engine) Err(ctx context.Context, jobID id.JobID) (msg, stack string, err error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return "", "", err
	}
	return j.LastError, j.Stacktrace, nil
}

// Results returns one page of the job's retained detection results.
func (eng *Engine) Results(ctx context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Result, int, error) {
	return eng.store.ListResults(ctx, jobID, opts)
}

// Frame fetches a stored frame blob by its derived key.
func (eng *Engine) Frame(ctx context.Context, jobID id.JobID, frameID string) ([]byte, error) {
	return eng.store.GetFrame(ctx, jobID, frameID)
}

// Delete removes the job's result list, frame blobs, and metadata.
// Reports whether any of them existed. Idempotent: a second call
// reports false without error.
func (eng *Engine) Delete(ctx context.Context, jobID id.JobID) (bool, error) {
	resultsExisted, err := eng.store.DeleteResults(ctx, jobID)
	if err != nil {
		return false, err
	}
	metaExisted, err := eng.store.DeleteJob(ctx, jobID)
	if err != nil {
		return resultsExisted, err
	}
	return resultsExisted || metaExisted, nil
}

// Subscribe returns a channel of the job's results. With replay, the
// retained detection history is drained first, then the live channel.
// When no live message arrives within the poll interval the job status
// is checked; once terminal, a short bounded number of settle polls
// closes the race against the last in-flight publish, then the channel
// is closed. The channel also closes after forwarding a final result.
func (eng *Engine) Subscribe(ctx context.Context, jobID id.JobID, replay bool) (<-chan *job.Result, error) {
	if _, err := eng.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	sub, err := eng.store.SubscribeResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := make(chan *job.Result)
	go eng.drain(ctx, jobID, sub, out, replay)
	return out, nil
}

// drain feeds one subscription into out until a final result, a
// settled terminal status, or context cancellation.
func (eng *Engine) drain(ctx context.Context, jobID id.JobID, sub job.ResultSub, out chan<- *job.Result, replay bool) {
	defer close(out)
	defer sub.Close()

	if replay {
		// The raw retained list, markers and final included: a
		// subscriber joining after completion still sees the full
		// stream end in the final result.
		history, err := eng.store.ReplayResults(ctx, jobID)
		if err != nil {
			eng.logger.Warn("history replay failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
		for _, res := range history {
			if !eng.forward(ctx, out, res) {
				return
			}
			if res.Final {
				return
			}
		}
	}

	settlePolls := eng.config.SettlePolls
	settling := -1

	for {
		res, err := sub.Next(ctx, eng.pollInterval())
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			eng.logger.Warn("subscription read failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			return
		}

		if res != nil {
			if !eng.forward(ctx, out, res) {
				return
			}
			if res.Final {
				return
			}
			continue
		}

		// Poll interval elapsed in silence; consult job status.
		if settling < 0 {
			state, err := eng.Status(ctx, jobID)
			if err != nil {
				eng.logger.Warn("status check failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()),
				)
				return
			}
			if state.Terminal() {
				settling = settlePolls
			}
			continue
		}

		if settling == 0 {
			return
		}
		settling--
	}
}

func (eng *Engine) forward(ctx context.Context, out chan<- *job.Result, res *job.Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (eng *Engine) pollInterval() time.Duration {
	if eng.config.PollInterval > 0 {
		return eng.config.PollInterval
	}
	return time.Second
}
