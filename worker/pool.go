package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sightline/forensic/backoff"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// Pool manages worker goroutines that poll the queue and execute jobs
// through the Runner. Each goroutine handles exactly one job at a
// time: job N+1 is never dequeued before job N finishes.
type Pool struct {
	store        job.Store
	runner       *Runner
	concurrency  int
	queue        string
	pollInterval time.Duration
	backoff      backoff.Strategy
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines. Each still
// runs a single job at a time.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueue sets the queue the pool polls.
func WithPoolQueue(queue string) PoolOption {
	return func(p *Pool) { p.queue = queue }
}

// WithPollInterval sets how often workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPoolBackoff sets the delay strategy applied after consecutive
// dequeue failures, keeping a broken store connection from being
// hammered at the poll interval.
func WithPoolBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, runner *Runner, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		runner:       runner,
		concurrency:  1,
		queue:        "forensic",
		pollInterval: time.Second,
		backoff:      backoff.DefaultStrategy(),
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines and the revocation listener.
// It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.String("queue", p.queue),
	)

	revocations, stopRevocations, err := p.store.Revocations(ctx)
	if err != nil {
		p.running = false
		return err
	}

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	p.wg.Add(1)
	go p.revokeLoop(revocations, stopRevocations)

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If
// the context has a deadline, active jobs are cancelled when time runs
// out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.Dequeue(context.Background(), p.queue, p.workerID)
		if err != nil {
			failures++
			delay := p.backoff.Delay(failures)
			p.logger.Error("dequeue error",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			p.sleepFor(delay)
			continue
		}
		failures = 0

		if j == nil {
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		if runErr := p.runner.Run(ctx, j); runErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", runErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()
	}
}

// revokeLoop cancels active jobs named by revoke requests.
func (p *Pool) revokeLoop(revocations <-chan id.JobID, stop func()) {
	defer p.wg.Done()
	defer stop()

	for {
		select {
		case <-p.stopCh:
			return
		case jobID, ok := <-revocations:
			if !ok {
				return
			}
			p.activeMu.Lock()
			cancel, active := p.activeJobs[jobID.String()]
			p.activeMu.Unlock()
			if active {
				p.logger.Info("revoking active job", slog.String("job_id", jobID.String()))
				cancel()
			}
		}
	}
}

func (p *Pool) sleep() {
	p.sleepFor(p.pollInterval)
}

func (p *Pool) sleepFor(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
