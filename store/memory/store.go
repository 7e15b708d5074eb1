// Package memory provides a fully in-memory implementation of the job
// store. Safe for concurrent access. Intended for unit testing and
// single-process development setups.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
	"github.com/sightline/forensic/stream"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// DefaultResultHistory is the per-job retained result cap.
const DefaultResultHistory = 1000

// Store is an in-memory job.Store. Live result delivery reuses the
// stream broker, so subscription semantics match the Redis store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	queues  map[string][]string           // queue name → pending job IDs, FIFO
	results map[string][]*job.Result      // job ID → retained results, oldest first
	frames  map[string]map[string][]byte  // job ID → frame ID → blob
	revokes map[int64]chan id.JobID
	nextRev int64

	broker     *stream.Broker
	historyCap int
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithResultHistory sets the per-job retained result cap.
func WithResultHistory(n int) Option {
	return func(s *Store) { s.historyCap = n }
}

// New returns a new empty Store.
func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		jobs:       make(map[string]*job.Job),
		queues:     make(map[string][]string),
		results:    make(map[string][]*job.Result),
		frames:     make(map[string]map[string][]byte),
		revokes:    make(map[int64]chan id.JobID),
		broker:     stream.NewBroker(logger),
		historyCap: DefaultResultHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return forensic.ErrStoreClosed
	}
	return nil
}

// Close shuts the broker down and marks the store closed.
func (m *Store) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.broker.Shutdown()
	for key, ch := range m.revokes {
		close(ch)
		delete(m.revokes, key)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

// Enqueue persists the job and appends it to its queue in pending state.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return forensic.ErrJobAlreadyExists
	}
	cp := *j
	cp.State = job.StatePending
	m.jobs[key] = &cp
	m.queues[j.Queue] = append(m.queues[j.Queue], key)
	return nil
}

// Dequeue claims the oldest pending job on the queue, marks it started,
// and returns a copy. Returns (nil, nil) when the queue is empty.
func (m *Store) Dequeue(_ context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.queues[queue]
	for len(pending) > 0 {
		key := pending[0]
		pending = pending[1:]

		j, ok := m.jobs[key]
		if !ok || j.State != job.StatePending {
			// Deleted or revoked while queued; skip.
			continue
		}

		now := time.Now().UTC()
		j.State = job.StateStarted
		j.WorkerID = workerID
		j.StartedAt = &now
		j.Touch()

		m.queues[queue] = pending
		cp := *j
		return &cp, nil
	}

	m.queues[queue] = pending
	return nil, nil
}

// Revoke fans the job ID out to all revocation subscribers. Delivery
// is best-effort; a full subscriber channel drops the notice.
func (m *Store) Revoke(_ context.Context, jobID id.JobID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.revokes {
		select {
		case ch <- jobID:
		default:
		}
	}
	return nil
}

// Revocations subscribes to revoke requests.
func (m *Store) Revocations(_ context.Context) (<-chan id.JobID, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, forensic.ErrStoreClosed
	}

	key := m.nextRev
	m.nextRev++
	ch := make(chan id.JobID, 16)
	m.revokes[key] = ch

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.revokes[key]; ok {
			delete(m.revokes, key)
			close(c)
		}
	}
	return ch, stop, nil
}

// ──────────────────────────────────────────────────
// MetaStore
// ──────────────────────────────────────────────────

// PutJob creates or replaces the job record.
func (m *Store) PutJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *j
	cp.Touch()
	m.jobs[j.ID.String()] = &cp
	return nil
}

// GetJob retrieves a copy of the job record.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, forensic.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// SetState transitions the job record's state.
func (m *Store) SetState(_ context.Context, jobID id.JobID, state job.State, errMsg, stack string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return forensic.ErrJobNotFound
	}
	j.State = state
	j.LastError = errMsg
	j.Stacktrace = stack
	if state.Terminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	j.Touch()
	return nil
}

// DeleteJob removes the job record. Reports whether it existed.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return false, nil
	}
	delete(m.jobs, key)
	return true, nil
}

// ──────────────────────────────────────────────────
// ResultStore
// ──────────────────────────────────────────────────

// AppendResult retains the result, stores its frame blob, and publishes
// to live subscribers. Retention is capped; the oldest entry is evicted
// once the cap is reached. Frame bytes are kept out of the retained
// list and live in the blob map keyed by frame ID.
func (m *Store) AppendResult(_ context.Context, r *job.Result) error {
	m.mu.Lock()

	key := r.JobID.String()

	if len(r.Frame) > 0 && r.Meta.FrameID != "" {
		blobs, ok := m.frames[key]
		if !ok {
			blobs = make(map[string][]byte)
			m.frames[key] = blobs
		}
		blob := make([]byte, len(r.Frame))
		copy(blob, r.Frame)
		blobs[r.Meta.FrameID] = blob
	}

	cp := *r
	cp.Frame = nil
	list := append(m.results[key], &cp)
	if m.historyCap > 0 && len(list) > m.historyCap {
		list = list[len(list)-m.historyCap:]
	}
	m.results[key] = list
	m.mu.Unlock()

	// Publish outside the lock; subscriber sends are non-blocking.
	m.broker.Publish(r)
	return nil
}

// ListResults returns one page of retained detection results.
func (m *Store) ListResults(_ context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Result, int, error) {
	m.mu.RLock()
	retained := m.results[jobID.String()]
	detections := make([]*job.Result, 0, len(retained))
	for _, r := range retained {
		if r.Meta.Kind == job.KindDetection {
			detections = append(detections, r)
		}
	}
	m.mu.RUnlock()

	job.SortResults(detections, opts)
	total := len(detections)

	start, end := job.PageBounds(total, opts.Page, opts.PageSize)
	if start == end {
		return nil, total, nil
	}

	out := make([]*job.Result, end-start)
	for i, r := range detections[start:end] {
		cp := *r
		out[i] = &cp
	}
	return out, total, nil
}

// ReplayResults returns the full retained list in append order,
// markers included.
func (m *Store) ReplayResults(_ context.Context, jobID id.JobID) ([]*job.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	retained := m.results[jobID.String()]
	out := make([]*job.Result, len(retained))
	for i, r := range retained {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// SubscribeResults opens a live subscription backed by the broker.
func (m *Store) SubscribeResults(_ context.Context, jobID id.JobID) (job.ResultSub, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, forensic.ErrStoreClosed
	}

	subID := id.NewSubscriberID().String()
	sub := m.broker.SubscribeJob(subID, jobID.String())
	return &resultSub{broker: m.broker, sub: sub}, nil
}

// GetFrame fetches a frame blob.
func (m *Store) GetFrame(_ context.Context, jobID id.JobID, frameID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.frames[jobID.String()][frameID]
	if !ok {
		return nil, forensic.ErrFrameNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// DeleteResults removes the result list and all frame blobs for a job.
func (m *Store) DeleteResults(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	_, hadResults := m.results[key]
	_, hadFrames := m.frames[key]
	delete(m.results, key)
	delete(m.frames, key)
	return hadResults || hadFrames, nil
}

// resultSub adapts a stream subscriber to job.ResultSub.
type resultSub struct {
	broker *stream.Broker
	sub    *stream.Subscriber
	closed sync.Once
}

// Next blocks up to wait for the next live result. Returns (nil, nil)
// when the wait elapses without a message.
func (s *resultSub) Next(ctx context.Context, wait time.Duration) (*job.Result, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	// Credit per read keeps the subscriber from starving on long jobs.
	s.sub.AddCredits(1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case r, ok := <-s.sub.C():
		if !ok {
			return nil, forensic.ErrSubscriptionClosed
		}
		return r, nil
	}
}

// Close releases the subscription.
func (s *resultSub) Close() error {
	s.closed.Do(func() {
		s.broker.RemoveSubscriber(s.sub.ID())
	})
	return nil
}
