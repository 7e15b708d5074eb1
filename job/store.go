package job

import (
	"context"
	"sort"
	"time"

	"github.com/sightline/forensic/id"
)

// Queue is the broker-backed work queue. Workers dequeue exactly one job
// at a time (prefetch = 1): a worker never starts job N+1 before it has
// finished job N.
type Queue interface {
	// Enqueue adds a pending job to the named queue.
	Enqueue(ctx context.Context, j *Job) error

	// Dequeue pops the oldest pending job from the queue and marks it
	// started, or returns nil when the queue is empty.
	Dequeue(ctx context.Context, queue string, workerID id.WorkerID) (*Job, error)

	// Revoke asks the broker to forcibly terminate the named job's
	// current unit of work. Delivery is best-effort; the caller pairs
	// it with a direct cancelled result write.
	Revoke(ctx context.Context, jobID id.JobID) error

	// Revocations subscribes to revoke requests. The returned stop
	// function releases the subscription.
	Revocations(ctx context.Context) (<-chan id.JobID, func(), error)
}

// MetaStore keeps the auxiliary per-job record: type, creation time,
// state, and error details. Job type and creation time are not
// guaranteed to be recoverable from the broker alone.
type MetaStore interface {
	// PutJob creates or replaces the job record.
	PutJob(ctx context.Context, j *Job) error

	// GetJob retrieves the job record, or forensic.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// SetState transitions the job record's state, recording error
	// message and stack trace for failures.
	SetState(ctx context.Context, jobID id.JobID, state State, errMsg, stack string) error

	// DeleteJob removes the job record. Reports whether it existed.
	DeleteJob(ctx context.Context, jobID id.JobID) (bool, error)
}

// ListOpts selects and orders a page of stored results.
type ListOpts struct {
	// SortBy is "date" or "score".
	SortBy string
	// Desc reverses the sort order.
	Desc bool
	// Page is 1-based.
	Page     int
	PageSize int
}

// SortResults orders results in place by detection date or score.
// Results without a detection timestamp fall back to their append time.
func SortResults(items []*Result, opts ListOpts) {
	ts := func(r *Result) time.Time {
		if r.Meta.Timestamp != nil {
			return *r.Meta.Timestamp
		}
		return r.At
	}
	less := func(i, k int) bool {
		return ts(items[i]).Before(ts(items[k]))
	}
	if opts.SortBy == "score" {
		less = func(i, k int) bool {
			return items[i].Meta.Score < items[k].Meta.Score
		}
	}
	if opts.Desc {
		inner := less
		less = func(i, k int) bool { return inner(k, i) }
	}
	sort.SliceStable(items, less)
}

// PageBounds clips a 1-based page onto [0, total). A zero or negative
// page size falls back to 20.
func PageBounds(total, page, size int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start = (page - 1) * size
	if start >= total {
		return total, total
	}
	end = start + size
	if end > total {
		end = total
	}
	return start, end
}

// ResultSub is a live subscription to one job's result channel.
type ResultSub interface {
	// Next blocks up to wait for the next live result. A (nil, nil)
	// return means the poll interval elapsed without a message; the
	// caller should check job status before polling again.
	Next(ctx context.Context, wait time.Duration) (*Result, error)

	// Close releases the subscription.
	Close() error
}

// ResultStore relays and retains job results. Each job has a bounded,
// most-recent-capped ordered list for replay to late subscribers and a
// publish/subscribe channel carrying the same items live. Binary frames
// are stored separately under a short time-to-live.
type ResultStore interface {
	// AppendResult appends to the job's capped list and publishes to
	// live subscribers. If r.Frame is set and r.Meta.FrameID names it,
	// the blob is stored separately with the configured TTL.
	AppendResult(ctx context.Context, r *Result) error

	// ListResults returns one page of retained detection results plus
	// the total retained detection count. Progress and status markers
	// are kept for replay but never listed.
	ListResults(ctx context.Context, jobID id.JobID, opts ListOpts) ([]*Result, int, error)

	// ReplayResults returns the full retained list in append order,
	// progress and status markers included, for replaying to a late
	// subscriber.
	ReplayResults(ctx context.Context, jobID id.JobID) ([]*Result, error)

	// SubscribeResults opens a live subscription to the job's channel.
	SubscribeResults(ctx context.Context, jobID id.JobID) (ResultSub, error)

	// GetFrame fetches a frame blob, or forensic.ErrFrameNotFound if
	// missing or expired.
	GetFrame(ctx context.Context, jobID id.JobID, frameID string) ([]byte, error)

	// DeleteResults removes the result list and all frame blobs for a
	// job. Reports whether anything existed.
	DeleteResults(ctx context.Context, jobID id.JobID) (bool, error)
}

// Store is the composite interface a backend implements.
type Store interface {
	Queue
	MetaStore
	ResultStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
