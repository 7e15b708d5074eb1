package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// AppendResult pushes the result onto the job's capped List, stores the
// frame blob under its TTL, and publishes the serialized result to the
// job's live channel. History is newest-first (LPUSH) and trimmed to
// the configured cap, evicting the oldest entries.
func (s *Store) AppendResult(ctx context.Context, r *job.Result) error {
	jID := r.JobID.String()

	payload, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("forensic/redis: marshal result: %w", err)
	}

	pipe := s.client.TxPipeline()
	if len(r.Frame) > 0 && r.Meta.FrameID != "" {
		pipe.Set(ctx, frameKey(jID, r.Meta.FrameID), r.Frame, s.frameTTL)
		pipe.SAdd(ctx, frameIndexKey(jID), r.Meta.FrameID)
		// The index outlives the blobs slightly so delete can sweep
		// expired members without leaking the Set itself.
		pipe.Expire(ctx, frameIndexKey(jID), s.frameTTL*2)
	}
	pipe.LPush(ctx, resultsKey(jID), payload)
	if s.historyCap > 0 {
		pipe.LTrim(ctx, resultsKey(jID), 0, int64(s.historyCap)-1)
	}
	pipe.Publish(ctx, resultChannel(jID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forensic/redis: append result: %w", err)
	}
	return nil
}

// ListResults returns one page of retained detection results.
func (s *Store) ListResults(ctx context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Result, int, error) {
	raw, err := s.client.LRange(ctx, resultsKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("forensic/redis: list results: %w", err)
	}

	detections := make([]*job.Result, 0, len(raw))
	// LPUSH order is newest first; walk backwards to restore append order.
	for i := len(raw) - 1; i >= 0; i-- {
		var r job.Result
		if err := msgpack.Unmarshal([]byte(raw[i]), &r); err != nil {
			s.logger.Warn("skipping undecodable result", "job_id", jobID, "error", err)
			continue
		}
		if r.Meta.Kind == job.KindDetection {
			detections = append(detections, &r)
		}
	}

	job.SortResults(detections, opts)
	total := len(detections)

	start, end := job.PageBounds(total, opts.Page, opts.PageSize)
	if start == end {
		return nil, total, nil
	}
	return detections[start:end], total, nil
}

// ReplayResults returns the full retained list in append order,
// markers included.
func (s *Store) ReplayResults(ctx context.Context, jobID id.JobID) ([]*job.Result, error) {
	raw, err := s.client.LRange(ctx, resultsKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("forensic/redis: replay results: %w", err)
	}

	out := make([]*job.Result, 0, len(raw))
	// LPUSH order is newest first; walk backwards to restore append order.
	for i := len(raw) - 1; i >= 0; i-- {
		var r job.Result
		if err := msgpack.Unmarshal([]byte(raw[i]), &r); err != nil {
			s.logger.Warn("skipping undecodable result", "job_id", jobID, "error", err)
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// SubscribeResults opens a live pub/sub subscription to the job's
// result channel.
func (s *Store) SubscribeResults(ctx context.Context, jobID id.JobID) (job.ResultSub, error) {
	pubsub := s.client.Subscribe(ctx, resultChannel(jobID.String()))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("forensic/redis: subscribe results: %w", err)
	}
	return &resultSub{ch: pubsub.Channel(), close: pubsub.Close, logger: s.logger}, nil
}

// GetFrame fetches a frame blob by ID.
func (s *Store) GetFrame(ctx context.Context, jobID id.JobID, frameID string) ([]byte, error) {
	blob, err := s.client.Get(ctx, frameKey(jobID.String(), frameID)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, forensic.ErrFrameNotFound
		}
		return nil, fmt.Errorf("forensic/redis: get frame: %w", err)
	}
	return blob, nil
}

// DeleteResults removes the result list and all frame blobs for a job.
func (s *Store) DeleteResults(ctx context.Context, jobID id.JobID) (bool, error) {
	jID := jobID.String()

	frameIDs, err := s.client.SMembers(ctx, frameIndexKey(jID)).Result()
	if err != nil && !isNil(err) {
		return false, fmt.Errorf("forensic/redis: delete results index: %w", err)
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, resultsKey(jID), frameIndexKey(jID))
	for _, frameID := range frameIDs {
		pipe.Del(ctx, frameKey(jID, frameID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("forensic/redis: delete results: %w", err)
	}
	return del.Val() > 0, nil
}

// resultSub adapts a Redis pub/sub channel to job.ResultSub.
type resultSub struct {
	ch     <-chan *goredis.Message
	close  func() error
	logger *slog.Logger
}

// Next blocks up to wait for the next live result. Returns (nil, nil)
// when the wait elapses without a message.
func (s *resultSub) Next(ctx context.Context, wait time.Duration) (*job.Result, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case msg, ok := <-s.ch:
			if !ok {
				return nil, forensic.ErrSubscriptionClosed
			}
			var r job.Result
			if err := msgpack.Unmarshal([]byte(msg.Payload), &r); err != nil {
				s.logger.Warn("skipping undecodable live result", "error", err)
				continue
			}
			return &r, nil
		}
	}
}

// Close releases the subscription.
func (s *resultSub) Close() error { return s.close() }
