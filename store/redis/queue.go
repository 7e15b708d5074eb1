package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// Enqueue stores the job as a Hash and adds it to the queue's Sorted
// Set. The score is the enqueue time, so ZPOPMIN yields FIFO order.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("forensic/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return forensic.ErrJobAlreadyExists
	}

	cp := *j
	cp.State = job.StatePending
	fields, err := jobToMap(&cp)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
		Score:  float64(time.Now().UTC().UnixMilli()),
		Member: jID,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forensic/redis: enqueue job: %w", err)
	}
	return nil
}

// Dequeue pops the oldest pending job from the queue and marks it
// started. Returns (nil, nil) when the queue is empty.
func (s *Store) Dequeue(ctx context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	for {
		members, err := s.client.ZPopMin(ctx, queueKey(queue), 1).Result()
		if err != nil {
			return nil, fmt.Errorf("forensic/redis: dequeue zpopmin: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		jID, ok := members[0].Member.(string)
		if !ok {
			continue
		}
		key := jobKey(jID)

		j, err := s.getJobByKey(ctx, key)
		if err != nil {
			// Record deleted while queued; skip.
			s.logger.Debug("skipping queued job without record", "job_id", jID)
			continue
		}
		if j.State != job.StatePending {
			// Revoked or already handled; skip.
			continue
		}

		now := time.Now().UTC()
		if _, err := s.client.HSet(ctx, key,
			"state", string(job.StateStarted),
			"worker_id", workerID.String(),
			"started_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		).Result(); err != nil {
			return nil, fmt.Errorf("forensic/redis: dequeue update: %w", err)
		}

		j.State = job.StateStarted
		j.WorkerID = workerID
		j.StartedAt = &now
		j.UpdatedAt = now
		return j, nil
	}
}

// Revoke publishes a revoke request for the job. Delivery is
// best-effort pub/sub; callers pair it with a direct cancelled result.
func (s *Store) Revoke(ctx context.Context, jobID id.JobID) error {
	if err := s.client.Publish(ctx, revocationChannel, jobID.String()).Err(); err != nil {
		return fmt.Errorf("forensic/redis: revoke publish: %w", err)
	}
	return nil
}

// Revocations subscribes to the revoke channel. The returned stop
// function closes the underlying pub/sub subscription.
func (s *Store) Revocations(ctx context.Context) (<-chan id.JobID, func(), error) {
	pubsub := s.client.Subscribe(ctx, revocationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("forensic/redis: revocations subscribe: %w", err)
	}

	out := make(chan id.JobID, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			jobID, err := id.ParseJobID(msg.Payload)
			if err != nil {
				s.logger.Warn("dropping malformed revocation", "payload", msg.Payload, "error", err)
				continue
			}
			select {
			case out <- jobID:
			default:
				s.logger.Warn("revocation listener backed up, dropping", "job_id", jobID)
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop, nil
}
