package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// PutJob creates or replaces the job record Hash.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	fields, err := jobToMap(j)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, jobKey(j.ID.String()), fields).Result(); err != nil {
		return fmt.Errorf("forensic/redis: put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// SetState transitions the job record's state, recording error message
// and stack trace.
func (s *Store) SetState(ctx context.Context, jobID id.JobID, state job.State, errMsg, stack string) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("forensic/redis: set state exists: %w", err)
	}
	if exists == 0 {
		return forensic.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields := []interface{}{
		"state", string(state),
		"last_error", errMsg,
		"stacktrace", stack,
		"updated_at", now,
	}
	if state.Terminal() {
		fields = append(fields, "completed_at", now)
	}
	if _, err := s.client.HSet(ctx, key, fields...).Result(); err != nil {
		return fmt.Errorf("forensic/redis: set state: %w", err)
	}
	return nil
}

// DeleteJob removes the job record and its queue entry. Reports
// whether the record existed.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) (bool, error) {
	jID := jobID.String()
	key := jobKey(jID)

	// Queue name is needed to drop any still-queued entry.
	queue, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil && !isNil(err) {
		return false, fmt.Errorf("forensic/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, key)
	if queue != "" {
		pipe.ZRem(ctx, queueKey(queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("forensic/redis: delete job: %w", err)
	}
	return del.Val() > 0, nil
}

// ── helpers ──

func jobToMap(j *job.Job) (map[string]interface{}, error) {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return nil, fmt.Errorf("forensic/redis: marshal params: %w", err)
	}

	m := map[string]interface{}{
		"id":         j.ID.String(),
		"name":       j.Name,
		"queue":      j.Queue,
		"params":     string(params),
		"state":      string(j.State),
		"last_error": j.LastError,
		"stacktrace": j.Stacktrace,
		"worker_id":  j.WorkerID.String(),
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("forensic/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, forensic.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("forensic/redis: parse job id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: forensic.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:         jID,
		Name:       m["name"],
		Queue:      m["queue"],
		State:      job.State(m["state"]),
		LastError:  m["last_error"],
		Stacktrace: m["stacktrace"],
	}

	if raw := m["params"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Params); err != nil {
			return nil, fmt.Errorf("forensic/redis: unmarshal params: %w", err)
		}
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	return j, nil
}
