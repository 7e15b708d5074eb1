package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sightline/forensic/cluster"
	"github.com/sightline/forensic/id"
)

// Compile-time interface check.
var _ cluster.Store = (*Store)(nil)

// workerKey returns the expiring Hash key for one worker registration:
// forensic:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIndexKey is the Set tracking registered worker IDs. Entries
// for expired registrations are swept lazily by ListWorkers.
const workerIndexKey = keyPrefix + "workers"

// RegisterWorker records a worker registration with the given TTL.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker, ttl time.Duration) error {
	key := workerKey(w.ID.String())
	fields := map[string]interface{}{
		"id":         w.ID.String(),
		"hostname":   w.Hostname,
		"queue":      w.Queue,
		"state":      string(w.State),
		"started_at": w.StartedAt.UTC().Format(time.RFC3339Nano),
		"last_seen":  w.LastSeen.UTC().Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, workerIndexKey, w.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forensic/redis: register worker: %w", err)
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp, state and
// registration TTL.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, state cluster.WorkerState, ttl time.Duration) error {
	key := workerKey(workerID.String())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(state),
		"last_seen", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forensic/redis: heartbeat worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker registration.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIndexKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forensic/redis: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns all workers with a live registration, sweeping
// index entries whose registrations have expired.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("forensic/redis: list workers: %w", err)
	}

	var out []*cluster.Worker
	for _, wID := range ids {
		fields, err := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if err != nil {
			return nil, fmt.Errorf("forensic/redis: list workers get %s: %w", wID, err)
		}
		if len(fields) == 0 {
			// Registration expired; drop the stale index entry.
			s.client.SRem(ctx, workerIndexKey, wID)
			continue
		}
		out = append(out, workerFromMap(fields))
	}
	return out, nil
}

func workerFromMap(fields map[string]string) *cluster.Worker {
	w := &cluster.Worker{
		Hostname: fields["hostname"],
		Queue:    fields["queue"],
		State:    cluster.WorkerState(fields["state"]),
	}
	w.ID, _ = id.ParseWorkerID(fields["id"])                            //nolint:errcheck // best-effort parse of stored value
	w.StartedAt, _ = time.Parse(time.RFC3339Nano, fields["started_at"]) //nolint:errcheck // best-effort parse of stored value
	w.LastSeen, _ = time.Parse(time.RFC3339Nano, fields["last_seen"])   //nolint:errcheck // best-effort parse of stored value
	return w
}
