package cluster

import (
	"context"
	"time"

	"github.com/sightline/forensic/id"
)

// Store is the persistence contract for worker presence. Registrations
// carry a TTL and must be refreshed by heartbeats; an expired
// registration disappears from ListWorkers without explicit cleanup.
type Store interface {
	// RegisterWorker records a worker with the given registration TTL.
	RegisterWorker(ctx context.Context, w *Worker, ttl time.Duration) error

	// HeartbeatWorker refreshes a worker's last-seen timestamp, state
	// and TTL.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID, state WorkerState, ttl time.Duration) error

	// DeregisterWorker removes a worker's registration.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all workers with a live registration.
	ListWorkers(ctx context.Context) ([]*Worker, error)
}
