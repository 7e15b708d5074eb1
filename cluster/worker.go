package cluster

import (
	"time"

	"github.com/sightline/forensic/id"
)

// WorkerState is the lifecycle state of a worker process.
type WorkerState string

const (
	// WorkerActive means the worker is polling and executing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing its in-flight job
	// but no longer dequeues new ones.
	WorkerDraining WorkerState = "draining"
)

// Worker is one registered worker process.
type Worker struct {
	ID        id.WorkerID `json:"id"`
	Hostname  string      `json:"hostname"`
	Queue     string      `json:"queue"`
	State     WorkerState `json:"state"`
	StartedAt time.Time   `json:"started_at"`
	LastSeen  time.Time   `json:"last_seen"`
}
