package job

import (
	"time"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is enqueued, not yet picked up.
	StatePending State = "pending"
	// StateStarted means a worker is currently executing the job.
	StateStarted State = "started"
	// StateSuccess means the job finished successfully.
	StateSuccess State = "success"
	// StateFailure means the job ended with an error.
	StateFailure State = "failure"
	// StateRevoked means the job was cancelled.
	StateRevoked State = "revoked"
	// StateRetry is a transient mid-flight state. It must never be
	// surfaced as a distinct final state; status queries map it to
	// StateStarted.
	StateRetry State = "retry"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// MapNative maps a broker-native task state onto the job state machine.
// The transient retry state is reported as Started, and any unrecognized
// state defaults to Failure so that status polling can never get stuck.
func MapNative(native string) State {
	switch State(native) {
	case StatePending:
		return StatePending
	case StateStarted:
		return StateStarted
	case StateSuccess:
		return StateSuccess
	case StateFailure:
		return StateFailure
	case StateRevoked:
		return StateRevoked
	case StateRetry:
		return StateStarted
	default:
		return StateFailure
	}
}

// Job represents one forensic search request spanning one or more cameras
// and a time range.
type Job struct {
	forensic.Entity

	ID          id.JobID    `json:"id" msgpack:"id"`
	Name        string      `json:"name" msgpack:"name"`
	Queue       string      `json:"queue" msgpack:"queue"`
	Params      Params      `json:"params" msgpack:"params"`
	State       State       `json:"state" msgpack:"state"`
	LastError   string      `json:"last_error,omitempty" msgpack:"last_error,omitempty"`
	Stacktrace  string      `json:"stacktrace,omitempty" msgpack:"stacktrace,omitempty"`
	WorkerID    id.WorkerID `json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}
