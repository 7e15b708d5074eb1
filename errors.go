package forensic

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("forensic: no store configured")
	ErrStoreClosed = errors.New("forensic: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("forensic: job not found")
	ErrFrameNotFound = errors.New("forensic: frame not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("forensic: job already exists")

	// State errors.
	ErrInvalidState = errors.New("forensic: invalid state transition")

	// Cancellation is not a failure: a revoked job still publishes one
	// terminal "cancelled" result.
	ErrCancelled = errors.New("forensic: job cancelled")

	// Subscription errors.
	ErrSubscriptionClosed = errors.New("forensic: subscription closed")
)

// ConfigError reports a missing or invalid setting (camera or inference
// endpoint). It is fatal and surfaced at job start, never retried.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("forensic: configuration %q: %s", e.Setting, e.Reason)
}

// ProtocolError reports a camera-protocol violation. Recoverable errors
// (a bad packet, a codec mismatch) let the stream continue; fatal ones
// (malformed response, timeout) end it.
type ProtocolError struct {
	Op          string
	Recoverable bool
	Err         error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("forensic: camera protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InferenceError reports a failure talking to the inference service:
// an incompatible server version, an unknown model, or a request timeout.
// Fatal to the current job.
type InferenceError struct {
	Model string
	Op    string
	Err   error
}

func (e *InferenceError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("forensic: inference %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("forensic: inference %s (model %s): %v", e.Op, e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
