package forensic

import "time"

// Config holds the settings the core consumes from the surrounding
// application: where the camera-management server and the inference
// server live, and the tunables of the dispatch layer.
type Config struct {
	// CameraHost and CameraPort locate the camera-management server
	// (stream connection, one per request).
	CameraHost string
	CameraPort int

	// InferenceAddr is the host:port of the inference service.
	InferenceAddr string

	// Queue is the broker queue jobs are enqueued on.
	Queue string

	// PollInterval is how often an idle worker polls for new jobs, and
	// how often a subscriber with no live message re-checks job status.
	PollInterval time.Duration

	// SettlePolls is how many extra poll rounds a subscriber performs
	// after observing a terminal status, to close the race against the
	// last in-flight publish.
	SettlePolls int

	// ResultHistory caps the per-job ordered result list; the oldest
	// entry is evicted on overflow.
	ResultHistory int

	// FrameTTL bounds how long binary frame blobs are retained.
	FrameTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. Camera and
// inference endpoints have no defaults: a job started without them fails
// with a ConfigError.
func DefaultConfig() Config {
	return Config{
		Queue:           "forensic",
		PollInterval:    time.Second,
		SettlePolls:     3,
		ResultHistory:   1000,
		FrameTTL:        15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate reports the first missing required setting as a ConfigError.
func (c Config) Validate() error {
	if c.CameraHost == "" || c.CameraPort == 0 {
		return &ConfigError{Setting: "camera", Reason: "camera server endpoint not configured"}
	}
	if c.InferenceAddr == "" {
		return &ConfigError{Setting: "inference", Reason: "inference server endpoint not configured"}
	}
	return nil
}
