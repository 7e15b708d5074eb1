package job

import (
	"time"

	"github.com/sightline/forensic/id"
)

// ResultKind categorizes the metadata payload of a JobResult.
type ResultKind string

const (
	// KindProgress is a throttled progress notification for one source.
	KindProgress ResultKind = "progress"
	// KindDetection is an emitted detection with score and attributes.
	KindDetection ResultKind = "detection"
	// KindError is a terminal error notification.
	KindError ResultKind = "error"
	// KindCancelled is the terminal marker of a revoked job.
	KindCancelled ResultKind = "cancelled"
)

// Attributes maps an attribute-head name to its label probabilities,
// merged across the classifier models queried for a target type.
type Attributes map[string]map[string]float64

// Merge folds other into a, overwriting heads present in both.
func (a Attributes) Merge(other Attributes) {
	for head, labels := range other {
		a[head] = labels
	}
}

// Meta is the structured metadata payload of one JobResult. Field names
// follow the dashboard wire format.
type Meta struct {
	Kind       ResultKind `json:"type" msgpack:"type"`
	Progress   float64    `json:"progress" msgpack:"progress"`
	Message    string     `json:"message,omitempty" msgpack:"message,omitempty"`
	Source     string     `json:"cameraId,omitempty" msgpack:"cameraId,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Score      float64    `json:"score,omitempty" msgpack:"score,omitempty"`
	FrameID    string     `json:"frame_uuid,omitempty" msgpack:"frame_uuid,omitempty"`
	Attributes Attributes `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// Result is one incremental unit of output from a job. The binary frame
// travels alongside the metadata but is stored separately under a short
// expiry, referenced by Meta.FrameID.
type Result struct {
	JobID id.JobID  `json:"job_id" msgpack:"job_id"`
	Meta  Meta      `json:"meta" msgpack:"meta"`
	Frame []byte    `json:"-" msgpack:"-"`
	Final bool      `json:"final" msgpack:"final"`
	At    time.Time `json:"at" msgpack:"at"`
}

// Box is a bounding box in the detector's normalized coordinate frame:
// origin at the image center, x scaled by the 8/3 aspect correction,
// y inverted (positive up).
type Box struct {
	MinX float64 `json:"min_x" msgpack:"min_x"`
	MinY float64 `json:"min_y" msgpack:"min_y"`
	MaxX float64 `json:"max_x" msgpack:"max_x"`
	MaxY float64 `json:"max_y" msgpack:"max_y"`
}

// Detection is one raw detector output: a normalized box and the
// per-class probabilities reported for it.
type Detection struct {
	Box           Box                `json:"bbox" msgpack:"bbox"`
	Probabilities map[string]float64 `json:"probabilities" msgpack:"probabilities"`
}
