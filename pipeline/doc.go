// Package pipeline implements the forensic search job: replayed camera
// frames are pushed through remote detection, scored, deduplicated
// against the previous frame, classified, and emitted as incremental
// results when they clear the confidence tier's floors.
//
// The Search handler registers under the name JobSearch and is driven
// by the worker Runner. Per source it replays the requested time range,
// runs one detection call per frame, and for each raw box computes an
// object score (size score times class-membership score over the
// target's vocabulary). Boxes at or below a small epsilon are dropped
// before any classification call. Survivors are suppressed when their
// IoU against a box accepted in the immediately preceding frame exceeds
// the overlap threshold. The rest are cropped, classified across the
// target's attribute heads, and emitted only when the detector class
// probability clears the tier's per-class floor and the combined score
// clears the global floor.
//
// Progress notifications are throttled with a rate limiter; every
// source ends with a progress=100 marker. Cancellation is observed at
// frame and detection boundaries.
package pipeline
