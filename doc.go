// Package forensic provides the core of an asynchronous forensic
// video-search backend: job lifecycle and cancellation, a Redis-backed
// work-dispatch and result-relay layer, a camera streaming protocol
// client, a model-inference wire client, and the detection filtering
// pipeline that ties them together.
//
// Forensic is designed as a library, not a service. A dashboard API layer
// consumes it through the engine package: submit a search, poll status,
// page through results, or subscribe to the live result stream.
//
// # Architecture
//
// Each subsystem lives in its own package. The job package defines the
// data model and store interfaces; store/redis and store/memory implement
// them. The worker package runs one job at a time per process and the
// engine package is the facade the API layer talks to. The camera, infer
// and pipeline packages are only ever used from inside a running job.
// The stream package fans results out to subscribers and serves them
// over WebSocket; the client package is the matching Go consumer.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package forensic
