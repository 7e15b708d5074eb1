// Package job defines the forensic search data model: the Job entity and
// its state machine, the tagged-union search parameters validated once at
// the submission boundary, the incremental JobResult stream items, and the
// store interfaces the dispatch layer is built on.
//
// # State machine
//
// A job is created Pending and immediately enqueued. A worker picks it up
// (Started) and drives it to exactly one terminal state: Success, Failure
// or Revoked. A transient Retry state may occur mid-flight but is never
// user-visible as a distinct final state.
//
// # Result contract
//
// Every code path that ends a job's execution publishes exactly one result
// with Final set, and it is always the last item of the stream. Subscribers
// can therefore never block indefinitely on a finished job.
package job
