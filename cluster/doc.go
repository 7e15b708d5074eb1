// Package cluster tracks worker presence across a multi-process
// deployment. Each worker process registers itself with the shared
// store and refreshes its registration on a heartbeat interval;
// registrations expire on their own when a worker dies, so the live
// worker set is always observable without a coordinator.
//
// Presence is purely informational. Workers never coordinate through
// it: job dispatch already serializes through the shared queue, and a
// crashed worker's queued jobs are simply picked up by the survivors.
package cluster
