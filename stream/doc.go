// Package stream provides in-process fan-out of search results to
// live subscribers, plus the WebSocket bridge that relays a job's
// result stream to dashboard clients.
//
// Results are published per job topic. Each subscriber owns a
// buffered channel with credit-based flow control: when a subscriber
// falls behind, results are dropped for that subscriber rather than
// blocking the producing search. Frame payloads ride alongside
// metadata on the same channel, so a slow consumer never stalls the
// pipeline.
package stream
