package redis

// Redis key naming conventions for forensic data.
// All keys are prefixed with "forensic:" to avoid collisions.

const keyPrefix = "forensic:"

// ── Job keys ──

// jobKey returns the key for a job record: forensic:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue: forensic:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// revocationChannel is the pub/sub channel carrying revoke requests.
const revocationChannel = keyPrefix + "revocations"

// ── Result keys ──

// resultsKey returns the capped List key holding a job's retained
// results, newest first: forensic:results:{jobID}
func resultsKey(jobID string) string { return keyPrefix + "results:" + jobID }

// resultChannel returns the pub/sub channel for a job's live results.
func resultChannel(jobID string) string { return keyPrefix + "results:chan:" + jobID }

// frameKey returns the expiring String key for one frame blob:
// forensic:frame:{jobID}:{frameID}
func frameKey(jobID, frameID string) string {
	return keyPrefix + "frame:" + jobID + ":" + frameID
}

// frameIndexKey is the Set tracking a job's stored frame IDs so
// DeleteResults can sweep the blobs.
func frameIndexKey(jobID string) string { return keyPrefix + "frame_idx:" + jobID }
