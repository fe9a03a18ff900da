package redis

// Redis key naming conventions for herald data.
// All keys are prefixed with "herald:" to avoid collisions.

const keyPrefix = "herald:"

// ── Job keys ──

// jobKey returns the key for a job entity: herald:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// pendingJobsKey is the Sorted Set of runnable job IDs scored by RunAt
// (unix milliseconds). Only pending and retry_scheduled jobs are members.
const pendingJobsKey = keyPrefix + "pending"

// ── Notification keys ──

// ntfKey returns the key for a notification entity: herald:ntf:{id}
func ntfKey(id string) string { return keyPrefix + "ntf:" + id }

// ntfIDsKey is the Set tracking all notification IDs for enumeration.
const ntfIDsKey = keyPrefix + "ntf_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: herald:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"
