// ABOUTME: Package documentation for the jobs package
// ABOUTME: Describes the queue model and its delivery guarantees

// Package jobs implements the in-process work queues behind the gateway:
// named queues with bounded backlogs, FIFO claiming with at-most-one
// delivery per job, exponential backoff redelivery for failures, and
// worker pools that drain each queue.
//
// Jobs move Waiting -> Active -> Completed on success. A failed execution
// parks the job as Delayed until its backoff elapses, or marks it Failed
// once the queue's retry policy is exhausted. Stats produces one snapshot
// in which every job appears in exactly one state.
package jobs
