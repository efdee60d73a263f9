// Package taskrun glues the task record store to the lane queue: it
// drives a submitted task through its lifecycle (pending, queued,
// running, terminal), releases the lane slot during retry backoff and
// records retry bookkeeping on the record.
package taskrun
