// Package sched owns the enabled-job list at runtime: it arms a cron
// trigger per job, invokes the job executor on each firing, persists run
// outcomes and arms one-shot retry timers on failure.
//
// Run persistence is serialized per job (a firing, including its backoff
// decision, completes before the next firing of the same job) but never
// across different jobs.
package sched
