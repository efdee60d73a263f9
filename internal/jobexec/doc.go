// Package jobexec runs one scheduled job attempt to completion or
// failure.
//
// The trigger call races the job's own wall-clock timeout. Exceeding it
// fails the attempt even if the underlying call would eventually have
// succeeded; the in-flight call is not force-cancelled, only its result
// is discarded. Post-run actions are best-effort side effects and never
// flip the verdict.
package jobexec
