// Package lanequeue bounds task concurrency per lane.
//
// A lane is a named concurrency class with its own admission ceiling and
// FIFO queue. Lanes are fully independent: congestion in one never blocks
// another. Callers may wait for a task's completion with their own
// timeout; timing out only evicts the waiting caller, the runner keeps
// running.
package lanequeue
