package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned on reads for keys that do not exist.
	// Callers treat read I/O problems the same way (cold start support).
	ErrNotFound = errors.New("storage: not found")

	ErrClosed = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON file per task)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
