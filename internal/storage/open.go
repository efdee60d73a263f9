package storage

import (
	"context"
	"errors"
	"strings"

	logx "agentcore/pkg/logx"
)

// Store is the persistence API used by the task record and job definition
// stores.
//
// Task records are keyed by id and carry a revision: a monotonically
// advancing modification marker that lets callers validate cached copies
// without re-reading the full record.
//
// The jobs snapshot is a single document rewritten in full on every
// mutation; writers serialize per path so partial writes are never
// observable.
type Store interface {
	PutTask(ctx context.Context, id string, data []byte) error
	GetTask(ctx context.Context, id string) (data []byte, revision int64, err error)
	TaskRevision(ctx context.Context, id string) (revision int64, ok bool, err error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([][]byte, error)

	ReadJobs(ctx context.Context) ([]byte, error)
	WriteJobs(ctx context.Context, data []byte) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
