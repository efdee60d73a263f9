package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "agentcore/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps task revisions as an explicit counter bumped on every
// write, so cache validation does not depend on filesystem mtime
// granularity.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutTask(ctx context.Context, id string, data []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, data, revision) VALUES(?,?,1)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, revision=tasks.revision+1`,
		id, data,
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) ([]byte, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, ErrClosed
	}
	var data []byte
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT data, revision FROM tasks WHERE id = ?`, id).Scan(&data, &rev)
	if err != nil {
		// Reads never distinguish I/O trouble from absence.
		return nil, 0, ErrNotFound
	}
	return data, rev, nil
}

func (s *sqliteStore) TaskRevision(ctx context.Context, id string) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrClosed
	}
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM tasks WHERE id = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, nil
	}
	return rev, true, nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([][]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			s.log.Warn("skipping unreadable task row", logx.Err(err))
			continue
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ReadJobs(ctx context.Context) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs_snapshot WHERE id = 1`).Scan(&data)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *sqliteStore) WriteJobs(ctx context.Context, data []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs_snapshot(id, data) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data`,
		data,
	)
	return err
}
