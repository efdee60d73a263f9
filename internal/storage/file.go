package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "agentcore/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout (under cfg.Path):
//   - tasks/<id>.json  (one document per task record)
//   - jobs.json        (full job definition snapshot)
//   - jobs.json.lock   (cross-process write lock for the snapshot)
//
// Task revisions are file mtimes in nanoseconds. Note that mtime
// granularity is filesystem-dependent; the sqlite driver keeps an explicit
// counter instead.
type fileStore struct {
	log logx.Logger

	dir      string
	tasksDir string
	jobsPath string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	tasksDir := filepath.Join(dir, "tasks")
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:      log,
		dir:      dir,
		tasksDir: tasksDir,
		jobsPath: filepath.Join(dir, "jobs.json"),
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) taskPath(id string) (string, error) {
	name := safeFileName(id)
	if name == "" {
		return "", errors.New("invalid task id")
	}
	return filepath.Join(s.tasksDir, name+".json"), nil
}

func (s *fileStore) PutTask(ctx context.Context, id string, data []byte) error {
	_ = ctx
	path, err := s.taskPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(path, data)
}

func (s *fileStore) GetTask(ctx context.Context, id string) ([]byte, int64, error) {
	_ = ctx
	path, err := s.taskPath(id)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// Read failures are treated as absence (first-run cold start).
		return nil, 0, ErrNotFound
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, 0, ErrNotFound
	}
	return data, fi.ModTime().UnixNano(), nil
}

func (s *fileStore) TaskRevision(ctx context.Context, id string) (int64, bool, error) {
	_ = ctx
	path, err := s.taskPath(id)
	if err != nil {
		return 0, false, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false, nil
	}
	return fi.ModTime().UnixNano(), true, nil
}

func (s *fileStore) DeleteTask(ctx context.Context, id string) error {
	_ = ctx
	path, err := s.taskPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) ListTasks(ctx context.Context) ([][]byte, error) {
	_ = ctx
	entries, err := os.ReadDir(s.tasksDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.tasksDir, e.Name()))
		if err != nil {
			// Skip unreadable records instead of failing the whole listing.
			s.log.Warn("skipping unreadable task file", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

func (s *fileStore) ReadJobs(ctx context.Context) ([]byte, error) {
	_ = ctx
	data, err := os.ReadFile(s.jobsPath)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *fileStore) WriteJobs(ctx context.Context, data []byte) error {
	_ = ctx
	// Every mutation rewrites the whole snapshot, so concurrent writers
	// (including other processes) must serialize on the lock file.
	return withFileLock(s.jobsPath+".lock", 5*time.Second, func() error {
		return writeAtomic(s.jobsPath, data)
	})
}

func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func withFileLock(lockPath string, timeout time.Duration, fn func() error) error {
	start := time.Now()
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		if timeout > 0 && time.Since(start) > timeout {
			return fmt.Errorf("acquire lock timeout: %s", lockPath)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer os.Remove(lockPath)
	return fn()
}

// safeFileName keeps ids usable as file names.
func safeFileName(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
