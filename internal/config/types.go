package config

import (
	"fmt"
	"time"

	"agentcore/internal/lanequeue"
	"agentcore/internal/sched"
	"agentcore/internal/storage"
	"agentcore/internal/taskmon"
	logx "agentcore/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`
	Executor  ExecutorConfig  `json:"executor,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./agent_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// QueueConfig controls the lane-based task queue.
type QueueConfig struct {
	// DefaultCeiling is the per-lane concurrency ceiling for lanes that
	// have no explicit entry. Default 2.
	DefaultCeiling int `json:"default_ceiling,omitempty"`
	// Ceilings overrides the ceiling for named lanes.
	Ceilings map[string]int `json:"ceilings,omitempty"`
	// WarnDepth triggers a saturation warning when a lane's backlog
	// reaches this depth. 0 disables the warning.
	WarnDepth int `json:"warn_depth,omitempty"`
	// CompletionRetention is how long a settled completion stays
	// available to late waiters before it is evicted.
	// Go duration string; default "1m".
	CompletionRetention string `json:"completion_retention,omitempty"`
}

// MonitorConfig controls the task timeout monitor.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type MonitorConfig struct {
	Interval   string `json:"interval,omitempty"`    // sweep cadence, default "5s"
	WarnWindow string `json:"warn_window,omitempty"` // pre-expiry warning window, default "30s"
}

// ExecutorConfig controls job trigger execution.
type ExecutorConfig struct {
	// DefaultTimeout bounds a trigger call when the job sets no timeout.
	// Go duration string; default "2m".
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// RetryBaseDelay is the base of the retry backoff curve.
	// Go duration string; default "1s".
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
}

// MemoryConfig controls the file-backed memory capability.
type MemoryConfig struct {
	Dir string `json:"dir,omitempty"` // default "./memory"
}

// LogxConfig maps the logging section onto the logging service config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// StorageOptions resolves the storage section, validating durations.
func (c *Config) StorageOptions() (storage.Config, error) {
	busy, err := durationField("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

// QueueOptions resolves the queue section.
func (c *Config) QueueOptions() (lanequeue.Config, error) {
	if c.Queue.DefaultCeiling < 0 {
		return lanequeue.Config{}, fmt.Errorf("queue.default_ceiling: must be >= 0")
	}
	for lane, n := range c.Queue.Ceilings {
		if n <= 0 {
			return lanequeue.Config{}, fmt.Errorf("queue.ceilings.%s: must be > 0", lane)
		}
	}
	retention, err := durationField("queue.completion_retention", c.Queue.CompletionRetention, 0)
	if err != nil {
		return lanequeue.Config{}, err
	}
	return lanequeue.Config{
		DefaultCeiling:      c.Queue.DefaultCeiling,
		Ceilings:            c.Queue.Ceilings,
		WarnDepth:           c.Queue.WarnDepth,
		CompletionRetention: retention,
	}, nil
}

// MonitorOptions resolves the monitor section.
func (c *Config) MonitorOptions() (taskmon.Config, error) {
	interval, err := durationField("monitor.interval", c.Monitor.Interval, 5*time.Second)
	if err != nil {
		return taskmon.Config{}, err
	}
	warn, err := durationField("monitor.warn_window", c.Monitor.WarnWindow, 30*time.Second)
	if err != nil {
		return taskmon.Config{}, err
	}
	return taskmon.Config{Interval: interval, WarnWindow: warn}, nil
}

// ExecutorTimeout resolves executor.default_timeout.
func (c *Config) ExecutorTimeout() (time.Duration, error) {
	return durationField("executor.default_timeout", c.Executor.DefaultTimeout, 2*time.Minute)
}

// SchedulerOptions resolves the scheduler section.
func (c *Config) SchedulerOptions() (sched.Config, error) {
	base, err := durationField("scheduler.retry_base_delay", c.Scheduler.RetryBaseDelay, time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{RetryBaseDelay: base}, nil
}

// MemoryDir resolves the memory section.
func (c *Config) MemoryDir() string {
	if c.Memory.Dir == "" {
		return "./memory"
	}
	return c.Memory.Dir
}

// Validate resolves every section once so a bad reload is rejected
// before commit.
func (c *Config) Validate() error {
	if _, err := c.StorageOptions(); err != nil {
		return err
	}
	if _, err := c.QueueOptions(); err != nil {
		return err
	}
	if _, err := c.MonitorOptions(); err != nil {
		return err
	}
	if _, err := c.ExecutorTimeout(); err != nil {
		return err
	}
	if _, err := c.SchedulerOptions(); err != nil {
		return err
	}
	return nil
}
