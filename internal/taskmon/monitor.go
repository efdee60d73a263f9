// Package taskmon is a background safety net that reports tasks nearing
// or past their deadline.
//
// The monitor only detects; what a timeout means (cancel, retry, mark
// failed) is the callback's policy. Callbacks fire again on every tick
// for as long as the condition holds, so they must be idempotent.
package taskmon

import (
	"context"
	"sync"
	"time"

	"agentcore/internal/taskstore"
	logx "agentcore/pkg/logx"
)

// ReasonTimeout is passed to the timeout callback.
const ReasonTimeout = "timeout"

const (
	defaultInterval   = 5 * time.Second
	defaultWarnWindow = 30 * time.Second
)

type Config struct {
	// Interval between sweeps over the active task set.
	Interval time.Duration
	// WarnWindow is how long before expiry the warning callback fires.
	WarnWindow time.Duration
}

// Hooks are the caller-supplied reactions. Nil hooks are skipped.
type Hooks struct {
	OnWarning func(rec *taskstore.Record, remaining time.Duration)
	OnTimeout func(rec *taskstore.Record, reason string)
}

type Monitor struct {
	store *taskstore.Store
	cfg   Config
	hooks Hooks
	log   logx.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store *taskstore.Store, cfg Config, hooks Hooks, log logx.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.WarnWindow <= 0 {
		cfg.WarnWindow = defaultWarnWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{store: store, cfg: cfg, hooks: hooks, log: log}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		m.log.Warn("timeout monitor already started")
		return
	}
	stopCh := make(chan struct{})
	m.stopCh = stopCh

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
	m.log.Info("timeout monitor started", logx.Duration("interval", m.cfg.Interval), logx.Duration("warn_window", m.cfg.WarnWindow))
}

// Stop cancels the poll timer. An in-flight tick still completes.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	m.wg.Wait()
	m.log.Info("timeout monitor stopped")
}

// Tick runs one sweep. Exported so composition roots and tests can drive
// the monitor without the background timer.
func (m *Monitor) Tick(ctx context.Context) {
	recs, err := m.store.ActiveTasks(ctx)
	if err != nil {
		m.log.Warn("timeout monitor sweep failed", logx.Err(err))
		return
	}
	now := time.Now()
	for _, rec := range recs {
		if !rec.Deadline.Armed() {
			continue
		}
		remaining := rec.Deadline.WillExpireAt.Sub(now)
		switch {
		case remaining <= 0:
			m.log.Debug("task past deadline", logx.String("task", rec.ID), logx.Duration("overdue", -remaining))
			if m.hooks.OnTimeout != nil {
				m.hooks.OnTimeout(rec, ReasonTimeout)
			}
		case remaining <= m.cfg.WarnWindow:
			if m.hooks.OnWarning != nil {
				m.hooks.OnWarning(rec, remaining)
			}
		}
	}
}
