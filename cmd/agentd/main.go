package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/eventbus"
	"agentcore/internal/jobexec"
	"agentcore/internal/jobstore"
	"agentcore/internal/lanequeue"
	"agentcore/internal/sched"
	"agentcore/internal/storage"
	"agentcore/internal/taskmon"
	"agentcore/internal/taskstore"

	"agentcore/internal/capability"
	logx "agentcore/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	stCfg, err := cfg.StorageOptions()
	if err != nil {
		return err
	}
	st, err := storage.Open(stCfg, log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	bus := eventbus.New()
	tasks := taskstore.New(st, bus, log.With(logx.String("svc", "taskstore")))

	qCfg, err := cfg.QueueOptions()
	if err != nil {
		return err
	}
	queue := lanequeue.New(qCfg, log.With(logx.String("svc", "queue")))

	schedCfg, err := cfg.SchedulerOptions()
	if err != nil {
		return err
	}

	monCfg, err := cfg.MonitorOptions()
	if err != nil {
		return err
	}
	mon := taskmon.New(tasks, monCfg, taskmon.Hooks{
		OnWarning: func(rec *taskstore.Record, remaining time.Duration) {
			log.Warn("task approaching deadline",
				logx.String("task", rec.ID),
				logx.Duration("remaining", remaining))
		},
		OnTimeout: func(rec *taskstore.Record, reason string) {
			tctx, tcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer tcancel()
			if _, err := tasks.UpdateStatus(tctx, rec.ID, taskstore.StatusTimeout, reason); err != nil {
				log.Warn("failed to mark task timed out",
					logx.String("task", rec.ID), logx.Err(err))
			}
		},
	}, log.With(logx.String("svc", "taskmon")))
	mon.Start(ctx)
	defer mon.Stop()

	jobs := jobstore.New(st, log.With(logx.String("svc", "jobstore")))
	if err := jobs.Load(ctx); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	execTimeout, err := cfg.ExecutorTimeout()
	if err != nil {
		return err
	}
	exec := jobexec.New(jobexec.Deps{
		// Agent and tool runners are provided by the host process; until
		// one is wired in, agent_ask/tool_call triggers fail with a
		// "not configured" error rather than crashing.
		Sender:         &capability.LogSender{Log: log.With(logx.String("svc", "sender"))},
		Memory:         &capability.FileMemory{Dir: cfg.MemoryDir()},
		DefaultTimeout: execTimeout,
	}, log.With(logx.String("svc", "jobexec")))

	// Job runs go through the "cron" lane so scheduled work competes for
	// the same admission ceilings as everything else.
	scheduler := sched.New(schedCfg, jobs, &lanedRunner{queue: queue, exec: exec}, bus,
		log.With(logx.String("svc", "sched")))
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Stop()
	} else {
		log.Info("scheduler disabled by config")
	}

	// Mirror task lifecycle events into the log at debug level.
	go func() {
		events, unsub := bus.Subscribe(64)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Debug("event", logx.String("topic", string(ev.Topic)), logx.Any("data", ev.Data))
			}
		}
	}()

	// Hot-reload: log level and file sink follow the config file.
	go func() {
		updates := mgr.Subscribe(1)
		defer mgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				logSvc.Apply(next.LogxConfig())
				log.Info("logging config applied", logx.String("level", next.Logging.Level))
			}
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	log.Info("agentcore started",
		logx.String("config", cfgPath),
		logx.String("storage", stCfg.Driver),
		logx.Int("jobs_armed", scheduler.ActiveJobCount()))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// lanedRunner admits each job run through the lane queue before handing
// it to the executor.
type lanedRunner struct {
	queue *lanequeue.Service
	exec  *jobexec.Executor
}

func (r *lanedRunner) Execute(ctx context.Context, req jobexec.Request) jobexec.Result {
	id := fmt.Sprintf("job-%s-%d", req.Job.ID, time.Now().UnixNano())
	var res jobexec.Result
	if err := r.queue.Enqueue(ctx, id, "cron", func(ctx context.Context) error {
		res = r.exec.Execute(ctx, req)
		return nil
	}); err != nil {
		return jobexec.Result{Error: err.Error()}
	}
	if err := r.queue.WaitForCompletion(ctx, id, 0); err != nil {
		return jobexec.Result{Error: err.Error()}
	}
	r.queue.Forget(id)
	return res
}
