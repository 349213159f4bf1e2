// Package app is the composition root: it loads config, builds the services,
// wires them over the event bus, and owns startup/shutdown ordering.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conductor/internal/api"
	"conductor/internal/config"
	"conductor/internal/eventbus"
	"conductor/internal/services/agent"
	"conductor/internal/services/notify"
	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	"conductor/internal/storage"
	logx "conductor/pkg/logx"
)

// Options carries the pieces only the embedding program can provide.
type Options struct {
	// Decide backs the agent loop. When nil the agent service is not built;
	// queue and scheduler still run.
	Decide agent.Decide

	// Sinks are extra notification targets beside the default log sink.
	Sinks []notify.Sink
}

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	archiver *storage.Archiver

	queue *queue.Service
	sched *scheduler.Service
	agent *agent.Service
	notif *notify.Service
	api   *api.Service

	cleanupMaxAge time.Duration
	cleanupEvery  time.Duration

	runCancel context.CancelFunc
	loopWG    sync.WaitGroup
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	var archiver *storage.Archiver
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		archiver = storage.NewArchiver(st, log.With(logx.String("comp", "archiver")), bus)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	queueSvc := queue.New(qcfg, log.With(logx.String("comp", "queue")), bus)

	cleanupMaxAge, cleanupEvery, err := mapCleanupConfig(cfg)
	if err != nil {
		return nil, err
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(scfg, log.With(logx.String("comp", "scheduler")), bus)

	var agentSvc *agent.Service
	if opts.Decide != nil {
		acfg, err := mapAgentConfig(cfg)
		if err != nil {
			return nil, err
		}
		agentSvc = agent.New(acfg, opts.Decide, log.With(logx.String("comp", "agent")), bus)
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notify.New(ncfg, log.With(logx.String("comp", "notify")), bus)
	notifSvc.AddSink(notify.NewLogSink(log.With(logx.String("comp", "notify.log"))))
	for _, sink := range opts.Sinks {
		notifSvc.AddSink(sink)
	}

	apiSvc := api.NewService(mapAPIConfig(cfg),
		api.NewServer(queueSvc, schedSvc, store),
		log.With(logx.String("comp", "api")))

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		archiver:      archiver,
		queue:         queueSvc,
		sched:         schedSvc,
		agent:         agentSvc,
		notif:         notifSvc,
		api:           apiSvc,
		cleanupMaxAge: cleanupMaxAge,
		cleanupEvery:  cleanupEvery,
	}, nil
}

// Queue exposes the work queue for in-process job submission.
func (a *App) Queue() *queue.Service { return a.queue }

// Scheduler exposes the trigger registry.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Agent exposes the execution loop, nil when Options.Decide was not set.
func (a *App) Agent() *agent.Service { return a.agent }

// Notify exposes the notification fanout for direct enqueues.
func (a *App) Notify() *notify.Service { return a.notif }

func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapQueueConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapCleanupConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAgentConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.archiver != nil {
		a.archiver.Start(runCtx)
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	a.queue.Start(runCtx)
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	if a.api.Enabled() {
		a.api.Start(runCtx)
	}

	// Housekeeping: sweep terminal jobs past the retention window.
	_, err := a.sched.ScheduleInterval("queue:cleanup", a.cleanupEvery, scheduler.Options{}, func(context.Context) error {
		removed := a.queue.CleanupOldJobs(a.cleanupMaxAge)
		if removed > 0 {
			a.log.Debug("cleaned up old jobs", logx.Int("removed", removed))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register cleanup schedule: %w", err)
	}

	// Hot reload fanout.
	sub, unsub := a.cfgm.Subscribe()
	a.loopWG.Add(1)
	go func() {
		defer a.loopWG.Done()
		defer unsub()
		a.reloadLoop(runCtx, sub)
	}()

	a.loopWG.Add(1)
	go func() {
		defer a.loopWG.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, newCfg)
		}
	}
}

// applyConfig pushes a validated config into the running services. Storage
// changes need a restart; everything else applies live.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if qcfg, err := mapQueueConfig(cfg); err == nil {
		a.queue.Apply(ctx, qcfg)
	}
	if maxAge, every, err := mapCleanupConfig(cfg); err == nil {
		a.cleanupMaxAge = maxAge
		a.cleanupEvery = every
	}

	prevSched := a.sched.Enabled()
	if scfg, err := mapSchedulerConfig(cfg); err == nil {
		a.sched.Apply(scfg)
		if prevSched && !scfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevSched && scfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if a.agent != nil {
		if acfg, err := mapAgentConfig(cfg); err == nil {
			a.agent.Apply(acfg)
		}
	}

	prevNotif := a.notif.Enabled()
	if ncfg, err := mapNotifyConfig(cfg); err == nil {
		if prevNotif && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevNotif && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if _, enabled, _ := mapStorageConfig(cfg); enabled != (a.store != nil) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel == nil {
		return nil
	}
	a.log.Info("stopping")
	a.runCancel()

	// Helper: run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(stepCtx)
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// Stop producers before consumers: scheduler first so no new jobs arrive,
	// then the queue, then the observers of their events.
	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("queue", 5*time.Second, func(c context.Context) { a.queue.Stop(c) })
	step("api", 2*time.Second, func(c context.Context) { a.api.Stop(c) })
	step("notify", 2*time.Second, func(c context.Context) { a.notif.Stop(c) })
	if a.archiver != nil {
		step("archiver", 1*time.Second, func(c context.Context) { a.archiver.Stop(c) })
	}
	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		})
	}

	done := make(chan struct{})
	go func() {
		a.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
