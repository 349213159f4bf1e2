package app

import (
	"fmt"
	"strings"
	"time"

	"conductor/internal/api"
	"conductor/internal/config"
	"conductor/internal/services/agent"
	"conductor/internal/services/notify"
	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	"conductor/internal/storage"
)

// cleanupDefaults applies when queue.cleanup_* fields are omitted.
const (
	defaultCleanupMaxAge = time.Hour
	defaultCleanupEvery  = 10 * time.Minute
)

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	if cfg == nil {
		return queue.Config{}, nil
	}
	qc := cfg.Queue
	if qc.Workers < 0 {
		return queue.Config{}, fmt.Errorf("queue.workers must be >= 0")
	}
	if qc.QueueSize < 0 {
		return queue.Config{}, fmt.Errorf("queue.queue_size must be >= 0")
	}
	if qc.MaxQueuedPerOwner < 0 || qc.MaxRunningPerOwner < 0 || qc.RatePerMinute < 0 {
		return queue.Config{}, fmt.Errorf("queue per-owner limits must be >= 0")
	}

	poll, err := config.ParseDurationField("queue.poll_interval", qc.PollInterval)
	if err != nil {
		return queue.Config{}, err
	}
	defTimeout, err := config.ParseDurationField("queue.default_timeout", qc.DefaultTimeout)
	if err != nil {
		return queue.Config{}, err
	}

	return queue.Config{
		Workers:      qc.Workers,
		QueueSize:    qc.QueueSize,
		PollInterval: poll,
		DefaultQuota: queue.Quota{
			MaxRunning:     qc.MaxRunningPerOwner,
			MaxQueued:      qc.MaxQueuedPerOwner,
			DefaultTimeout: defTimeout,
			RatePerMinute:  qc.RatePerMinute,
		},
	}, nil
}

func mapCleanupConfig(cfg *config.Config) (maxAge, every time.Duration, err error) {
	maxAge, err = config.ParseDurationOrDefault("queue.cleanup_max_age", cfg.Queue.CleanupMaxAge, defaultCleanupMaxAge)
	if err != nil {
		return 0, 0, err
	}
	every, err = config.ParseDurationOrDefault("queue.cleanup_every", cfg.Queue.CleanupEvery, defaultCleanupEvery)
	if err != nil {
		return 0, 0, err
	}
	return maxAge, every, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	tick, err := config.ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	enabled := true
	if cfg.Scheduler.Enabled != nil {
		enabled = *cfg.Scheduler.Enabled
	}
	return scheduler.Config{
		Enabled:  enabled,
		Tick:     tick,
		Timezone: cfg.Scheduler.Timezone,
	}, nil
}

func mapAgentConfig(cfg *config.Config) (agent.Config, error) {
	if cfg == nil {
		return agent.Config{}, nil
	}
	if cfg.Agent.MaxSteps < 0 {
		return agent.Config{}, fmt.Errorf("agent.max_steps must be >= 0")
	}
	timeout, err := config.ParseDurationField("agent.timeout", cfg.Agent.Timeout)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		MaxSteps:        cfg.Agent.MaxSteps,
		Timeout:         timeout,
		SystemDirective: cfg.Agent.SystemDirective,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	if cfg == nil || cfg.Notify == nil {
		// Omitted section: notifier on with defaults.
		return notify.Config{Enabled: true}, nil
	}
	nc := cfg.Notify
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("notify sizes must be >= 0")
	}
	return notify.Config{
		Enabled:    nc.Enabled,
		Workers:    nc.Workers,
		QueueSize:  nc.QueueSize,
		RatePerSec: float64(nc.RatePerSec),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapAPIConfig(cfg *config.Config) api.Config {
	if cfg == nil {
		return api.Config{}
	}
	return api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    cfg.API.Addr,
	}
}
