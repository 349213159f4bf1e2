package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Files may be JSON or YAML; both are decoded strictly, so unknown keys are
// rejected rather than silently ignored.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agent     AgentConfig     `json:"agent"`

	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	API     APIConfig      `json:"api"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// QueueConfig controls the work queue and its admission defaults.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - poll_interval: "250ms"
//   - default_timeout: "5m"
//   - max_queued_per_owner: 10
//   - max_running_per_owner: 3
//   - rate_per_minute: 30
//   - cleanup_max_age: "1h", cleanup_every: "10m"
type QueueConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	PollInterval   string `json:"poll_interval,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`

	MaxQueuedPerOwner  int `json:"max_queued_per_owner,omitempty"`
	MaxRunningPerOwner int `json:"max_running_per_owner,omitempty"`
	RatePerMinute      int `json:"rate_per_minute,omitempty"`

	CleanupMaxAge string `json:"cleanup_max_age,omitempty"`
	CleanupEvery  string `json:"cleanup_every,omitempty"`
}

// SchedulerConfig controls trigger behavior (once/interval/cron).
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an
// explicit false.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Tick     string `json:"tick,omitempty"`     // default "1s"
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

type AgentConfig struct {
	MaxSteps        int    `json:"max_steps,omitempty"` // default 10
	Timeout         string `json:"timeout,omitempty"`   // default "2m"
	SystemDirective string `json:"system_directive,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifyConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers,omitempty"`
	QueueSize  int  `json:"queue_size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional history archive.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./conductor.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// APIConfig controls the read-only diagnostics HTTP server.
//
// Security note: prefer binding to localhost. The server exposes queue and
// schedule state; do not put it on a public interface without a proxy.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}
