package config

// Config is the whole pawremind configuration document.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Telegram   TelegramConfig   `json:"telegram"`
	Reminders  RemindersConfig  `json:"reminders"`
	DailyCheck DailyCheckConfig `json:"daily_check"`
	Source     SourceConfig     `json:"source"`
	Scheduler  SchedulerConfig  `json:"scheduler"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	// Storage is disabled when the section is omitted.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warn-and-above log lines to the telegram chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig selects the chat transport. With an empty token the
// console transport is used instead.
type TelegramConfig struct {
	Token       string `json:"token"` // supports ${ENV}
	PollTimeout string `json:"poll_timeout,omitempty"`
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
}

type RemindersConfig struct {
	Participant string         `json:"participant"`
	Role        string         `json:"role"` // owner|vet
	Timezone    string         `json:"timezone,omitempty"`
	Offsets     []OffsetConfig `json:"offsets,omitempty"`
	// UpcomingWindow bounds the /upcoming list; default "168h".
	UpcomingWindow string `json:"upcoming_window,omitempty"`
	Priority       int    `json:"priority,omitempty"`
}

type OffsetConfig struct {
	Label  string `json:"label"`
	Before string `json:"before"`
}

// DailyCheckConfig is the repeating wellness prompt. Enabled defaults to true.
type DailyCheckConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	At      string `json:"at,omitempty"` // HH:MM, default "08:00"
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
}

// SourceConfig selects where appointments come from.
//
// Example:
//
//	"source": { "driver": "file", "path": "./appointments.yaml" }
type SourceConfig struct {
	Driver   string `json:"driver"` // file|postgres
	Path     string `json:"path,omitempty"`
	Debounce string `json:"debounce,omitempty"`
	DSN      string `json:"dsn,omitempty"` // supports ${ENV}
	Table    string `json:"table,omitempty"`
	Poll     string `json:"poll,omitempty"` // cron, duration or HH:MM
}

// StorageConfig controls the optional persistence layer.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"` // supports ${ENV}
	Namespace   string `json:"namespace,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// SchedulerConfig controls the trigger service. Enabled defaults to true.
type SchedulerConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

func (c SchedulerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c DailyCheckConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }
