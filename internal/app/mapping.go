package app

import (
	"strings"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/config"
	"pawremind/internal/gateway"
	"pawremind/internal/notifier"
	"pawremind/internal/reminder"
	"pawremind/internal/storage"
	"pawremind/internal/task/scheduler"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

const (
	defaultDailyTitle = "Face Scan Reminder"
	defaultDailyBody  = "Don't forget to scan your pet's face for the daily health check!"
)

// settings is the hot-reloadable part of the config in its runtime form.
type settings struct {
	target      transport.ChatTarget
	participant string
	role        appointment.Role
	window      time.Duration
	priority    int
	calc        reminder.Calculator

	dailyEnabled bool
	dailyAt      string
	dailyTitle   string
	dailyBody    string
}

func mapSettings(cfg *config.Config) (settings, error) {
	offsets, err := cfg.Reminders.ParseOffsets()
	if err != nil {
		return settings{}, err
	}
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return settings{}, err
	}
	role, err := cfg.Reminders.ParseRole()
	if err != nil {
		return settings{}, err
	}
	window, err := cfg.Reminders.Window()
	if err != nil {
		return settings{}, err
	}
	calc, err := reminder.NewCalculator(offsets, loc)
	if err != nil {
		return settings{}, err
	}

	s := settings{
		target:       transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		participant:  strings.TrimSpace(cfg.Reminders.Participant),
		role:         role,
		window:       window,
		priority:     cfg.Reminders.Priority,
		calc:         calc,
		dailyEnabled: cfg.DailyCheck.IsEnabled(),
		dailyAt:      cfg.DailyCheck.Time(),
		dailyTitle:   strings.TrimSpace(cfg.DailyCheck.Title),
		dailyBody:    strings.TrimSpace(cfg.DailyCheck.Body),
	}
	if s.dailyTitle == "" {
		s.dailyTitle = defaultDailyTitle
	}
	if s.dailyBody == "" {
		s.dailyBody = defaultDailyBody
	}
	return s, nil
}

func (s settings) gatewayConfig() gateway.Config {
	return gateway.Config{Target: s.target, Channel: "reminder", Priority: s.priority}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

// alertTarget is the chat warn-level logs go to: the reminder chat, in the
// alert thread when one is set.
func alertTarget(cfg *config.Config) transport.ChatTarget {
	thread := cfg.Logging.Alert.ThreadID
	if thread == 0 {
		thread = cfg.Telegram.ThreadID
	}
	return transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: thread}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.IsEnabled(),
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
		DefaultTimeout: timeout,
	}, nil
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, DedupWindow: time.Minute}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

// mapStorageConfig reports enabled=false for an omitted section or the
// "none" driver.
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
		Path:        strings.TrimSpace(sc.Path),
		URL:         strings.TrimSpace(sc.URL),
		Namespace:   strings.TrimSpace(sc.Namespace),
		BusyTimeout: busy,
	}, true, nil
}
