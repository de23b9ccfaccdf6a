package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/reminder"
	"pawremind/internal/task/scheduler"
)

const (
	DefaultUpcomingWindow = 7 * 24 * time.Hour
	DefaultDailyCheckAt   = "08:00"
)

// ParseOffsets converts the configured offsets. An empty list yields the
// default set.
func (c RemindersConfig) ParseOffsets() ([]reminder.Offset, error) {
	if len(c.Offsets) == 0 {
		return reminder.DefaultOffsets(), nil
	}
	out := make([]reminder.Offset, 0, len(c.Offsets))
	for i, o := range c.Offsets {
		d, err := ParseDurationField(fmt.Sprintf("reminders.offsets[%d].before", i), o.Before)
		if err != nil {
			return nil, err
		}
		out = append(out, reminder.Offset{Label: o.Label, Before: d})
	}
	if err := reminder.ValidateOffsets(out); err != nil {
		return nil, fmt.Errorf("reminders.%w", err)
	}
	return out, nil
}

// Location resolves reminders.timezone; empty means the process local zone.
func (c RemindersConfig) Location() (*time.Location, error) {
	return loadLocation("reminders.timezone", c.Timezone)
}

func (c RemindersConfig) ParseRole() (appointment.Role, error) {
	r, err := appointment.ParseRole(c.Role)
	if err != nil {
		return "", fmt.Errorf("reminders.role: %w", err)
	}
	return r, nil
}

func (c RemindersConfig) Window() (time.Duration, error) {
	return ParseDurationOrDefault("reminders.upcoming_window", c.UpcomingWindow, DefaultUpcomingWindow)
}

func (c DailyCheckConfig) Time() string {
	if at := strings.TrimSpace(c.At); at != "" {
		return at
	}
	return DefaultDailyCheckAt
}

func loadLocation(field, tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %q: %w", field, tz, err)
	}
	return loc, nil
}

var (
	sourceDrivers  = map[string]bool{"file": true, "postgres": true, "postgresql": true}
	storageDrivers = map[string]bool{"": true, "none": true, "memory": true, "mem": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true}
)

// Validate checks the whole document and reports every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(field, raw string) {
		_, err := ParseDurationField(field, raw)
		check(err)
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.ThreadID < 0 {
		check(errors.New("telegram.thread_id must be >= 0"))
	}

	_, err := cfg.Reminders.ParseOffsets()
	check(err)
	_, err = cfg.Reminders.Location()
	check(err)
	_, err = cfg.Reminders.ParseRole()
	check(err)
	dur("reminders.upcoming_window", cfg.Reminders.UpcomingWindow)
	if p := cfg.Reminders.Priority; p < 0 || p > 10 {
		check(fmt.Errorf("reminders.priority must be within 0..10, got %d", p))
	}

	if cfg.DailyCheck.IsEnabled() {
		if err := scheduler.ValidateHHMM(cfg.DailyCheck.Time()); err != nil {
			check(fmt.Errorf("daily_check.at: %w", err))
		}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Source.Driver))
	switch {
	case !sourceDrivers[driver]:
		check(fmt.Errorf("source.driver: unknown %q (want file|postgres)", cfg.Source.Driver))
	case driver == "file" && strings.TrimSpace(cfg.Source.Path) == "":
		check(errors.New("source.path is required for file driver"))
	case driver != "file" && strings.TrimSpace(cfg.Source.DSN) == "":
		check(errors.New("source.dsn is required for postgres driver"))
	}
	dur("source.debounce", cfg.Source.Debounce)
	if p := strings.TrimSpace(cfg.Source.Poll); p != "" {
		if err := scheduler.ValidateSchedule(p); err != nil {
			check(fmt.Errorf("source.poll: %w", err))
		}
	}

	if st := cfg.Storage; st != nil {
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		switch {
		case !storageDrivers[d]:
			check(fmt.Errorf("storage.driver: unknown %q", st.Driver))
		case (d == "file" || d == "sqlite" || d == "sqlite3") && strings.TrimSpace(st.Path) == "":
			check(fmt.Errorf("storage.path is required for %s driver", d))
		case d == "redis" && strings.TrimSpace(st.URL) == "":
			check(errors.New("storage.url is required for redis driver"))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			check(errors.New("notifier: counts must be >= 0"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	_, err = loadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	check(err)
	dur("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)

	return errors.Join(errs...)
}
