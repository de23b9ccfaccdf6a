package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pawremind/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	Sections []string
	// Resync is set when reminder fire times may differ (offsets or timezone).
	Resync bool
	// Restart is set when a changed section is only read at startup.
	Restart []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs and returns the change plus
// safe structured attrs for logging. Secrets (token, dsn, url) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	attrs := make([]logx.Field, 0, 16)
	mark := func(section string) { ch.Sections = append(ch.Sections, section) }

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID {
		mark("telegram")
		attrs = append(attrs, logx.Int64("telegram.chat_id", nt.ChatID), logx.Int("telegram.thread_id", nt.ThreadID))
	}
	if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		ch.Restart = append(ch.Restart, "telegram.token")
	}

	or, nr := oldCfg.Reminders, newCfg.Reminders
	if !reflect.DeepEqual(or, nr) {
		mark("reminders")
		ch.Resync = !reflect.DeepEqual(or.Offsets, nr.Offsets) || strings.TrimSpace(or.Timezone) != strings.TrimSpace(nr.Timezone)
		attrs = append(attrs,
			logx.String("reminders.role", nr.Role),
			logx.String("reminders.timezone", nr.Timezone),
			logx.Int("reminders.offsets", len(nr.Offsets)),
			logx.Bool("reminders.resync", ch.Resync),
		)
	}

	if !reflect.DeepEqual(oldCfg.DailyCheck, newCfg.DailyCheck) {
		mark("daily_check")
		attrs = append(attrs,
			logx.Bool("daily_check.enabled", newCfg.DailyCheck.IsEnabled()),
			logx.String("daily_check.at", newCfg.DailyCheck.Time()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		mark("source")
		ch.Restart = append(ch.Restart, "source")
		attrs = append(attrs, logx.String("source.driver", newCfg.Source.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage")
		ch.Restart = append(ch.Restart, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		mark("notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Bool("notifier.persist_dedup", n.PersistDedup),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	sort.Strings(ch.Sections)
	return ch, attrs
}
