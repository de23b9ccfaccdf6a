package app

import (
	"context"
	"time"

	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

const dailyJobName = "daily_check"

// applyDaily (re)registers the daily wellness prompt.
func (a *App) applyDaily(set settings) {
	a.sched.Remove(dailyJobName)
	if !set.dailyEnabled {
		return
	}
	if _, err := a.sched.AddDaily(dailyJobName, set.dailyAt, 0, a.dailyCheck); err != nil {
		a.log.Warn("daily check not registered", logx.String("at", set.dailyAt), logx.Err(err))
		return
	}
	a.log.Info("daily check registered", logx.String("at", set.dailyAt))
}

// dailyCheck sends one prompt per calendar day in the scheduler timezone.
func (a *App) dailyCheck(ctx context.Context) error {
	set := a.settings()
	if set.target.ChatID == 0 {
		a.log.Debug("daily check skipped: no chat configured")
		return nil
	}
	return a.notif.Notify(ctx, dailyNotification(set, a.now().In(a.sched.Location())))
}

// dailyNotification is deduplicated until local midnight, so a re-fired
// job (restart, reload) prompts at most once per calendar day.
func dailyNotification(set settings, now time.Time) transport.Notification {
	y, m, d := now.Date()
	return transport.Notification{
		Channel:    "daily",
		Priority:   3,
		Key:        "daily-" + now.Format("2006-01-02"),
		Target:     set.target,
		Title:      set.dailyTitle,
		Text:       set.dailyBody,
		DedupUntil: time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()),
	}
}
