package app

import (
	"context"
	"strings"
	"time"

	"pawremind/internal/config"
	"pawremind/internal/source"
	logx "pawremind/pkg/logx"
)

// applyConfig applies a validated config published by the manager.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 && len(ch.Restart) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, key := range ch.Restart {
		a.log.Warn("config change needs a restart to take effect", logx.String("key", key))
	}

	set, err := mapSettings(newCfg)
	if err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
		return
	}
	a.mu.Lock()
	prev := a.set
	a.set = set
	a.mu.Unlock()

	if ch.Has("logging") || ch.Has("telegram") {
		a.logs.SetAlertTarget(alertTarget(newCfg))
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if ch.Has("scheduler") {
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.sched.Enabled()
			a.sched.Apply(sc)
			switch {
			case wasEnabled && !sc.Enabled:
				a.log.Info("scheduler disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
			case !wasEnabled && sc.Enabled:
				a.log.Info("scheduler enabled via config")
				a.sched.Start(ctx)
			}
		}
	}

	if ch.Has("notifier") {
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.notif.Enabled()
			a.notif.Apply(ncfg)
			switch {
			case wasEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if ch.Has("daily_check") || ch.Has("scheduler") {
		a.applyDaily(set)
	}

	// Target, priority and availability are re-checked whenever anything
	// the gateway depends on moved; a newly reachable gateway needs a resync.
	if ch.Has("telegram") || ch.Has("reminders") || ch.Has("scheduler") || ch.Has("notifier") {
		a.gw.SetConfig(set.gatewayConfig())
		_ = a.gw.Open(ctx)
	}
	if prev.participant != set.participant || prev.role != set.role {
		a.refilter(set)
	}
	resync := ch.Resync || prev.target != set.target || ch.Has("scheduler") || ch.Has("notifier")
	if resync {
		a.rec.SetCalculator(set.calc)
		a.requestReapply()
	}

	fields := append([]logx.Field{
		logx.String("changed", strings.Join(ch.Sections, ",")),
		logx.Bool("resync", resync),
	}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// refilter points the source at the current participant. Sources that
// filter upstream re-query; for the others the last snapshot is re-applied,
// since apply stamps the participant from settings.
func (a *App) refilter(set settings) {
	if f, ok := a.src.(source.Filtered); ok {
		f.SetFilter(set.participant, set.role)
		return
	}
	a.requestReapply()
}
