package app

import (
	"context"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/source"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

// snapshotLoop feeds source events to the reconciler one at a time. Bursts
// are coalesced: only the newest pending event is applied.
func (a *App) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.handleEvent(ctx, latestEvent(a.events, ev))
		case <-a.kick:
			if snap, ok := a.rec.Last(); ok {
				a.apply(ctx, snap)
			}
		}
	}
}

func latestEvent(ch <-chan source.Event, cur source.Event) source.Event {
	for {
		select {
		case next := <-ch:
			cur = next
		default:
			return cur
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev source.Event) {
	if ev.Err != nil {
		_ = a.rec.SourceFailed(ctx, ev.Source, ev.Err)
		return
	}
	a.apply(ctx, ev.Snapshot)
}

// apply reconciles snap. Participant and role always come from the current
// config so a reload takes effect on the next snapshot.
func (a *App) apply(ctx context.Context, snap appointment.Snapshot) {
	set := a.settings()
	snap.Participant, snap.Role = set.participant, set.role

	rep := a.rec.Apply(ctx, snap)
	fields := []logx.Field{
		logx.String("run", rep.RunID),
		logx.Bool("forced", rep.Forced),
		logx.Int("planned", rep.Planned),
		logx.Int("changed", rep.Changed),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("cancelled", rep.Cancelled),
		logx.Int("expired", rep.Expired),
		logx.Int("skipped", len(rep.Skipped)),
	}
	switch {
	case rep.Err() != nil:
		a.log.Warn("reconcile finished with errors", append(fields, logx.Err(rep.Err()))...)
	case rep.Changed > 0:
		a.log.Info("reminders reconciled", fields...)
	default:
		a.log.Debug("reminders unchanged", fields...)
	}
}

// requestReapply re-runs the last snapshot on the snapshot loop.
func (a *App) requestReapply() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// onFired drops a handed-off reminder from the ledger.
func (a *App) onFired(ctx context.Context, id string, fireAt time.Time) {
	if err := a.rec.Forget(ctx, id, fireAt); err != nil {
		a.log.Warn("ledger cleanup failed", logx.String("id", id), logx.Err(err))
	}
}

// notice surfaces an operational message to the reminder chat.
func (a *App) notice(ctx context.Context, text string) {
	set := a.settings()
	if set.target.ChatID == 0 {
		a.log.Warn("notice not delivered: no chat configured", logx.String("text", text))
		return
	}
	err := a.notif.Notify(ctx, transport.Notification{
		Channel:  "notice",
		Priority: 7,
		Target:   set.target,
		Title:    "pawremind",
		Text:     text,
	})
	if err != nil {
		a.log.Warn("notice not delivered", logx.String("text", text), logx.Err(err))
	}
}
