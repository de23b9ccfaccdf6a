package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

const (
	testReminderName  = "test-reminder"
	testReminderDelay = 10 * time.Second
)

func (a *App) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			a.handleCommand(ctx, cmd)
		}
	}
}

func (a *App) handleCommand(ctx context.Context, cmd transport.Command) {
	set := a.settings()
	log := a.log.With(logx.String("cmd", cmd.Name), logx.Int64("chat_id", cmd.ChatID))

	// /start answers anywhere so a new chat can learn its id.
	if cmd.Name != "start" && set.target.ChatID != 0 && cmd.ChatID != set.target.ChatID {
		log.Debug("command from foreign chat ignored")
		return
	}

	var text string
	switch cmd.Name {
	case "start":
		text = fmt.Sprintf("pawremind is running.\nThis chat id: %d", cmd.ChatID)
		if set.target.ChatID == 0 {
			text += "\nSet telegram.chat_id to this value to receive reminders here."
		}
	case "upcoming":
		text = a.upcomingText(set)
	case "scheduled":
		text = a.scheduledText(ctx, set)
	case "test":
		text = a.scheduleTest(cmd.Reply())
	default:
		log.Debug("unknown command")
		return
	}

	if _, err := a.sender.SendText(ctx, cmd.Reply(), text, nil); err != nil {
		log.Warn("command reply failed", logx.Err(err))
	}
}

func (a *App) upcomingText(set settings) string {
	snap, ok := a.rec.Last()
	if !ok {
		return "No appointments loaded yet."
	}
	snap.Participant, snap.Role = set.participant, set.role
	loc := set.calc.Location
	list := appointment.Upcoming(snap.Accepted(), a.now(), set.window, loc)
	if len(list) == 0 {
		return fmt.Sprintf("No accepted appointments in the next %s.", formatWindow(set.window))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Upcoming appointments (next %s):", formatWindow(set.window))
	for _, ap := range list {
		pet := ap.Pet
		if pet == "" {
			pet = "your pet"
		}
		fmt.Fprintf(&b, "\n• %s %s %s (%s)", ap.Date, ap.Time, pet, ap.ID)
	}
	return b.String()
}

func (a *App) scheduledText(ctx context.Context, set settings) string {
	entries, err := a.rec.Ledger(ctx)
	if err != nil {
		a.log.Warn("ledger read failed", logx.Err(err))
		return "Scheduled reminders are unavailable right now."
	}
	if len(entries) == 0 {
		return "No reminders scheduled."
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].FireAt.Before(entries[j].FireAt) })

	loc := set.calc.Location
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled reminders (%d):", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n• %s at %s", e.ID, e.FireAt.In(loc).Format("2006-01-02 15:04"))
	}
	return b.String()
}

// scheduleTest arms a one-off notification to confirm delivery works.
func (a *App) scheduleTest(to transport.ChatTarget) string {
	at := a.now().Add(testReminderDelay)
	_, err := a.sched.AddOnce(testReminderName, at, 0, func(ctx context.Context) error {
		return a.notif.Notify(ctx, transport.Notification{
			Channel:  "reminder",
			Priority: 5,
			Key:      fmt.Sprintf("%s-%d", testReminderName, at.UnixNano()),
			Target:   to,
			Title:    "Test Reminder",
			Text:     "This is a test notification to confirm setup!",
		})
	})
	if err != nil {
		return "Test reminder could not be scheduled: " + err.Error()
	}
	if !a.sched.Running() {
		return "Scheduler is not running; the test reminder will fire once it starts."
	}
	return fmt.Sprintf("Test reminder scheduled in %s.", testReminderDelay)
}

func formatWindow(d time.Duration) string {
	day := 24 * time.Hour
	if d >= day && d%day == 0 {
		if n := int(d / day); n != 1 {
			return fmt.Sprintf("%d days", n)
		}
		return "day"
	}
	return d.String()
}
