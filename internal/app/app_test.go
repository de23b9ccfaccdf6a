package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/config"
	"pawremind/internal/source"
	"pawremind/internal/transport"
	"pawremind/internal/transport/console"
)

func TestFormatWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{7 * 24 * time.Hour, "7 days"},
		{24 * time.Hour, "day"},
		{36 * time.Hour, "36h0m0s"},
		{90 * time.Minute, "1h30m0s"},
	}
	for _, tt := range tests {
		if got := formatWindow(tt.in); got != tt.want {
			t.Errorf("formatWindow(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLatestEventKeepsNewest(t *testing.T) {
	t.Parallel()

	ch := make(chan source.Event, 4)
	ch <- source.Event{Source: "b"}
	ch <- source.Event{Source: "c"}
	if got := latestEvent(ch, source.Event{Source: "a"}); got.Source != "c" {
		t.Fatalf("latestEvent = %q, want c", got.Source)
	}
	if len(ch) != 0 {
		t.Fatal("pending events should be drained")
	}
}

func TestMapSettingsDefaults(t *testing.T) {
	t.Parallel()

	set, err := mapSettings(&config.Config{Telegram: config.TelegramConfig{ChatID: 5, ThreadID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if set.window != config.DefaultUpcomingWindow || set.dailyAt != "08:00" || set.dailyTitle != defaultDailyTitle {
		t.Fatalf("defaults = %+v", set)
	}
	if len(set.calc.Offsets) != 2 || set.calc.Offsets[0].Label != "24hours" {
		t.Fatalf("offsets = %+v", set.calc.Offsets)
	}
	if set.target != (transport.ChatTarget{ChatID: 5, ThreadID: 2}) {
		t.Fatalf("target = %+v", set.target)
	}
}

func TestDailyNotificationDedupsUntilMidnight(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("WIB", 7*3600)
	set := settings{target: transport.ChatTarget{ChatID: 7}, dailyTitle: "Face Scan Reminder", dailyBody: "scan"}
	n := dailyNotification(set, time.Date(2025, 6, 30, 8, 0, 0, 0, loc))
	if n.Key != "daily-2025-06-30" {
		t.Fatalf("key = %q", n.Key)
	}
	if want := time.Date(2025, 7, 1, 0, 0, 0, 0, loc); !n.DedupUntil.Equal(want) {
		t.Fatalf("DedupUntil = %v, want %v", n.DedupUntil, want)
	}
	if n.Target.ChatID != 7 || n.Channel != "daily" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	n, err := mapNotifierConfig(&config.Config{})
	if err != nil || !n.Enabled || n.DedupWindow != time.Minute {
		t.Fatalf("omitted section = %+v, %v", n, err)
	}
	n, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryBase: "2s", PersistDedup: true}})
	if err != nil || n.Enabled || n.RetryBase != 2*time.Second || !n.PersistDedup {
		t.Fatalf("explicit section = %+v, %v", n, err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if _, enabled, err := mapStorageConfig(&config.Config{}); enabled || err != nil {
		t.Fatalf("omitted storage enabled=%v err=%v", enabled, err)
	}
	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " SQLite ", Path: "x.db", BusyTimeout: "2s"}})
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite = %+v, %v, %v", sc, enabled, err)
	}
}

// TestAppDeliversReminderEndToEnd runs the whole pipeline with the file
// source, memory storage and the console transport.
func TestAppDeliversReminderEndToEnd(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	at := now.Truncate(time.Minute).Add(3 * time.Minute)
	before := (at.Sub(now) - 5*time.Second).Truncate(time.Second)

	apptPath := filepath.Join(dir, "appointments.yaml")
	appts := fmt.Sprintf(`appointments:
  - id: a1
    from: owner-1
    to: vet-1
    date: "%s"
    time: "%s"
    pet: Milo
    status: accepted
  - id: a2
    from: owner-2
    to: vet-1
    date: "%s"
    time: "%s"
    pet: Rex
    status: accepted
`, at.Format("2006-01-02"), at.Format("15:04"), at.Format("2006-01-02"), at.Format("15:04"))
	if err := os.WriteFile(apptPath, []byte(appts), 0o600); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.json")
	cfgBody := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "telegram": {"chat_id": 1001},
  "reminders": {
    "participant": "owner-1",
    "role": "owner",
    "timezone": "UTC",
    "offsets": [{"label": "soon", "before": %q}]
  },
  "daily_check": {"enabled": false},
  "source": {"driver": "file", "path": %q, "debounce": "50ms"},
  "storage": {"driver": "memory"}
}`, before.String(), apptPath)
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	out, ok := a.sender.(*console.Sender)
	if !ok {
		t.Fatalf("sender = %T, want console", a.sender)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	waitFor(t, 2*time.Second, func() bool {
		entries, err := a.rec.Ledger(ctx)
		return err == nil && len(entries) == 1 && entries[0].ID == "a1-soon"
	})

	a.handleCommand(ctx, transport.Command{Name: "scheduled", ChatID: 1001})
	a.handleCommand(ctx, transport.Command{Name: "upcoming", ChatID: 1001})
	a.handleCommand(ctx, transport.Command{Name: "upcoming", ChatID: 42}) // foreign chat
	sent := out.Sent()
	if len(sent) != 2 {
		t.Fatalf("replies = %q, want 2", sent)
	}
	if !strings.Contains(sent[0], "a1-soon") {
		t.Fatalf("/scheduled reply = %q", sent[0])
	}
	if !strings.Contains(sent[1], "Milo") || strings.Contains(sent[1], "Rex") {
		t.Fatalf("/upcoming reply = %q", sent[1])
	}

	waitFor(t, 10*time.Second, func() bool {
		for _, s := range out.Sent() {
			if strings.Contains(s, "Upcoming Appointment Reminder") && strings.Contains(s, "Appointment for Milo") {
				return true
			}
		}
		return false
	})
	waitFor(t, 2*time.Second, func() bool {
		entries, err := a.rec.Ledger(ctx)
		return err == nil && len(entries) == 0
	})
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type filteredSource struct {
	participant string
	role        appointment.Role
	calls       int
}

func (f *filteredSource) Name() string { return "fake" }

func (f *filteredSource) Run(ctx context.Context, _ chan<- source.Event) error {
	<-ctx.Done()
	return nil
}

func (f *filteredSource) SetFilter(p string, r appointment.Role) {
	f.participant, f.role = p, r
	f.calls++
}

type plainSource struct{}

func (plainSource) Name() string { return "plain" }

func (plainSource) Run(ctx context.Context, _ chan<- source.Event) error {
	<-ctx.Done()
	return nil
}

func TestRefilterRoutesParticipantChange(t *testing.T) {
	t.Parallel()

	set := settings{participant: "vet-9", role: appointment.RoleVet}

	fs := &filteredSource{}
	a := &App{src: fs, kick: make(chan struct{}, 1)}
	a.refilter(set)
	if fs.calls != 1 || fs.participant != "vet-9" || fs.role != appointment.RoleVet {
		t.Fatalf("SetFilter calls=%d participant=%q role=%q", fs.calls, fs.participant, fs.role)
	}
	select {
	case <-a.kick:
		t.Fatal("filtered source should re-query instead of re-applying the old snapshot")
	default:
	}

	a = &App{src: plainSource{}, kick: make(chan struct{}, 1)}
	a.refilter(set)
	select {
	case <-a.kick:
	default:
		t.Fatal("plain source should re-apply the last snapshot")
	}
}
