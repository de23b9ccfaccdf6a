package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pawremind/internal/eventbus"
	"pawremind/internal/storage"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	failLeft int
	sent     []string
	got      chan string
}

func newFakeSender(fail int) *fakeSender {
	return &fakeSender{failLeft: fail, got: make(chan string, 16)}
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLeft > 0 {
		f.failLeft--
		return transport.MessageRef{}, errors.New("flaky")
	}
	f.sent = append(f.sent, text)
	f.got <- text
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		RatePerSec:    100,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
	}
}

func startNotifier(t *testing.T, cfg Config, sender transport.Sender, st storage.Store) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), eventbus.New(), st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func awaitText(t *testing.T, f *fakeSender) string {
	t.Helper()
	select {
	case txt := <-f.got:
		return txt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func TestNotifyDeliversAndLogs(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	f := newFakeSender(0)
	s := startNotifier(t, testConfig(), f, st)

	err := s.Notify(context.Background(), transport.Notification{
		Channel: "reminder", Priority: 5, Key: "a1-5min",
		Target: transport.ChatTarget{ChatID: 42},
		Title:  "Upcoming Appointment Reminder",
		Text:   "Appointment for Milo on 2025-06-01 at 10:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := awaitText(t, f)
	want := "🔔 Upcoming Appointment Reminder\nAppointment for Milo on 2025-06-01 at 10:00"
	if got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for len(st.Deliveries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	recs := st.Deliveries()
	if len(recs) != 1 || recs[0].Key != "a1-5min" || recs[0].ChatID != 42 || recs[0].ID == "" || recs[0].Attempts != 1 {
		t.Fatalf("deliveries = %+v", recs)
	}
}

func TestNotifyDedupByKey(t *testing.T) {
	t.Parallel()

	f := newFakeSender(0)
	s := startNotifier(t, testConfig(), f, nil)
	n := transport.Notification{Channel: "reminder", Key: "a1-24hours", Text: "hi", Target: transport.ChatTarget{ChatID: 1}}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatal(err)
		}
	}
	awaitText(t, f)
	time.Sleep(50 * time.Millisecond)
	if c := f.count(); c != 1 {
		t.Fatalf("delivered %d times, want 1", c)
	}
}

func TestNotifyDedupUntilOverridesWindow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DedupWindow = time.Millisecond
	f := newFakeSender(0)
	s := startNotifier(t, cfg, f, nil)

	n := transport.Notification{
		Channel: "daily", Key: "daily-2025-06-01", Text: "scan",
		Target:     transport.ChatTarget{ChatID: 1},
		DedupUntil: time.Now().Add(time.Hour),
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	awaitText(t, f)
	time.Sleep(20 * time.Millisecond) // well past the 1ms window
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if c := f.count(); c != 1 {
		t.Fatalf("delivered %d times, want 1", c)
	}

	// Without DedupUntil the short window applies.
	n.DedupUntil = time.Time{}
	n.Key = "daily-2025-06-02"
	for i := 0; i < 2; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatal(err)
		}
		awaitText(t, f)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNotifyPersistentDedupAcrossRestart(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	cfg := testConfig()
	cfg.PersistDedup = true
	n := transport.Notification{Channel: "reminder", Key: "a1-5min", Text: "hi", Target: transport.ChatTarget{ChatID: 1}}

	f1 := newFakeSender(0)
	s1 := New(cfg, f1, logx.Nop(), nil, st)
	s1.Start(context.Background())
	if err := s1.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	awaitText(t, f1)
	s1.Stop(context.Background())
	if _, ok, _ := st.GetDedup(context.Background(), "a1-5min"); !ok {
		t.Fatal("dedup mark not persisted")
	}

	f2 := newFakeSender(0)
	s2 := startNotifier(t, cfg, f2, st)
	if err := s2.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if c := f2.count(); c != 0 {
		t.Fatalf("re-delivered after restart: %d", c)
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	f := newFakeSender(2)
	s := startNotifier(t, testConfig(), f, st)
	if err := s.Notify(context.Background(), transport.Notification{Channel: "notice", Text: "x", Target: transport.ChatTarget{ChatID: 1}}); err != nil {
		t.Fatal(err)
	}
	awaitText(t, f)
	deadline := time.Now().Add(time.Second)
	for len(st.Deliveries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if recs := st.Deliveries(); len(recs) != 1 || recs[0].Attempts != 3 {
		t.Fatalf("deliveries = %+v, want one with 3 attempts", recs)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := transport.Notification{Channel: "notice", Text: "x"}

	disabled := New(Config{}, newFakeSender(0), logx.Nop(), nil, nil)
	if err := disabled.Notify(ctx, n); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: err = %v", err)
	}
	noSender := New(testConfig(), nil, logx.Nop(), nil, nil)
	if err := noSender.Notify(ctx, n); !errors.Is(err, ErrNoSender) {
		t.Fatalf("no sender: err = %v", err)
	}
	if noSender.Enabled() {
		t.Fatal("Enabled() without sender should be false")
	}
	notStarted := New(testConfig(), newFakeSender(0), logx.Nop(), nil, nil)
	if err := notStarted.Notify(ctx, n); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: err = %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v not within jitter of base", d)
	}
}
