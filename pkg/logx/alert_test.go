package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pawremind/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	hit  chan struct{}
}

func (c *captureSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	select {
	case c.hit <- struct{}{}:
	default:
	}
	return transport.MessageRef{}, nil
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json line",
			in:   `{"level":"warn","time":"x","message":"scheduling unavailable","comp":"reminder","id":"a1-5min"}`,
			want: "[WARN] scheduling unavailable\n- comp=reminder\n- id=a1-5min",
		},
		{
			name: "plain text",
			in:   "  not json  \n",
			want: "not json",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatAlert([]byte(tt.in)); got != tt.want {
				t.Fatalf("formatAlert() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAlertSinkRespectsLevelAndTarget(t *testing.T) {
	t.Parallel()

	cs := &captureSender{hit: make(chan struct{}, 4)}
	a := newAlertSink(cs)
	a.configure(AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100})
	defer a.stop()

	line := []byte(`{"level":"warn","message":"x"}`)

	// No target yet: dropped.
	_, _ = a.WriteLevel(zerolog.WarnLevel, line)
	// Below min level: dropped.
	a.setTarget(transport.ChatTarget{ChatID: 42})
	_, _ = a.WriteLevel(zerolog.InfoLevel, line)
	// Delivered.
	_, _ = a.WriteLevel(zerolog.ErrorLevel, line)

	select {
	case <-cs.hit:
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(cs.sent))
	}
	if !strings.HasPrefix(cs.sent[0], "[WARN] x") {
		t.Fatalf("sent[0] = %q", cs.sent[0])
	}
}

func TestLoggerZeroValueIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Warn("dropped too")
	if Nop().IsZero() {
		t.Fatal("Nop() should not report IsZero")
	}
}
