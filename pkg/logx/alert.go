package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pawremind/internal/transport"
)

const alertTextLimit = 3500

// alertSink is a zerolog.LevelWriter that forwards high-severity lines to
// a chat. Writes never block logging; overflow is dropped.
type alertSink struct {
	sender transport.Sender

	mu       sync.Mutex
	to       transport.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan alertItem
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type alertItem struct {
	to   transport.ChatTarget
	text string
}

func newAlertSink(sender transport.Sender) *alertSink {
	return &alertSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan alertItem, 128),
	}
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled && a.sender != nil {
		a.once.Do(a.start)
	}
}

func (a *alertSink) setTarget(to transport.ChatTarget) {
	a.mu.Lock()
	a.to = to
	a.mu.Unlock()
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-a.queue:
				sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
				_, _ = a.sender.SendText(sctx, it.to, it.text, &transport.SendOptions{DisablePreview: true})
				scancel()
			}
		}
	}()
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	to := a.to
	lim := a.limiter
	minLevel := a.minLevel
	a.mu.Unlock()

	if a.sender == nil || to.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatAlert(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case a.queue <- alertItem{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// formatAlert renders a zerolog JSON line as "[LEVEL] message" followed by
// one "- key=value" line per field, keys sorted.
func formatAlert(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, alertTextLimit)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), alertTextLimit)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
