package notifier

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"pawremind/internal/eventbus"
	"pawremind/internal/storage"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

const sendTimeout = 10 * time.Second

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender, st := s.cfg, s.limiter, s.sender, s.store
	s.mu.Unlock()
	if sender == nil {
		s.publish(eventbus.NotifierFailed, j.n, j.key, ErrNoSender)
		return
	}

	text := render(j.n)
	if text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := sender.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.delivered(ctx, st, j, text, attempt)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("notification dropped after retries", logx.String("key", j.key), logx.String("channel", j.n.Channel), logx.Err(lastErr))
	s.publish(eventbus.NotifierFailed, j.n, j.key, lastErr)
}

func (s *Service) delivered(ctx context.Context, st storage.Store, j job, text string, attempts int) {
	now := time.Now()
	s.appendHistory(HistoryItem{At: now, Key: j.n.Key, Channel: j.n.Channel, Text: text, Attempts: attempts})
	s.publish(eventbus.NotifierSent, j.n, j.key, nil)
	if st == nil {
		return
	}
	rec := storage.DeliveryRecord{
		ID:       uuid.NewString(),
		Key:      j.n.Key,
		Channel:  j.n.Channel,
		ChatID:   j.n.Target.ChatID,
		Title:    j.n.Title,
		At:       now,
		Attempts: attempts,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := st.AppendDelivery(wctx, rec); err != nil {
		s.log.Debug("delivery log append failed", logx.Err(err))
	}
}

// render prefixes the priority marker and puts the title on its own line.
func render(n transport.Notification) string {
	body := strings.TrimSpace(n.Text)
	if title := strings.TrimSpace(n.Title); title != "" {
		if body == "" {
			body = title
		} else {
			body = title + "\n" + body
		}
	}
	if body == "" {
		return ""
	}
	return prefixForPriority(n.Priority) + body
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "🔔 "
	default:
		return ""
	}
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
