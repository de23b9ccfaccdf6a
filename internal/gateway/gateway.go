// Package gateway is the notification gateway reminders are scheduled on.
//
// A Gateway is constructed explicitly at startup and injected into the
// reconciler. One-shot timers live in the task scheduler under the reminder
// identifier; when one fires the reminder is handed to the notifier with the
// identifier as idempotency key.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pawremind/internal/eventbus"
	"pawremind/internal/reminder"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

// Scheduler is the subset of the task scheduler used for one-shot timers.
type Scheduler interface {
	Enabled() bool
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Deliverer hands a notification to the delivery pipeline.
type Deliverer interface {
	Enabled() bool
	Notify(ctx context.Context, n transport.Notification) error
}

type Config struct {
	Target   transport.ChatTarget
	Channel  string        // default "reminder"
	Priority int           // default 5
	Timeout  time.Duration // per-fire job timeout; default 15s
}

// FiredEvent is the Data of reminder.fired.
type FiredEvent struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	FireAt        time.Time `json:"fire_at"`
	Error         string    `json:"error,omitempty"`
}

type Option func(*Gateway)

// WithOnFired registers a callback run after a reminder has been handed off.
// fireAt is the time the fired timer was armed for.
func WithOnFired(fn func(ctx context.Context, id string, fireAt time.Time)) Option {
	return func(g *Gateway) { g.onFired = fn }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

type Gateway struct {
	sched   Scheduler
	deliver Deliverer
	bus     eventbus.Bus
	log     logx.Logger
	onFired func(ctx context.Context, id string, fireAt time.Time)
	now     func() time.Time

	mu     sync.RWMutex
	cfg    Config
	ready  bool
	reason error
}

var errNotOpened = errors.New("gateway not opened")

func New(cfg Config, sched Scheduler, deliver Deliverer, bus eventbus.Bus, log logx.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		sched:   sched,
		deliver: deliver,
		bus:     bus,
		log:     log,
		now:     time.Now,
		cfg:     withDefaults(cfg),
		reason:  errNotOpened,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func withDefaults(cfg Config) Config {
	if cfg.Channel == "" {
		cfg.Channel = "reminder"
	}
	if cfg.Priority == 0 {
		cfg.Priority = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return cfg
}

// Open runs the permission check. Until it succeeds every Schedule fails
// with reminder.ErrSchedulingUnavailable. Calling it again re-checks.
func (g *Gateway) Open(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reason error
	switch {
	case g.sched == nil || !g.sched.Enabled():
		reason = errors.New("scheduler disabled")
	case g.deliver == nil || !g.deliver.Enabled():
		reason = errors.New("notifier disabled or without transport")
	case g.cfg.Target.ChatID == 0:
		reason = errors.New("no delivery target configured")
	}
	g.ready = reason == nil
	g.reason = reason
	if reason != nil {
		g.log.Warn("reminder gateway unavailable", logx.Err(reason))
		return fmt.Errorf("%w: %w", reminder.ErrSchedulingUnavailable, reason)
	}
	g.log.Info("reminder gateway ready", logx.Int64("chat_id", g.cfg.Target.ChatID))
	return nil
}

// SetConfig swaps target and delivery options. Call Open afterwards to
// re-check availability.
func (g *Gateway) SetConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = withDefaults(cfg)
	g.mu.Unlock()
}

// Schedule arms (or re-arms) a one-shot reminder under id.
func (g *Gateway) Schedule(_ context.Context, id string, fireAt time.Time, c reminder.Content) error {
	g.mu.RLock()
	ready, reason, cfg := g.ready, g.reason, g.cfg
	g.mu.RUnlock()
	if !ready {
		return fmt.Errorf("%w: %w", reminder.ErrSchedulingUnavailable, reason)
	}
	if now := g.now(); !fireAt.After(now) {
		return fmt.Errorf("%w: %s is not after %s", reminder.ErrFireTimePassed, fireAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if _, err := g.sched.AddOnce(id, fireAt, cfg.Timeout, g.fireJob(id, fireAt, c)); err != nil {
		return fmt.Errorf("%w: %w", reminder.ErrSchedulingUnavailable, err)
	}
	g.publish(eventbus.ReminderScheduled, FiredEvent{ID: id, AppointmentID: c.AppointmentID, FireAt: fireAt})
	return nil
}

// Cancel removes id. Unknown ids are a no-op.
func (g *Gateway) Cancel(_ context.Context, id string) error {
	if g.sched == nil {
		return nil
	}
	if g.sched.Remove(id) {
		g.publish(eventbus.ReminderCancelled, FiredEvent{ID: id})
	}
	return nil
}

func (g *Gateway) fireJob(id string, fireAt time.Time, c reminder.Content) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		g.mu.RLock()
		cfg := g.cfg
		g.mu.RUnlock()

		err := g.deliver.Notify(ctx, transport.Notification{
			Channel:  cfg.Channel,
			Priority: cfg.Priority,
			Key:      id,
			Target:   cfg.Target,
			Title:    c.Title,
			Text:     c.Body,
		})
		ev := FiredEvent{ID: id, AppointmentID: c.AppointmentID, FireAt: fireAt}
		if err != nil {
			ev.Error = err.Error()
			g.log.Warn("reminder hand-off failed", logx.String("id", id), logx.Err(err))
		} else {
			g.log.Info("reminder fired", logx.String("id", id))
		}
		g.publish(eventbus.ReminderFired, ev)
		if g.onFired != nil {
			g.onFired(ctx, id, fireAt)
		}
		return err
	}
}

func (g *Gateway) publish(typ string, ev FiredEvent) {
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
