// Package pgsource polls appointments from PostgreSQL.
//
// Expected columns (text unless noted): id, from_id, to_id, appt_date
// (YYYY-MM-DD), appt_time (HH:MM), pet, status.
package pgsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pawremind/internal/appointment"
	"pawremind/internal/source"
	logx "pawremind/pkg/logx"
)

// Scheduler is the subset of the task scheduler used to drive polling.
type Scheduler interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type Config struct {
	DSN         string
	Table       string // default "appointments"
	Poll        string // cron spec, duration or HH:MM; default "1m"
	Timeout     time.Duration
	Participant string
	Role        appointment.Role
}

// Filter selects whose appointments are queried.
type Filter struct {
	Participant string
	Role        appointment.Role
}

type fetchFunc func(ctx context.Context, f Filter) ([]appointment.Appointment, error)

type Source struct {
	cfg   Config
	log   logx.Logger
	sched Scheduler
	now   func() time.Time

	pool  *pgxpool.Pool
	fetch fetchFunc

	kick chan struct{}

	mu      sync.Mutex
	filter  Filter
	tracker source.Tracker
}

const jobName = "source.postgres.poll"

var _ source.Filtered = (*Source)(nil)

// New connects the pool. The connection itself is lazy; Ping is used to
// fail fast on a bad DSN.
func New(ctx context.Context, cfg Config, sched Scheduler, log logx.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("source.dsn is required for postgres driver")
	}
	if sched == nil {
		return nil, errors.New("postgres source needs a scheduler")
	}
	if _, err := buildQuery(cfg.Table, Filter{}); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := newSource(cfg, sched, log)
	s.pool = pool
	s.fetch = func(ctx context.Context, f Filter) ([]appointment.Appointment, error) {
		q, err := buildQuery(cfg.Table, f)
		if err != nil {
			return nil, err
		}
		return queryAppointments(ctx, pool, q, f.Participant)
	}
	return s, nil
}

func newSource(cfg Config, sched Scheduler, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Poll) == "" {
		cfg.Poll = "1m"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Source{
		cfg:    cfg,
		log:    log,
		sched:  sched,
		now:    time.Now,
		kick:   make(chan struct{}, 1),
		filter: Filter{Participant: strings.TrimSpace(cfg.Participant), Role: cfg.Role},
	}
}

// SetFilter switches the queried participant. The next poll runs at once
// instead of waiting for the schedule; an unchanged filter is a no-op.
func (s *Source) SetFilter(participant string, role appointment.Role) {
	f := Filter{Participant: strings.TrimSpace(participant), Role: role}
	s.mu.Lock()
	if f == s.filter {
		s.mu.Unlock()
		return
	}
	s.filter = f
	s.tracker.Reset()
	s.mu.Unlock()

	s.log.Info("query filter changed", logx.String("participant", f.Participant), logx.String("role", string(f.Role)))
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Source) Name() string { return "postgres:" + tableName(s.cfg) }

// Run polls once immediately, then on the configured schedule until ctx
// is done. The pool is closed on return.
func (s *Source) Run(ctx context.Context, out chan<- source.Event) error {
	defer func() {
		if s.pool != nil {
			s.pool.Close()
		}
	}()

	_, err := s.sched.AddSchedule(jobName, s.cfg.Poll, s.cfg.Timeout, func(jctx context.Context) error {
		return s.poll(jctx, ctx, out)
	})
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	defer s.sched.Remove(jobName)

	s.pollNow(ctx, out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
			s.pollNow(ctx, out)
		}
	}
}

func (s *Source) pollNow(ctx context.Context, out chan<- source.Event) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	_ = s.poll(qctx, ctx, out)
}

// poll queries with qctx and sends with the longer-lived runCtx, so a slow
// consumer does not count against the query timeout.
func (s *Source) poll(qctx, runCtx context.Context, out chan<- source.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.filter
	appts, err := s.fetch(qctx, f)
	if err != nil {
		s.tracker.Reset()
		source.Send(runCtx, out, source.Event{Source: s.Name(), Err: err})
		return err
	}
	if !s.tracker.Changed(appts) {
		return nil
	}
	s.log.Debug("appointments polled", logx.Int("count", len(appts)))
	source.Send(runCtx, out, source.Event{
		Source: s.Name(),
		Snapshot: appointment.Snapshot{
			Participant:  f.Participant,
			Role:         f.Role,
			Appointments: appts,
			At:           s.now(),
		},
	})
	return nil
}

func tableName(cfg Config) string {
	if t := strings.TrimSpace(cfg.Table); t != "" {
		return t
	}
	return "appointments"
}

// buildQuery returns the SELECT for the participant's accepted appointments.
// An empty participant selects every accepted appointment.
func buildQuery(table string, f Filter) (string, error) {
	parts := strings.Split(tableName(Config{Table: table}), ".")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	q := "SELECT id, from_id, to_id, appt_date, appt_time, pet, status FROM " +
		pgx.Identifier(parts).Sanitize() +
		" WHERE status = 'accepted'"
	if strings.TrimSpace(f.Participant) != "" {
		col := "from_id"
		if f.Role == appointment.RoleVet {
			col = "to_id"
		}
		q += " AND " + col + " = $1"
	}
	return q + " ORDER BY id", nil
}

func queryAppointments(ctx context.Context, pool *pgxpool.Pool, q, participant string) ([]appointment.Appointment, error) {
	var args []any
	if strings.TrimSpace(participant) != "" {
		args = append(args, participant)
	}
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		var (
			a      appointment.Appointment
			status string
		)
		if err := rows.Scan(&a.ID, &a.From, &a.To, &a.Date, &a.Time, &a.Pet, &status); err != nil {
			return nil, err
		}
		a.Status = appointment.Status(strings.ToLower(strings.TrimSpace(status)))
		out = append(out, a)
	}
	return out, rows.Err()
}
