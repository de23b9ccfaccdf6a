package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawremind/internal/appointment"
	"pawremind/internal/eventbus"
	"pawremind/internal/storage"
	logx "pawremind/pkg/logx"
)

// Gateway is the notification scheduler the reconciler drives.
// Schedule replaces an existing id; Cancel of an unknown id succeeds.
type Gateway interface {
	Schedule(ctx context.Context, id string, fireAt time.Time, c Content) error
	Cancel(ctx context.Context, id string) error
}

// Noticer surfaces a short user-visible warning.
type Noticer interface {
	Notice(ctx context.Context, text string)
}

type NoticerFunc func(ctx context.Context, text string)

func (f NoticerFunc) Notice(ctx context.Context, text string) { f(ctx, text) }

// Report summarizes one Apply call.
type Report struct {
	RunID     string
	At        time.Time
	Forced    bool
	Planned   int
	Changed   int
	Scheduled int
	Cancelled int
	// Expired counts triggers that came due between planning and scheduling.
	Expired   int
	Skipped   []error
	Failed    []error
}

// Err joins the gateway and ledger failures of the run.
func (r Report) Err() error { return errors.Join(r.Failed...) }

type Option func(*Reconciler)

func WithLogger(l logx.Logger) Option { return func(r *Reconciler) { r.log = l } }
func WithNoticer(n Noticer) Option    { return func(r *Reconciler) { r.notice = n } }
func WithBus(b eventbus.Bus) Option   { return func(r *Reconciler) { r.bus = b } }
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// Reconciler keeps the gateway in sync with the accepted appointments of the
// latest snapshot. All methods are safe for concurrent use; Apply calls are
// serialized so the last caller wins.
type Reconciler struct {
	gw     Gateway
	ledger storage.Ledger
	log    logx.Logger
	notice Noticer
	bus    eventbus.Bus
	now    func() time.Time

	mu         sync.Mutex
	calc       Calculator
	needResync bool
	gwLatched  bool
	srcLatched bool
	last       appointment.Snapshot
	hasLast    bool
}

func NewReconciler(gw Gateway, ledger storage.Ledger, calc Calculator, opts ...Option) *Reconciler {
	r := &Reconciler{
		gw:         gw,
		ledger:     ledger,
		calc:       calc,
		needResync: true,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.ledger == nil {
		r.ledger = storage.NewMemory()
	}
	if len(r.calc.Offsets) == 0 {
		r.calc.Offsets = DefaultOffsets()
	}
	return r
}

// Resync forces the next Apply to cancel and reschedule everything.
func (r *Reconciler) Resync() {
	r.mu.Lock()
	r.needResync = true
	r.mu.Unlock()
}

// SetCalculator swaps offsets/timezone and schedules a resync.
func (r *Reconciler) SetCalculator(c Calculator) {
	r.mu.Lock()
	r.calc = c
	r.needResync = true
	r.mu.Unlock()
}

func (r *Reconciler) Calculator() Calculator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calc
}

// Last returns the most recently applied snapshot.
func (r *Reconciler) Last() (appointment.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Ledger returns the persisted identifiers currently handed to the gateway.
func (r *Reconciler) Ledger(ctx context.Context) ([]storage.ScheduledEntry, error) {
	return r.ledger.ListScheduled(ctx)
}

// Apply reconciles the gateway against snap.
func (r *Reconciler) Apply(ctx context.Context, snap appointment.Snapshot) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rep := Report{RunID: uuid.NewString(), At: now, Forced: r.needResync}
	log := r.log.With(logx.String("run", rep.RunID))

	plan := r.calc.Plan(snap.Accepted(), now)
	rep.Planned = len(plan.Triggers)
	rep.Skipped = plan.Skipped
	for _, err := range plan.Skipped {
		log.Warn("appointment skipped", logx.Err(err))
	}

	applied, err := r.ledger.ListScheduled(ctx)
	if err != nil {
		// Without the ledger the diff cannot see what is live; rebuild it.
		log.Warn("ledger read failed; forcing full reschedule", logx.Err(err))
		rep.Failed = append(rep.Failed, fmt.Errorf("read ledger: %w", err))
		applied = nil
		rep.Forced = true
	}

	changes := Diff(plan.Triggers, applied, Labels(r.calc.Offsets), rep.Forced)
	rep.Changed = len(changes)

	var gwFailed []error
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			rep.Failed = append(rep.Failed, err)
			break
		}
		gwFailed = append(gwFailed, r.applyChange(ctx, log, ch, &rep)...)
	}
	rep.Failed = append(rep.Failed, gwFailed...)

	// Any successful gateway round trip ends an outage episode.
	switch {
	case len(gwFailed) > 0:
		if !r.gwLatched {
			r.gwLatched = true
			r.surface(ctx, fmt.Sprintf("Reminders could not be scheduled: %v", gwFailed[0]))
		}
	case rep.Scheduled+rep.Cancelled+rep.Expired > 0:
		r.gwLatched = false
	}

	r.needResync = false
	r.srcLatched = false
	r.last = snap
	r.hasLast = true

	log.Debug("reconcile done",
		logx.Bool("forced", rep.Forced),
		logx.Int("planned", rep.Planned),
		logx.Int("changed", rep.Changed),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("cancelled", rep.Cancelled),
		logx.Int("expired", rep.Expired),
		logx.Int("failed", len(rep.Failed)),
	)
	r.publish(eventbus.ReconcileDone, rep)
	return rep
}

// applyChange cancels then schedules one appointment and returns the
// gateway failures; ledger failures go straight to rep.Failed. A failed
// cancel stops the appointment so a stale and a fresh reminder never coexist.
func (r *Reconciler) applyChange(ctx context.Context, log logx.Logger, ch Change, rep *Report) []error {
	var failed []error
	for _, id := range ch.Cancel {
		if err := r.gw.Cancel(ctx, id); err != nil {
			err = Unavailable(fmt.Errorf("cancel %s: %w", id, err))
			log.Warn("reminder cancel failed", logx.String("id", id), logx.Err(err))
			return append(failed, err)
		}
		if err := r.ledger.DeleteScheduled(ctx, id); err != nil {
			log.Warn("ledger delete failed", logx.String("id", id), logx.Err(err))
			rep.Failed = append(rep.Failed, err)
		}
		rep.Cancelled++
	}
	for _, t := range ch.Schedule {
		err := r.gw.Schedule(ctx, t.ID, t.FireAt, t.Content)
		switch {
		case errors.Is(err, ErrFireTimePassed):
			log.Debug("reminder came due before scheduling; dropped", logx.String("id", t.ID), logx.Time("fire_at", t.FireAt))
			rep.Expired++
			continue
		case err != nil:
			err = Unavailable(fmt.Errorf("schedule %s: %w", t.ID, err))
			log.Warn("reminder schedule failed", logx.String("id", t.ID), logx.Err(err))
			failed = append(failed, err)
			continue
		}
		if err := r.ledger.PutScheduled(ctx, storage.ScheduledEntry{
			ID:            t.ID,
			AppointmentID: t.AppointmentID,
			Label:         t.Label,
			FireAt:        t.FireAt,
			Digest:        t.Content.Digest(),
			UpdatedAt:     rep.At,
		}); err != nil {
			log.Warn("ledger write failed", logx.String("id", t.ID), logx.Err(err))
			rep.Failed = append(rep.Failed, err)
		}
		rep.Scheduled++
		log.Info("reminder scheduled", logx.String("id", t.ID), logx.Time("fire_at", t.FireAt))
	}
	return failed
}

// SourceFailed records an upstream failure. The ledger and the gateway are
// left untouched; one notice is surfaced per outage.
func (r *Reconciler) SourceFailed(ctx context.Context, source string, err error) error {
	if err == nil {
		return nil
	}
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		dse = &DataSourceError{Source: source, Err: err}
	}
	r.log.Warn("appointment source failed; keeping last schedule", logx.String("source", source), logx.Err(dse.Err))
	r.publish(eventbus.SourceFailed, dse)

	r.mu.Lock()
	first := !r.srcLatched
	r.srcLatched = true
	r.mu.Unlock()
	if first {
		r.surface(ctx, "Appointments could not be loaded; existing reminders are kept.")
	}
	return dse
}

// Forget drops a fired reminder from the ledger. The entry is kept when
// it has since been re-armed for a different fire time.
func (r *Reconciler) Forget(ctx context.Context, id string, fireAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.ledger.ListScheduled(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		if !e.FireAt.Equal(fireAt) {
			r.log.Debug("fired reminder was re-armed; ledger entry kept",
				logx.String("id", id), logx.Time("fired", fireAt), logx.Time("fire_at", e.FireAt))
			return nil
		}
		return r.ledger.DeleteScheduled(ctx, id)
	}
	return nil
}

func (r *Reconciler) surface(ctx context.Context, text string) {
	if r.notice != nil {
		r.notice.Notice(ctx, text)
	}
}

func (r *Reconciler) publish(typ string, data any) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
