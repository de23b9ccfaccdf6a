package reminder_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/gateway/gatewaytest"
	"pawremind/internal/reminder"
	"pawremind/internal/storage"
)

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) Notice(_ context.Context, text string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, text)
	n.mu.Unlock()
}

func (n *notices) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fixture struct {
	gw     *gatewaytest.Recorder
	ledger *storage.Memory
	notes  *notices
	rec    *reminder.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calc, err := reminder.NewCalculator(nil, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{gw: gatewaytest.New(), ledger: storage.NewMemory(), notes: &notices{}}
	now := time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC)
	f.rec = reminder.NewReconciler(f.gw, f.ledger, calc,
		reminder.WithNoticer(f.notes),
		reminder.WithClock(func() time.Time { return now }),
	)
	return f
}

func snapshot(appts ...appointment.Appointment) appointment.Snapshot {
	return appointment.Snapshot{Participant: "owner-1", Role: appointment.RoleOwner, Appointments: appts}
}

func accepted(id, date, clock string) appointment.Appointment {
	return appointment.Appointment{
		ID: id, From: "owner-1", To: "vet-1", Date: date, Time: clock,
		Pet: "Milo", Status: appointment.StatusAccepted,
	}
}

func ops(calls []gatewaytest.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Op+" "+c.ID)
	}
	return out
}

func ledgerIDs(t *testing.T, l storage.Ledger) []string {
	t.Helper()
	es, err := l.ListScheduled(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := []string{}
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestReconcilerFirstApplyCancelsThenSchedules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	rep := f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	if !rep.Forced || rep.Scheduled != 2 || rep.Err() != nil {
		t.Fatalf("report = %+v", rep)
	}
	want := []string{"cancel a-24hours", "cancel a-5min", "schedule a-24hours", "schedule a-5min"}
	if got := ops(f.gw.Calls()); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"a-24hours", "a-5min"}) {
		t.Fatalf("ledger = %v", got)
	}
	if at, ok := f.gw.FireAt("a-5min"); !ok || !at.Equal(time.Date(2025, 6, 1, 9, 55, 0, 0, time.UTC)) {
		t.Fatalf("a-5min fires at %v (%v)", at, ok)
	}
}

func TestReconcilerIdenticalSnapshotIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	snap := snapshot(accepted("a", "2025-06-01", "10:00"))
	f.rec.Apply(ctx, snap)
	f.gw.Calls()

	rep := f.rec.Apply(ctx, snap)
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Fatalf("repeat snapshot issued calls: %v", ops(calls))
	}
	if rep.Forced || rep.Changed != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestReconcilerCancelsWhenLeavingAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := accepted("a", "2025-06-01", "10:00")
	b := accepted("b", "2025-06-02", "10:00")
	f.rec.Apply(ctx, snapshot(a, b))
	f.gw.Calls()

	a.Status = appointment.StatusRejected
	f.rec.Apply(ctx, snapshot(a, b))
	want := []string{"cancel a-24hours", "cancel a-5min"}
	if got := ops(f.gw.Calls()); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if got := f.gw.Pending(); !reflect.DeepEqual(got, []string{"b-24hours", "b-5min"}) {
		t.Fatalf("pending = %v", got)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"b-24hours", "b-5min"}) {
		t.Fatalf("ledger = %v", got)
	}

	// Dropping out of the snapshot entirely behaves the same.
	f.rec.Apply(ctx, snapshot())
	if got := ledgerIDs(t, f.ledger); len(got) != 0 {
		t.Fatalf("ledger = %v, want empty", got)
	}
}

func TestReconcilerRescheduleOnChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	f.gw.Calls()

	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "11:30")))
	want := []string{"cancel a-24hours", "cancel a-5min", "schedule a-24hours", "schedule a-5min"}
	if got := ops(f.gw.Calls()); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if at, _ := f.gw.FireAt("a-5min"); !at.Equal(time.Date(2025, 6, 1, 11, 25, 0, 0, time.UTC)) {
		t.Fatalf("a-5min fires at %v", at)
	}
}

func TestReconcilerResync(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	snap := snapshot(accepted("a", "2025-06-01", "10:00"))
	f.rec.Apply(ctx, snap)
	f.gw.Calls()

	f.rec.Resync()
	rep := f.rec.Apply(ctx, snap)
	if !rep.Forced {
		t.Fatal("expected forced run after Resync")
	}
	want := []string{"cancel a-24hours", "cancel a-5min", "schedule a-24hours", "schedule a-5min"}
	if got := ops(f.gw.Calls()); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestReconcilerSetCalculatorResyncsWithNewOffsets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	snap := snapshot(accepted("a", "2025-06-01", "10:00"))
	f.rec.Apply(ctx, snap)
	f.gw.Calls()

	calc, err := reminder.NewCalculator([]reminder.Offset{{Label: "1hour", Before: time.Hour}}, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	f.rec.SetCalculator(calc)
	f.rec.Apply(ctx, snap)
	if got := f.gw.Pending(); !reflect.DeepEqual(got, []string{"a-1hour"}) {
		t.Fatalf("pending = %v", got)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"a-1hour"}) {
		t.Fatalf("ledger = %v", got)
	}
}

func TestReconcilerGatewayFailureNoticesOncePerEpisode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	snap := snapshot(accepted("a", "2025-06-01", "10:00"))

	f.gw.SetErrors(errors.New("permission denied"), nil)
	rep := f.rec.Apply(ctx, snap)
	if !errors.Is(rep.Err(), reminder.ErrSchedulingUnavailable) {
		t.Fatalf("err = %v, want ErrSchedulingUnavailable", rep.Err())
	}
	f.rec.Apply(ctx, snap)
	if n := f.notes.count(); n != 1 {
		t.Fatalf("notices = %d, want 1", n)
	}

	f.gw.SetErrors(nil, nil)
	if rep := f.rec.Apply(ctx, snap); rep.Err() != nil || rep.Scheduled != 2 {
		t.Fatalf("recovery report = %+v", rep)
	}

	f.gw.SetErrors(errors.New("quota"), nil)
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "12:00")))
	if n := f.notes.count(); n != 2 {
		t.Fatalf("notices = %d, want 2 after a new episode", n)
	}
}

func TestReconcilerDropsTriggerThatCameDueWhileScheduling(t *testing.T) {
	t.Parallel()

	calc, err := reminder.NewCalculator(nil, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	planned := time.Date(2025, 6, 1, 9, 54, 59, 900_000_000, time.UTC)
	gw := gatewaytest.New()
	gw.Clock = func() time.Time { return planned.Add(200 * time.Millisecond) }
	ledger := storage.NewMemory()
	notes := &notices{}
	rec := reminder.NewReconciler(gw, ledger, calc,
		reminder.WithNoticer(notes),
		reminder.WithClock(func() time.Time { return planned }),
	)

	rep := rec.Apply(context.Background(), snapshot(accepted("a1", "2025-06-01", "10:00")))
	if rep.Err() != nil {
		t.Fatalf("err = %v, want none", rep.Err())
	}
	if rep.Planned != 1 || rep.Expired != 1 || rep.Scheduled != 0 {
		t.Fatalf("report planned=%d expired=%d scheduled=%d", rep.Planned, rep.Expired, rep.Scheduled)
	}
	if n := notes.count(); n != 0 {
		t.Fatalf("notices = %d, want 0", n)
	}
	if got := ledgerIDs(t, ledger); len(got) != 0 {
		t.Fatalf("ledger = %v, want empty", got)
	}
}

func TestReconcilerCancelOnlyRunEndsOutage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	b := accepted("b", "2025-06-02", "09:00")
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00"), b))

	// Outage while rescheduling a moved appointment.
	f.gw.SetErrors(errors.New("permission denied"), nil)
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "11:00"), b))
	if n := f.notes.count(); n != 1 {
		t.Fatalf("notices = %d, want 1", n)
	}

	// The gateway recovers; both appointments are withdrawn and only b is
	// still in the ledger, so the run only cancels.
	f.gw.SetErrors(nil, nil)
	if rep := f.rec.Apply(ctx, snapshot()); rep.Err() != nil || rep.Cancelled == 0 || rep.Scheduled != 0 {
		t.Fatalf("cancel-only report = %+v", rep)
	}

	f.gw.SetErrors(errors.New("quota"), nil)
	f.rec.Apply(ctx, snapshot(accepted("c", "2025-06-03", "10:00")))
	if n := f.notes.count(); n != 2 {
		t.Fatalf("notices = %d, want 2 for the second outage", n)
	}
}

func TestReconcilerFailedCancelKeepsLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	f.gw.Calls()

	f.gw.SetErrors(nil, errors.New("denied"))
	f.rec.Apply(ctx, snapshot())
	calls := f.gw.Calls()
	if len(calls) != 1 || calls[0].Op != "cancel" {
		t.Fatalf("calls = %v, want a single failed cancel", ops(calls))
	}
	if got := ledgerIDs(t, f.ledger); len(got) != 2 {
		t.Fatalf("ledger = %v, want both entries kept", got)
	}
}

func TestReconcilerSourceFailureKeepsLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	f.gw.Calls()

	err := f.rec.SourceFailed(ctx, "file", errors.New("permission denied"))
	if !errors.Is(err, reminder.ErrDataSource) {
		t.Fatalf("err = %v, want ErrDataSource", err)
	}
	_ = f.rec.SourceFailed(ctx, "file", errors.New("still down"))
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Fatalf("source failure touched the gateway: %v", ops(calls))
	}
	if got := ledgerIDs(t, f.ledger); len(got) != 2 {
		t.Fatalf("ledger = %v", got)
	}
	if n := f.notes.count(); n != 1 {
		t.Fatalf("notices = %d, want 1", n)
	}

	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	_ = f.rec.SourceFailed(ctx, "file", errors.New("down again"))
	if n := f.notes.count(); n != 2 {
		t.Fatalf("notices = %d, want 2", n)
	}
}

func TestReconcilerSkipsInvalidAppointments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rep := f.rec.Apply(context.Background(), snapshot(
		accepted("bad", "2025-06-01", "25:99"),
		accepted("good", "2025-06-01", "10:00"),
	))
	if len(rep.Skipped) != 1 || !errors.Is(rep.Skipped[0], reminder.ErrInvalidScheduleInput) {
		t.Fatalf("Skipped = %v", rep.Skipped)
	}
	if got := f.gw.Pending(); !reflect.DeepEqual(got, []string{"good-24hours", "good-5min"}) {
		t.Fatalf("pending = %v", got)
	}
}

func TestReconcilerForgetAndLast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, ok := f.rec.Last(); ok {
		t.Fatal("Last before Apply should be empty")
	}
	snap := snapshot(accepted("a", "2025-06-01", "10:00"))
	f.rec.Apply(ctx, snap)
	if last, ok := f.rec.Last(); !ok || len(last.Appointments) != 1 {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
	if err := f.rec.Forget(ctx, "a-24hours", time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"a-5min"}) {
		t.Fatalf("ledger = %v", got)
	}
	if err := f.rec.Forget(ctx, "never-scheduled", time.Time{}); err != nil {
		t.Fatalf("Forget(unknown) = %v", err)
	}
}

func TestReconcilerForgetKeepsRearmedEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "10:00")))
	oldAt := time.Date(2025, 6, 1, 9, 55, 0, 0, time.UTC)

	// Moved to 11:00 before the 09:55 timer's hand-off completed.
	f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "11:00")))
	newAt := time.Date(2025, 6, 1, 10, 55, 0, 0, time.UTC)
	if at, _ := f.gw.FireAt("a-5min"); !at.Equal(newAt) {
		t.Fatalf("a-5min armed at %v, want %v", at, newAt)
	}

	if err := f.rec.Forget(ctx, "a-5min", oldAt); err != nil {
		t.Fatal(err)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"a-24hours", "a-5min"}) {
		t.Fatalf("ledger after stale Forget = %v", got)
	}

	// The next run must not re-schedule an entry it still tracks.
	rep := f.rec.Apply(ctx, snapshot(accepted("a", "2025-06-01", "11:00")))
	if rep.Changed != 0 || rep.Scheduled != 0 {
		t.Fatalf("report = %+v, want no changes", rep)
	}

	if err := f.rec.Forget(ctx, "a-5min", newAt); err != nil {
		t.Fatal(err)
	}
	if got := ledgerIDs(t, f.ledger); !reflect.DeepEqual(got, []string{"a-24hours"}) {
		t.Fatalf("ledger after matching Forget = %v", got)
	}
}

func TestRecorderCancelUnknownIsNoop(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New()
	if err := gw.Cancel(context.Background(), "never-scheduled"); err != nil {
		t.Fatalf("Cancel(unknown) = %v, want nil", err)
	}
}
