package appointment

import (
	"errors"
	"testing"
	"time"
)

func TestInstant(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("WIB", 7*3600)
	tests := []struct {
		name    string
		date    string
		clock   string
		want    time.Time
		wantErr error
	}{
		{name: "valid", date: "2025-06-01", clock: "10:00", want: time.Date(2025, 6, 1, 10, 0, 0, 0, loc)},
		{name: "trimmed", date: " 2025-06-01 ", clock: " 09:05", want: time.Date(2025, 6, 1, 9, 5, 0, 0, loc)},
		{name: "missing date", date: "", clock: "10:00", wantErr: ErrInvalidDate},
		{name: "missing time", date: "2025-06-01", clock: "", wantErr: ErrInvalidTime},
		{name: "bad hour", date: "2025-06-01", clock: "25:99", wantErr: ErrInvalidTime},
		{name: "single digit hour", date: "2025-06-01", clock: "9:00", wantErr: ErrInvalidTime},
		{name: "impossible day", date: "2025-02-30", clock: "10:00", wantErr: ErrInvalidDate},
		{name: "wrong layout", date: "01/06/2025", clock: "10:00", wantErr: ErrInvalidDate},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Appointment{ID: "a", Date: tt.date, Time: tt.clock}.Instant(loc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Instant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusDeleted, true},
		{StatusAccepted, StatusRejected, true},
		{StatusAccepted, StatusDeleted, true},
		{StatusAccepted, StatusPending, false},
		{StatusRejected, StatusAccepted, false},
		{StatusDeleted, StatusAccepted, false},
		{StatusAccepted, StatusAccepted, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatusAndRole(t *testing.T) {
	t.Parallel()

	if st, err := ParseStatus(" Accepted "); err != nil || st != StatusAccepted {
		t.Fatalf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("cancelled"); err == nil {
		t.Fatal("ParseStatus(cancelled) should fail")
	}
	if r, err := ParseRole("doctor"); err != nil || r != RoleVet {
		t.Fatalf("ParseRole(doctor) = %q, %v", r, err)
	}
	if r, err := ParseRole(""); err != nil || r != RoleOwner {
		t.Fatalf("ParseRole(\"\") = %q, %v", r, err)
	}
	if _, err := ParseRole("vendor"); err == nil {
		t.Fatal("ParseRole(vendor) should fail")
	}
}

func TestSnapshotAccepted(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Participant: "owner-1",
		Role:        RoleOwner,
		Appointments: []Appointment{
			{ID: "a", From: "owner-1", To: "vet-1", Status: StatusAccepted},
			{ID: "b", From: "owner-1", To: "vet-1", Status: StatusPending},
			{ID: "c", From: "owner-2", To: "vet-1", Status: StatusAccepted},
			{ID: "d", From: "owner-1", To: "vet-2", Status: StatusAccepted},
		},
	}
	got := snap.Accepted()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("Accepted() = %+v, want a,d", got)
	}

	snap.Role = RoleVet
	snap.Participant = "vet-1"
	got = snap.Accepted()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("vet Accepted() = %+v, want a,c", got)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC)
	appts := []Appointment{
		{ID: "later", Date: "2025-06-03", Time: "08:00"},
		{ID: "past", Date: "2025-05-30", Time: "08:00"},
		{ID: "soon", Date: "2025-06-01", Time: "10:00"},
		{ID: "far", Date: "2025-06-20", Time: "10:00"},
		{ID: "broken", Date: "2025-06-01", Time: "nope"},
		{ID: "edge", Date: "2025-06-07", Time: "09:00"},
	}
	got := Upcoming(appts, now, 7*24*time.Hour, time.UTC)
	want := []string{"soon", "later", "edge"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}
