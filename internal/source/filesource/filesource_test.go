package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pawremind/internal/appointment"
	"pawremind/internal/source"
	logx "pawremind/pkg/logx"
)

const yamlDoc = `appointments:
  - id: a1
    from: owner-1
    to: vet-1
    date: "2025-06-01"
    time: "10:00"
    pet: Milo
    status: Accepted
  - id: a2
    from: owner-1
    to: vet-2
    date: "2025-06-02"
    time: "11:30"
    pet: Luna
    status: pending
`

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "yaml", path: "a.yaml", body: yamlDoc, want: 2},
		{name: "json", path: "a.json", body: `{"appointments":[{"id":"a1","date":"2025-06-01","time":"10:00","status":"accepted"}]}`, want: 1},
		{name: "empty yaml", path: "a.yml", body: "", want: 0},
		{name: "unknown yaml field", path: "a.yaml", body: "appointments:\n  - id: a1\n    colour: red\n", wantErr: true},
		{name: "unknown json field", path: "a.json", body: `{"appts":[]}`, wantErr: true},
		{name: "trailing json", path: "a.json", body: `{"appointments":[]} {}`, wantErr: true},
		{name: "broken yaml", path: "a.yaml", body: "appointments: [", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.path, []byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() err = %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseNormalizesStatus(t *testing.T) {
	t.Parallel()

	got, err := Parse("a.yaml", []byte(yamlDoc))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Status != appointment.StatusAccepted || got[0].Pet != "Milo" {
		t.Fatalf("got %+v", got[0])
	}
}

func TestRunEmitsOnChangeOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "appointments.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := New(Config{Path: path, Participant: "owner-1", Role: appointment.RoleOwner, Debounce: 50 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan source.Event, 8)
	go func() { _ = src.Run(ctx, out) }()

	ev := recv(t, out)
	if ev.Err != nil || len(ev.Snapshot.Appointments) != 2 || ev.Snapshot.Participant != "owner-1" {
		t.Fatalf("first event = %+v", ev)
	}

	time.Sleep(150 * time.Millisecond)
	// Same content: suppressed.
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-out:
		t.Fatalf("unexpected event for unchanged content: %+v", ev)
	case <-time.After(400 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("appointments: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if ev := recv(t, out); ev.Err == nil {
		t.Fatalf("expected parse error event, got %+v", ev)
	}

	// Recovery with the original content is announced again.
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	if ev := recv(t, out); ev.Err != nil || len(ev.Snapshot.Appointments) != 2 {
		t.Fatalf("recovery event = %+v", ev)
	}
}

func TestRunMissingFileReportsError(t *testing.T) {
	t.Parallel()

	src, err := New(Config{Path: filepath.Join(t.TempDir(), "missing.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan source.Event, 1)
	go func() { _ = src.Run(ctx, out) }()
	if ev := recv(t, out); ev.Err == nil || ev.Source != "file:missing.json" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("New without path should fail")
	}
}

func recv(t *testing.T, out <-chan source.Event) source.Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
		return source.Event{}
	}
}
