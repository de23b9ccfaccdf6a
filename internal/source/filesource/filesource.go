// Package filesource reads appointments from a local JSON or YAML document
// and re-reads it whenever the file changes.
//
// Document shape:
//
//	appointments:
//	  - id: a1
//	    from: owner-1
//	    to: vet-1
//	    date: "2025-06-01"
//	    time: "10:00"
//	    pet: Milo
//	    status: accepted
package filesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"pawremind/internal/appointment"
	"pawremind/internal/runtime/filewatch"
	"pawremind/internal/source"
	logx "pawremind/pkg/logx"
)

type Config struct {
	Path        string
	Participant string
	Role        appointment.Role
	Debounce    time.Duration // default 250ms
}

type document struct {
	Appointments []appointment.Appointment `json:"appointments" yaml:"appointments"`
}

type Source struct {
	cfg Config
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex // serializes reads triggered by the watcher
	tracker source.Tracker
}

func New(cfg Config, log logx.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("source.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{cfg: cfg, log: log, now: time.Now}, nil
}

func (s *Source) Name() string { return "file:" + filepath.Base(s.cfg.Path) }

// Read parses the document once.
func (s *Source) Read() ([]appointment.Appointment, error) {
	b, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	return Parse(s.cfg.Path, b)
}

// Parse decodes a document; the format is chosen by the file extension.
// Unknown fields are rejected in both formats.
func Parse(path string, b []byte) ([]appointment.Appointment, error) {
	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, errors.New("json: trailing data")
		}
	}

	for i := range doc.Appointments {
		if st, err := appointment.ParseStatus(string(doc.Appointments[i].Status)); err == nil {
			doc.Appointments[i].Status = st
		}
	}
	return doc.Appointments, nil
}

func (s *Source) Run(ctx context.Context, out chan<- source.Event) error {
	s.poll(ctx, out)
	return filewatch.Watch(ctx, s.cfg.Path, s.cfg.Debounce, s.log, func() { s.poll(ctx, out) })
}

func (s *Source) poll(ctx context.Context, out chan<- source.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appts, err := s.Read()
	if err != nil {
		s.tracker.Reset()
		s.log.Warn("appointments file unreadable", logx.String("path", s.cfg.Path), logx.Err(err))
		source.Send(ctx, out, source.Event{Source: s.Name(), Err: err})
		return
	}
	if !s.tracker.Changed(appts) {
		s.log.Debug("appointments unchanged", logx.String("path", s.cfg.Path))
		return
	}
	s.log.Debug("appointments loaded", logx.String("path", s.cfg.Path), logx.Int("count", len(appts)))
	source.Send(ctx, out, source.Event{
		Source: s.Name(),
		Snapshot: appointment.Snapshot{
			Participant:  s.cfg.Participant,
			Role:         s.cfg.Role,
			Appointments: appts,
			At:           s.now(),
		},
	})
}
