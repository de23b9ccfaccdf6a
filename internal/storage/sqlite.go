package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "pawremind/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// scheduledRow keeps times as unix milliseconds so ordering and parsing do
// not depend on the driver's time affinity rules.
type scheduledRow struct {
	ID            string `db:"id"`
	AppointmentID string `db:"appointment_id"`
	Label         string `db:"label"`
	FireAt        int64  `db:"fire_at"`
	Digest        string `db:"digest"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r scheduledRow) entry() ScheduledEntry {
	return ScheduledEntry{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Label:         r.Label,
		FireAt:        time.UnixMilli(r.FireAt),
		Digest:        r.Digest,
		UpdatedAt:     time.UnixMilli(r.UpdatedAt),
	}
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutScheduled(ctx context.Context, e ScheduledEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO scheduled(id, appointment_id, label, fire_at, digest, updated_at)
		 VALUES(:id, :appointment_id, :label, :fire_at, :digest, :updated_at)
		 ON CONFLICT(id) DO UPDATE SET
		   appointment_id=excluded.appointment_id,
		   label=excluded.label,
		   fire_at=excluded.fire_at,
		   digest=excluded.digest,
		   updated_at=excluded.updated_at`,
		scheduledRow{
			ID:            e.ID,
			AppointmentID: e.AppointmentID,
			Label:         e.Label,
			FireAt:        e.FireAt.UnixMilli(),
			Digest:        e.Digest,
			UpdatedAt:     e.UpdatedAt.UnixMilli(),
		},
	)
	return err
}

func (s *sqliteStore) DeleteScheduled(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListScheduled(ctx context.Context) ([]ScheduledEntry, error) {
	var rows []scheduledRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, appointment_id, label, fire_at, digest, updated_at FROM scheduled ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]ScheduledEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms []int64
	if err := s.db.SelectContext(ctx, &ms, `SELECT until FROM dedup WHERE key = ?`, key); err != nil {
		return time.Time{}, false, err
	}
	if len(ms) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms[0]), true, nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, key, channel, chat_id, title, at, attempts)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Key, r.Channel, r.ChatID, r.Title, r.At.UnixMilli(), r.Attempts,
	)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}
