package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pawremind/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl     (append-only JSON Lines)
//   - <prefix>.state.snapshot.json  (periodic snapshot of ledger + dedup)
//   - <prefix>.state.journal.jsonl  (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveries   *os.File
	snapshotPath string
	journal      *os.File

	scheduled map[string]ScheduledEntry
	dedup     map[string]int64 // unix milli

	writes       int
	compactEvery int
}

type fileSnapshot struct {
	Scheduled map[string]ScheduledEntry `json:"scheduled"`
	Dedup     map[string]int64          `json:"dedup"`
}

type journalOp string

const (
	opPut   journalOp = "put"
	opDel   journalOp = "del"
	opDedup journalOp = "dedup"
)

type journalRecord struct {
	Op    journalOp       `json:"op"`
	Entry *ScheduledEntry `json:"entry,omitempty"`
	Key   string          `json:"key,omitempty"`
	Until int64           `json:"until,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".state.snapshot.json",
		scheduled:    map[string]ScheduledEntry{},
		dedup:        map[string]int64{},
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting from journal only", logx.Err(err))
	}
	journalPath := prefix + ".state.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal replay stopped early", logx.Err(err))
	}
	pruneExpiredDedup(s.dedup, time.Now())

	df, err := os.OpenFile(prefix+".deliveries.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}
	s.deliveries = df
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err1 := s.journal.Close()
	err2 := s.deliveries.Close()
	s.journal, s.deliveries = nil, nil
	return errors.Join(cerr, err1, err2)
}

func (s *fileStore) PutScheduled(_ context.Context, e ScheduledEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPut, Entry: &e}); err != nil {
		return err
	}
	s.scheduled[e.ID] = e
	return nil
}

func (s *fileStore) DeleteScheduled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opDel, Key: id}); err != nil {
		return err
	}
	delete(s.scheduled, id)
	return nil
}

func (s *fileStore) ListScheduled(_ context.Context) ([]ScheduledEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]ScheduledEntry, 0, len(s.scheduled))
	for _, e := range s.scheduled {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDedup, Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedup[key] = ms
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) AppendDelivery(_ context.Context, r DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.deliveries).Encode(r)
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes the in-memory state to the snapshot atomically and
// truncates the journal.
func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(fileSnapshot{Scheduled: s.scheduled, Dedup: s.dedup}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Scheduled {
		s.scheduled[k] = v
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		switch r.Op {
		case opPut:
			if r.Entry != nil && r.Entry.ID != "" {
				s.scheduled[r.Entry.ID] = *r.Entry
			}
		case opDel:
			delete(s.scheduled, r.Key)
		case opDedup:
			if r.Key != "" {
				s.dedup[r.Key] = r.Until
			}
		}
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}
