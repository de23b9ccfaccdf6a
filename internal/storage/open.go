package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	logx "pawremind/pkg/logx"
)

// Ledger is the persisted set of scheduled reminder identifiers.
type Ledger interface {
	PutScheduled(ctx context.Context, e ScheduledEntry) error
	// DeleteScheduled removes id. Deleting an unknown id is not an error.
	DeleteScheduled(ctx context.Context, id string) error
	// ListScheduled returns all entries ordered by ID.
	ListScheduled(ctx context.Context) ([]ScheduledEntry, error)
}

// Store is the persistence API used by the reconciler and the notifier.
type Store interface {
	Ledger
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func sortEntries(out []ScheduledEntry) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}
