package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "pawremind/pkg/logx"
)

// redisStore keeps the ledger in one hash, dedup marks as expiring string
// keys, and deliveries in a capped list.
type redisStore struct {
	rdb *redis.Client
	log logx.Logger
	ns  string

	maxDeliveries int64
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("storage.url is required for redis driver")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second
	if opts.TLSConfig == nil && strings.HasPrefix(url, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ns := strings.TrimSpace(cfg.Namespace)
	if ns == "" {
		ns = "pawremind"
	}
	log.Info("redis storage connected", logx.String("addr", opts.Addr), logx.String("namespace", ns))
	return &redisStore{rdb: rdb, log: log, ns: ns, maxDeliveries: 10000}, nil
}

func (s *redisStore) key(parts ...string) string {
	return s.ns + ":" + strings.Join(parts, ":")
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) PutScheduled(ctx context.Context, e ScheduledEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key("scheduled"), e.ID, b).Err()
}

func (s *redisStore) DeleteScheduled(ctx context.Context, id string) error {
	return s.rdb.HDel(ctx, s.key("scheduled"), id).Err()
}

func (s *redisStore) ListScheduled(ctx context.Context) ([]ScheduledEntry, error) {
	m, err := s.rdb.HGetAll(ctx, s.key("scheduled")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledEntry, 0, len(m))
	for id, raw := range m {
		var e ScheduledEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.log.Warn("skipping unreadable ledger entry", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.key("dedup", key), until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.rdb.Get(ctx, s.key("dedup", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *redisStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	k := s.key("deliveries")
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, b)
		p.LTrim(ctx, k, -s.maxDeliveries, -1)
		return nil
	})
	return err
}
