package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	logx "pawremind/pkg/logx"
)

const (
	defaultJobTimeout = 30 * time.Second
	errWarnThrottle   = 5 * time.Second
)

// dispatch runs job on the supervisor. guard, when set, skips the run if the
// previous one is still active. It reports false when the service is stopped.
func (s *Service) dispatch(name string, timeout time.Duration, job Job, guard *atomic.Bool) bool {
	s.mu.Lock()
	sup := s.sup
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.mu.Unlock()
	if sup == nil {
		return false
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	if guard != nil && !guard.CompareAndSwap(false, true) {
		s.log.Debug("schedule trigger skipped; previous run still active", logx.String("schedule", name))
		s.record(HistoryItem{Name: name, Started: time.Now(), Skipped: true})
		return true
	}

	sup.Go0("job:"+name, func(ctx context.Context) {
		if guard != nil {
			defer guard.Store(false)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := job(ctx)
		it := HistoryItem{Name: name, Started: start, Took: time.Since(start)}
		if err != nil {
			it.Err = err.Error()
			s.reportJobError(name, err)
		}
		s.record(it)
	})
	return true
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Service) reportJobError(name string, err error) {
	if errors.Is(err, context.Canceled) {
		s.log.Debug("job cancelled", logx.String("schedule", name))
		return
	}

	now := time.Now()
	s.errMu.Lock()
	last := s.lastErrWarn[name]
	if !last.IsZero() && now.Sub(last) < errWarnThrottle {
		s.errMu.Unlock()
		return
	}
	s.lastErrWarn[name] = now
	s.errMu.Unlock()

	s.log.Warn("scheduled job failed", logx.String("schedule", name), logx.Err(err))
}
