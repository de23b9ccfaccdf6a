package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pawremind/internal/runtime/supervisor"
	logx "pawremind/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Timezone       string        // IANA TZ, e.g. "Asia/Jakarta"
	DefaultTimeout time.Duration // per-job timeout when none is given; default 30s
}

type Job = func(ctx context.Context) error

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	sup    *supervisor.Supervisor
	defs   []scheduleDef

	// one-shot definitions persist across Stop/Start; timers are runtime only.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64

	hmu     sync.Mutex
	history []HistoryItem

	// job error throttling, keyed by name
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

type HistoryItem struct {
	Name    string
	Started time.Time
	Took    time.Duration
	Err     string
	Skipped bool
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type OnceInfo struct {
	Name  string
	At    time.Time
	Armed bool
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Active    int64
	Schedules []ScheduleInfo
	Once      []OnceInfo
	History   []HistoryItem
}
