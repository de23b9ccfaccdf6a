// Package app wires pawremind together: config, logging, storage, the
// appointment source, the reconciler and its gateway, delivery and the chat
// transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pawremind/internal/config"
	"pawremind/internal/eventbus"
	"pawremind/internal/gateway"
	"pawremind/internal/notifier"
	"pawremind/internal/reminder"
	rtsup "pawremind/internal/runtime/supervisor"
	"pawremind/internal/source"
	"pawremind/internal/source/filesource"
	"pawremind/internal/source/pgsource"
	"pawremind/internal/storage"
	"pawremind/internal/task/scheduler"
	"pawremind/internal/transport"
	"pawremind/internal/transport/console"
	"pawremind/internal/transport/telegram"
	logx "pawremind/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// adapter is nil when running with the console transport.
	adapter transport.Adapter
	sender  transport.Sender

	sched *scheduler.Service
	notif *notifier.Service
	gw    *gateway.Gateway
	rec   *reminder.Reconciler
	src   source.Source

	mu  sync.RWMutex
	set settings

	commands chan transport.Command
	events   chan source.Event
	kick     chan struct{}
	now      func() time.Time
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	set, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}

	var (
		adapter transport.Adapter
		sender  transport.Sender
	)
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
		if err != nil {
			return nil, err
		}
		adapter, sender = ad, ad
	}

	// logx.New applies immediately; alerts are enabled only after the
	// target is set so the first Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alert.Enabled = false
	logSvc, log := logx.New(bootCfg, sender)
	logSvc.SetAlertTarget(alertTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	if sender == nil {
		sender = console.New(log.With(logx.String("comp", "console")))
		log.Info("telegram token not set; using console transport")
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  adapter,
		sender:   sender,
		sched:    scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler"))),
		notif:    notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus, store),
		set:      set,
		commands: make(chan transport.Command, 64),
		events:   make(chan source.Event, 16),
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
	a.gw = gateway.New(set.gatewayConfig(), a.sched, a.notif, bus,
		log.With(logx.String("comp", "gateway")),
		gateway.WithOnFired(a.onFired),
	)

	var ledger storage.Ledger
	if store != nil {
		ledger = store
	}
	a.rec = reminder.NewReconciler(a.gw, ledger, set.calc,
		reminder.WithLogger(log.With(logx.String("comp", "reconciler"))),
		reminder.WithNoticer(reminder.NoticerFunc(a.notice)),
		reminder.WithBus(bus),
	)

	a.src, err = newSource(ctx, cfg, set, a.sched, log.With(logx.String("comp", "source")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return a, nil
}

func newSource(ctx context.Context, cfg *config.Config, set settings, sched *scheduler.Service, log logx.Logger) (source.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source.Driver)) {
	case "file":
		debounce, err := config.ParseDurationField("source.debounce", cfg.Source.Debounce)
		if err != nil {
			return nil, err
		}
		return filesource.New(filesource.Config{
			Path:        cfg.Source.Path,
			Participant: set.participant,
			Role:        set.role,
			Debounce:    debounce,
		}, log)
	case "postgres", "postgresql":
		return pgsource.New(ctx, pgsource.Config{
			DSN:         cfg.Source.DSN,
			Table:       cfg.Source.Table,
			Poll:        cfg.Source.Poll,
			Participant: set.participant,
			Role:        set.role,
		}, sched, log)
	default:
		return nil, fmt.Errorf("unknown source.driver: %s", cfg.Source.Driver)
	}
}

func (a *App) settings() settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.set
}

// Logger returns the root logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSettings(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if a.sched.Enabled() {
		a.sched.Start(run)
	}
	a.notif.Start(run)
	_ = a.gw.Open(run)
	a.applyDaily(a.settings())

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.commands); err != nil {
			return err
		}
	}

	a.sup.GoRestart("source", func(c context.Context) error {
		return a.src.Run(c, a.events)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))
	a.sup.Go0("snapshots", a.snapshotLoop)
	a.sup.Go0("commands.dispatch", a.commandLoop)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latestConfig(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("source", a.src.Name()))
	return nil
}

// latestConfig drains ch and keeps only the newest config.
func latestConfig(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-ch:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
