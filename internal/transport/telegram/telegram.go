// Package telegram is the Telegram transport: it delivers reminder text and
// turns incoming bot commands into transport.Command values.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "pawremind/internal/runtime/supervisor"
	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// CommandInfo is one entry of the bot command menu.
type CommandInfo struct {
	Name        string
	Description string
}

// Commands is the command surface registered with Telegram.
var Commands = []CommandInfo{
	{Name: "start", Description: "Show this chat's id"},
	{Name: "upcoming", Description: "Accepted appointments in the next days"},
	{Name: "scheduled", Description: "Reminders currently scheduled"},
	{Name: "test", Description: "Send a test reminder in 10 seconds"},
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out atomic.Value // chan<- transport.Command

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// commands dropped because the consumer was slower than the poll loop
	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Command
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	for _, c := range Commands {
		name := c.Name
		a.bot.Handle("/"+name, func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Chat == nil {
				return nil
			}
			cmd := transport.Command{
				Name:     name,
				Args:     strings.TrimSpace(m.Payload),
				ChatID:   m.Chat.ID,
				ThreadID: m.ThreadID,
			}
			if m.Sender != nil {
				cmd.FromID = m.Sender.ID
			}
			a.forward(cmd)
			return nil
		})
	}
}

func (a *Adapter) forward(cmd transport.Command) {
	out, _ := a.out.Load().(chan<- transport.Command)
	if out == nil {
		return
	}
	select {
	case out <- cmd:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and forwards commands to out.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Command) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	if err := a.bot.SetCommands(menu()); err != nil {
		a.log.Warn("menu commands not updated", logx.Err(err))
	}

	sup.Go0("commands.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until Stop; a premature return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming commands dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func menu() []tele.Command {
	out := make([]tele.Command, 0, len(Commands))
	for _, c := range Commands {
		out = append(out, tele.Command{Text: c.Name, Description: c.Description})
	}
	return out
}

// Stop ends polling. Shutdown never waits longer than a short grace window
// for an in-flight getUpdates call.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running = nil, false
	var nilOut chan<- transport.Command
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, time.Until(dl))
	}
	wctx, cancel := context.WithTimeout(ctx, max(grace, 0))
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText splits s into chunks of at most limit runes, preferring a
// newline boundary in the last two thirds of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, len(rs)/limit+1)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
