// Package systemd reports service state to the systemd manager over the
// sd_notify socket. Every call is a no-op when the process is not run as a
// notify-type unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "pawremind/pkg/logx"
)

// Ready tells systemd that startup finished.
func Ready(log logx.Logger) {
	notify(log, daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func Stopping(log logx.Logger) {
	notify(log, daemon.SdNotifyStopping)
}

// Status sets the free-form unit status shown by systemctl status.
func Status(log logx.Logger, text string) {
	notify(log, "STATUS="+text)
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. alive is consulted before every ping; a false result skips
// the ping so a wedged process gets restarted.
func Watchdog(ctx context.Context, log logx.Logger, alive func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog lookup failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	if every < time.Second {
		every = time.Second
	}
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if alive != nil && !alive() {
				log.Warn("skipping watchdog ping; process unhealthy")
				continue
			}
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}

func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
