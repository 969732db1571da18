package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hostpulse/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func sdWatchdogInterval() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) }

func (a *App) notifySystemd(state string) {
	if err := a.notify(state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// startWatchdog pings the systemd watchdog at half its interval while the app runs.
func (a *App) startWatchdog() {
	interval, err := a.watchdog()
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.notifySystemd(sdWatchdog)
			}
		}
	})
}
