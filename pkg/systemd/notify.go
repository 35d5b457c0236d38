// Package systemd reports service state to systemd through sd_notify.
// Outside a systemd unit (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	notify   func(unsetEnvironment bool, state string) (bool, error)
	watchdog func(unsetEnvironment bool) (time.Duration, error)
}

func New() *Notifier {
	return &Notifier{notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

// Ready reports READY=1. sent is false when not running under systemd.
func (n *Notifier) Ready() (sent bool, err error) { return n.notify(false, daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.notify(false, daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() (bool, error) { return n.notify(false, daemon.SdNotifyReloading) }

func (n *Notifier) Status(msg string) (bool, error) { return n.notify(false, "STATUS="+msg) }

// RunWatchdog pings the watchdog at half the unit's WatchdogSec until ctx is done.
// It returns immediately when the watchdog is not enabled.
func (n *Notifier) RunWatchdog(ctx context.Context) error {
	interval, err := n.watchdog(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
