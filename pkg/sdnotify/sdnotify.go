// Package sdnotify reports service state to systemd (Type=notify units).
//
// Every call is a no-op when the process is not started by systemd.
package sdnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value is disabled.
type Notifier struct {
	enabled bool
	notify  func(state string) (bool, error)
	// watchdog returns the WATCHDOG_USEC interval, 0 when the watchdog is off.
	watchdog func() (time.Duration, error)
}

func New(enabled bool) *Notifier {
	return &Notifier{
		enabled:  enabled,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) (bool, error) {
	if n == nil || !n.enabled || n.notify == nil {
		return false, nil
	}
	ok, err := n.notify(state)
	if err != nil {
		return false, fmt.Errorf("sd_notify %q: %w", state, err)
	}
	return ok, nil
}

// Ready reports READY=1. sent is false outside systemd.
func (n *Notifier) Ready() (sent bool, err error) { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() (bool, error) { return n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// Watchdog pings systemd at half the configured interval until ctx is done.
// It returns immediately when the watchdog is not enabled for the unit.
func (n *Notifier) Watchdog(ctx context.Context) error {
	if n == nil || !n.enabled || n.watchdog == nil {
		return nil
	}
	interval, err := n.watchdog()
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
