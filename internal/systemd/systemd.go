// Package systemd wraps sd_notify, the watchdog and socket activation.
// Every call is a silent no-op when the agent is not run by systemd.
package systemd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// APISocketName is the FileDescriptorName= of the status API socket in childmon.socket.
const APISocketName = "api"

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// WatchdogInterval returns the configured watchdog timeout, or 0 when the
// watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return interval
}

// IsSystemdService returns true if running as a systemd notify service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}

// Supervised reports whether systemd restarts the agent when it stops
// responding. This is what keeps the agent alive on a child device, the
// desktop counterpart of a battery-optimization exemption.
func Supervised() bool {
	return IsSystemdService() && WatchdogInterval() > 0
}

// APIListener returns the socket-activated status API listener, or nil when
// the agent was not socket activated.
func APIListener() (net.Listener, error) {
	listeners, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if lns, ok := listeners[APISocketName]; ok && len(lns) > 0 {
		return lns[0], nil
	}
	return nil, nil
}
