//go:build unix

package daemon

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// notifyForeground delivers SIGUSR1 as a foreground trigger.
func notifyForeground() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	return ch, func() { signal.Stop(ch) }
}

// SendForeground asks the daemon with the given pid to pull now.
func SendForeground(pid int) error {
	return unix.Kill(pid, unix.SIGUSR1)
}
