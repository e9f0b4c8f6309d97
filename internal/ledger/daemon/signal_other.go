//go:build !unix

package daemon

import (
	"fmt"
	"os"
)

func notifyForeground() (<-chan os.Signal, func()) {
	return nil, func() {}
}

// SendForeground is not supported on this platform.
func SendForeground(pid int) error {
	return fmt.Errorf("foreground signal not supported on this platform")
}
