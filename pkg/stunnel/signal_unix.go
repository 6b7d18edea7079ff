//go:build unix

package stunnel

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// terminate sends SIGTERM and escalates to SIGKILL once timeout passes.
func terminate(pid int, timeout time.Duration) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}

		return fmt.Errorf("sigterm %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return nil
		}

		time.Sleep(pollInterval)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("sigkill %d: %w", pid, err)
	}

	return nil
}

func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
