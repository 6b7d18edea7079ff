//go:build !unix

package stunnel

import (
	"os"
	"time"
)

func terminate(pid int, _ time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil //nolint:nilerr // already gone.
	}

	return proc.Kill()
}
