package rbssh

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

// DebugLogPath returns where the DEBUG_RBSSH trace for this process goes.
func DebugLogPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("rbssh-%d.log", os.Getpid()))
}

// OpenDebugLog returns a logger for the DEBUG_RBSSH trace and a function
// that closes its file. When DEBUG_RBSSH is unset the logger discards
// everything.
func OpenDebugLog() (*slog.Logger, func() error, error) {
	if os.Getenv(sshutil.EnvDebug) == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() error { return nil }, nil
	}

	f, err := os.OpenFile(DebugLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open debug log: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("pid", os.Getpid())

	return logger, f.Close, nil
}
