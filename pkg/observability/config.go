// Package observability provides OpenTelemetry tracing and metrics and
// structured logging for the scmkit binaries.
package observability

import "log/slog"

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is a one-shot scmkit command.
	ModeCLI AppMode = "cli"
	// ModeTunnel is the long-running stunnel proxy command.
	ModeTunnel AppMode = "tunnel"
	// ModeRBSSH is the rbssh SSH client.
	ModeRBSSH AppMode = "rbssh"
)

const (
	defaultServiceName        = "scmkit"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables
	// export.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// Prometheus attaches a Prometheus reader to the meter provider and
	// exposes it as Providers.MetricsHandler.
	Prometheus bool

	// DebugTrace forces 100% sampling and logs attributes dropped by the
	// attribute filter.
	DebugTrace bool
	// SampleRatio is the root sampling ratio when DebugTrace is off. Zero
	// samples everything.
	SampleRatio float64

	LogLevel slog.Level
	LogJSON  bool

	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
