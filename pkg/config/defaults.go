// Package config loads scmkit settings from YAML, environment variables and
// defaults.
package config

import "time"

// Command defaults.
const (
	DefaultCommandTimeout = 2 * time.Minute
	DefaultMaxFileSize    = "50MB"
	DefaultRBSSHPath      = "rbssh"
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = FormatText
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Telemetry defaults.
const (
	DefaultSampleRatio  = 1.0
	DefaultOTLPInsecure = false
)
