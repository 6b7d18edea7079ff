// Package backends holds what every backend client shares: the subprocess
// executor, SSH wiring, tool locations and the logger.
package backends

import (
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
	"github.com/Sumatoshi-tech/scmkit/pkg/stunnel"
)

// Env is passed to every backend constructor.
type Env struct {
	Runner runner.Executor
	Logger *slog.Logger

	// DataDir holds per-repository state such as Perforce ticket files.
	DataDir string

	// SSH dials hosts for connectivity checks of SSH-tunneled repositories.
	SSH *sshutil.Dialer
	// RBSSH is how backend tools are pointed at rbssh.
	RBSSH sshutil.RBSSH

	// Tools overrides executable names per backend.
	Tools map[scm.BackendID]string

	// Stunnel configures proxies for stunnel: Perforce ports.
	Stunnel stunnel.Options

	// CommandTimeout bounds each backend command.
	CommandTimeout time.Duration
}

// WithDefaults fills unset fields.
func (e Env) WithDefaults() Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}

	if e.Runner == nil {
		e.Runner = runner.New(runner.WithTimeout(e.CommandTimeout), runner.WithLogger(e.Logger))
	}

	if e.Stunnel.Runner == nil {
		e.Stunnel.Runner = e.Runner
	}

	if e.Stunnel.Logger == nil {
		e.Stunnel.Logger = e.Logger
	}

	return e
}

// Tool returns the executable configured for id, or def.
func (e Env) Tool(id scm.BackendID, def string) string {
	if name := e.Tools[id]; name != "" {
		return name
	}

	return def
}
