// Package stunnel manages local stunnel processes that bridge plaintext
// clients to TLS services and back.
package stunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
)

// Mode is the direction of the bridge.
type Mode string

const (
	// ModeClient accepts plaintext on a local port and connects to a remote
	// TLS endpoint.
	ModeClient Mode = "client"
	// ModeServer accepts TLS on a local port and connects to a plaintext
	// target.
	ModeServer Mode = "server"
)

const (
	// PortRangeMin and PortRangeMax bound the ports probed for the proxy.
	PortRangeMin = 30000
	PortRangeMax = 60000

	defaultAttempts     = 5
	defaultReadyTimeout = 10 * time.Second
	defaultStopTimeout  = 5 * time.Second
	pollInterval        = 50 * time.Millisecond
	maxProbes           = 100

	pidFileName  = "stunnel.pid"
	confFileName = "stunnel.conf"
	dirPerm      = 0o700
	filePerm     = 0o600
)

// Sentinel errors.
var (
	ErrNoFreePort  = errors.New("no free port found in the proxy range")
	ErrNotReady    = errors.New("stunnel did not become ready")
	ErrInvalidMode = errors.New("invalid stunnel mode")
	ErrNoPIDFile   = errors.New("stunnel did not write a pid file")
)

// Options configure Start.
type Options struct {
	// Executable is the stunnel binary. Defaults to "stunnel".
	Executable string
	// Certificate is the PEM certificate used in server mode.
	Certificate string
	// Attempts bounds how many ports are tried when stunnel fails to come
	// up on a probed port.
	Attempts     int
	ReadyTimeout time.Duration
	Runner       runner.Executor
	Logger       *slog.Logger
}

func (o *Options) withDefaults() {
	if o.Executable == "" {
		o.Executable = "stunnel"
	}

	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}

	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}

	if o.Runner == nil {
		o.Runner = runner.New()
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Proxy is a running stunnel process. Close must be called to stop it.
type Proxy struct {
	ID     uuid.UUID
	Mode   Mode
	Target string

	port   int
	pid    int
	dir    string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Port returns the local port the proxy accepts on.
func (p *Proxy) Port() int { return p.port }

// PID returns the stunnel process id.
func (p *Proxy) PID() int { return p.pid }

// Addr returns the local address clients connect to.
func (p *Proxy) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))
}

// Start launches stunnel in mode towards target and waits until its local
// port accepts connections. A port is chosen by binding random candidates in
// [PortRangeMin, PortRangeMax) and releasing the winner to stunnel; when
// stunnel loses the race for it, another port is tried.
func Start(ctx context.Context, mode Mode, target string, opts Options) (*Proxy, error) {
	if mode != ModeClient && mode != ModeServer {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	opts.withDefaults()

	id := uuid.New()

	dir, err := os.MkdirTemp("", "scmkit-stunnel-"+id.String()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("create stunnel dir: %w", err)
	}

	if err := os.Chmod(dir, dirPerm); err != nil {
		os.RemoveAll(dir)

		return nil, fmt.Errorf("chmod stunnel dir: %w", err)
	}

	logger := opts.Logger.With("proxy_id", id.String(), "mode", string(mode), "target", target)

	var lastErr error

	for attempt := range opts.Attempts {
		port, err := probePort()
		if err != nil {
			os.RemoveAll(dir)

			return nil, err
		}

		proxy := &Proxy{ID: id, Mode: mode, Target: target, port: port, dir: dir, logger: logger}

		lastErr = proxy.launch(ctx, opts)
		if lastErr == nil {
			logger.InfoContext(ctx, "stunnel started", "port", port, "pid", proxy.pid)

			return proxy, nil
		}

		logger.WarnContext(ctx, "stunnel start failed", "attempt", attempt+1, "port", port, "error", lastErr)

		proxy.stopProcess()

		if ctx.Err() != nil {
			break
		}
	}

	os.RemoveAll(dir)

	return nil, fmt.Errorf("start stunnel: %w", lastErr)
}

func (p *Proxy) launch(ctx context.Context, opts Options) error {
	conf := Config{
		Mode:        p.Mode,
		Port:        p.port,
		Target:      p.Target,
		PIDFile:     filepath.Join(p.dir, pidFileName),
		Certificate: opts.Certificate,
	}

	confPath := filepath.Join(p.dir, confFileName)

	_ = os.Remove(conf.PIDFile)

	if err := os.WriteFile(confPath, []byte(conf.Render()), filePerm); err != nil {
		return fmt.Errorf("write stunnel config: %w", err)
	}

	if _, err := opts.Runner.Run(ctx, runner.Command{Name: opts.Executable, Args: []string{confPath}}); err != nil {
		return err
	}

	deadline := time.Now().Add(opts.ReadyTimeout)

	pid, err := waitForPID(ctx, conf.PIDFile, deadline)
	if err != nil {
		return err
	}

	p.pid = pid

	return waitForListener(ctx, p.Addr(), deadline)
}

// Close stops stunnel with SIGTERM, escalating to SIGKILL, and removes the
// private directory. It is safe to call more than once.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.stopProcess()

		if err := os.RemoveAll(p.dir); err != nil {
			p.closeErr = fmt.Errorf("remove stunnel dir: %w", err)
		}

		p.logger.Info("stunnel stopped", "pid", p.pid)
	})

	return p.closeErr
}

func (p *Proxy) stopProcess() {
	if p.pid <= 0 {
		return
	}

	if err := terminate(p.pid, defaultStopTimeout); err != nil {
		p.logger.Warn("stunnel did not stop cleanly", "pid", p.pid, "error", err)
	}
}

// probePort binds random candidates until one succeeds and returns it after
// releasing the socket.
func probePort() (int, error) {
	for range maxProbes {
		port := PortRangeMin + rand.IntN(PortRangeMax-PortRangeMin) //nolint:gosec // not security sensitive.

		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}

		if err := ln.Close(); err != nil {
			continue
		}

		return port, nil
	}

	return 0, ErrNoFreePort
}

func waitForPID(ctx context.Context, path string, deadline time.Time) (int, error) {
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
			if convErr == nil && pid > 0 {
				return pid, nil
			}
		}

		if time.Now().After(deadline) {
			return 0, ErrNoPIDFile
		}

		if err := sleep(ctx, pollInterval); err != nil {
			return 0, err
		}
	}
}

func waitForListener(ctx context.Context, addr string, deadline time.Time) error {
	dialer := net.Dialer{Timeout: pollInterval * 4}

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w on %s: %w", ErrNotReady, addr, err)
		}

		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
