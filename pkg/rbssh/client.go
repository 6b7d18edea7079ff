package rbssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

// ErrSubsystemRejected is returned when the server refuses a subsystem.
var ErrSubsystemRejected = errors.New("subsystem request rejected")

const (
	// MaxPasswordAttempts bounds interactive password prompts.
	MaxPasswordAttempts = 3

	// ExitFailure is returned when no remote exit status is available.
	ExitFailure = 1

	defaultTerm = "xterm"
	defaultRows = 24
	defaultCols = 80
)

// IO binds the local streams. Stdin is an *os.File in production so its
// terminal state can be inspected.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Client runs one rbssh invocation.
type Client struct {
	dialer *sshutil.Dialer
	io     IO
	logger *slog.Logger
}

// NewClient returns a Client that connects with dialer.
func NewClient(dialer *sshutil.Dialer, streams IO, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{dialer: dialer, io: streams, logger: logger}
}

// stdinTerminal returns the stdin file descriptor when stdin is a terminal.
func (c *Client) stdinTerminal() (*os.File, bool) {
	f, ok := c.io.Stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, false
	}

	return f, true
}

// Run connects, runs the target and returns the exit status to mirror.
// Connection and authentication failures are reported on stderr and yield
// ExitFailure together with the error.
func (c *Client) Run(ctx context.Context, target Target, quiet bool) (int, error) {
	return c.RunWithPassword(ctx, target, "", quiet)
}

// RunWithPassword is Run with a known password tried before any prompt.
func (c *Client) RunWithPassword(ctx context.Context, target Target, password string, quiet bool) (int, error) {
	c.logger.DebugContext(ctx, "rbssh start", "target", target.String())

	creds := sshutil.Credentials{Username: target.User, Password: password}

	if tty, ok := c.stdinTerminal(); ok {
		creds.PasswordAttempts = MaxPasswordAttempts
		creds.PasswordPrompt = func() (string, error) {
			fmt.Fprintf(c.io.Stderr, "%s@%s's password: ", target.User, target.Host)

			pw, err := term.ReadPassword(int(tty.Fd()))

			fmt.Fprintln(c.io.Stderr)

			return string(pw), err
		}
	}

	client, err := c.dialer.Dial(ctx, target.Addr(), creds)
	if err != nil {
		c.report(err, quiet)

		return ExitFailure, err
	}
	defer client.Close()

	if target.Mode == ModeSubsystem {
		return c.runSubsystem(ctx, client, target, quiet)
	}

	session, err := client.NewSession()
	if err != nil {
		c.report(err, quiet)

		return ExitFailure, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	stdout := &countingWriter{w: c.io.Stdout}
	stderr := &countingWriter{w: c.io.Stderr}

	session.Stdin = c.io.Stdin
	session.Stdout = stdout
	session.Stderr = stderr

	restore, err := c.start(session, target)
	if err != nil {
		c.report(err, quiet)

		return ExitFailure, err
	}

	waitErr := session.Wait()

	if restoreErr := restore(); restoreErr != nil {
		c.logger.WarnContext(ctx, "restore terminal", "error", restoreErr)
	}

	c.logger.DebugContext(ctx, "rbssh finished",
		"stdout_bytes", stdout.n.Load(), "stderr_bytes", stderr.n.Load(), "error", waitErr)

	return exitStatus(waitErr)
}

// start issues the request for target's mode. The returned function undoes
// any local terminal changes and must be called after the session ends.
func (c *Client) start(session *ssh.Session, target Target) (func() error, error) {
	restore := func() error { return nil }

	switch target.Mode {
	case ModeExec:
		if err := session.Start(target.Command); err != nil {
			return restore, fmt.Errorf("start command: %w", err)
		}
	default:
		if tty, ok := c.stdinTerminal(); ok {
			var err error

			restore, err = c.requestPTY(session, tty)
			if err != nil {
				return func() error { return nil }, err
			}
		}

		if err := session.Shell(); err != nil {
			_ = restore()

			return func() error { return nil }, fmt.Errorf("start shell: %w", err)
		}
	}

	return restore, nil
}

// runSubsystem drives a subsystem on a raw session channel. ssh.Session
// only starts its stream copying for exec and shell requests, so the
// streams and the exit status are handled here.
func (c *Client) runSubsystem(ctx context.Context, client *ssh.Client, target Target, quiet bool) (int, error) {
	ch, requests, err := client.OpenChannel("session", nil)
	if err != nil {
		c.report(err, quiet)

		return ExitFailure, fmt.Errorf("open session: %w", err)
	}
	defer ch.Close()

	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	statusc := make(chan int, 1)

	go func() {
		status := ExitFailure

		for req := range requests {
			if req.Type == "exit-status" {
				var msg exitStatusMsg
				if ssh.Unmarshal(req.Payload, &msg) == nil {
					status = int(msg.Status)
				}
			}

			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}

		statusc <- status
	}()

	ok, err := ch.SendRequest("subsystem", true, ssh.Marshal(subsystemMsg{Name: target.Subsystem}))
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", ErrSubsystemRejected, target.Subsystem)
	}

	if err != nil {
		c.report(err, quiet)

		return ExitFailure, fmt.Errorf("request subsystem %s: %w", target.Subsystem, err)
	}

	stdout := &countingWriter{w: c.io.Stdout}
	stderr := &countingWriter{w: c.io.Stderr}

	go func() {
		if _, err := io.Copy(ch, c.io.Stdin); err != nil {
			c.logger.DebugContext(ctx, "subsystem stdin", "error", err)
		}

		_ = ch.CloseWrite()
	}()

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, _ = io.Copy(stdout, ch)
	}()

	go func() {
		defer wg.Done()

		_, _ = io.Copy(stderr, ch.Stderr())
	}()

	wg.Wait()

	status := <-statusc

	c.logger.DebugContext(ctx, "rbssh finished",
		"subsystem", target.Subsystem, "stdout_bytes", stdout.n.Load(), "stderr_bytes", stderr.n.Load(),
		"status", status)

	if err := ctx.Err(); err != nil {
		return ExitFailure, err
	}

	return status, nil
}

type subsystemMsg struct {
	Name string
}

type exitStatusMsg struct {
	Status uint32
}

// requestPTY asks for a remote terminal sized like the local one and puts
// the local terminal into raw mode.
func (c *Client) requestPTY(session *ssh.Session, tty *os.File) (func() error, error) {
	rows, cols, err := pty.Getsize(tty)
	if err != nil || rows == 0 || cols == 0 {
		rows, cols = defaultRows, defaultCols
	}

	termName := os.Getenv("TERM")
	if termName == "" {
		termName = defaultTerm
	}

	modes := ssh.TerminalModes{ssh.ECHO: 1, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
	if err := session.RequestPty(termName, rows, cols, modes); err != nil {
		return nil, fmt.Errorf("request pty: %w", err)
	}

	state, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return func() error { return term.Restore(int(tty.Fd()), state) }, nil
}

func (c *Client) report(err error, quiet bool) {
	c.logger.Error("rbssh failed", "error", err)

	if quiet && !errors.Is(err, scm.ErrAuthentication) {
		return
	}

	fmt.Fprintf(c.io.Stderr, "rbssh: %v\n", err)
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return ExitFailure, nil
	}

	return ExitFailure, err
}

type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n.Add(int64(n))

	return n, err
}
