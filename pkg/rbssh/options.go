// Package rbssh implements a portable ssh replacement that backend tools
// invoke through CVS_RSH, BZR_SSH and similar variables. It uses the keys
// and known hosts managed by sshutil instead of $HOME/.ssh.
package rbssh

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

// Mode selects what rbssh asks the server for.
type Mode int

const (
	// ModeShell opens an interactive shell, with a PTY when stdin is a
	// terminal.
	ModeShell Mode = iota
	// ModeExec runs a single command.
	ModeExec
	// ModeSubsystem starts a named subsystem such as sftp.
	ModeSubsystem
)

func (m Mode) String() string {
	switch m {
	case ModeShell:
		return "shell"
	case ModeExec:
		return "exec"
	case ModeSubsystem:
		return "subsystem"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ErrMissingHost is returned when no destination was given.
var ErrMissingHost = errors.New("a hostname must be specified")

// ErrMissingSubsystem is returned when -s is given without a subsystem name.
var ErrMissingSubsystem = errors.New("a subsystem must be specified with -s")

// Options mirror the command-line contract:
//
//	rbssh [-l user] [-p port] [-q] [-s] [-V] [user@]host[:port] [command...]
type Options struct {
	User      string
	Port      int
	Quiet     bool
	Subsystem bool
	// Args are the positional arguments: destination first.
	Args []string
}

// Target is a resolved invocation.
type Target struct {
	User      string
	Host      string
	Port      int
	Mode      Mode
	Command   string
	Subsystem string
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Resolve turns options into a Target. The user comes from -l, then the
// user@ prefix, then the local login. The port comes from -p, then a :port
// suffix, then 22.
func Resolve(opts Options) (Target, error) {
	if len(opts.Args) == 0 || opts.Args[0] == "" {
		return Target{}, ErrMissingHost
	}

	login, host, port, err := sshutil.ParseNetloc(opts.Args[0])
	if err != nil {
		return Target{}, err
	}

	t := Target{User: login, Host: host, Port: port}

	if opts.User != "" {
		t.User = opts.User
	}

	if t.User == "" {
		t.User = sshutil.CurrentUsername()
	}

	if opts.Port > 0 {
		t.Port = opts.Port
	}

	rest := opts.Args[1:]

	switch {
	case opts.Subsystem:
		if len(rest) == 0 {
			return Target{}, ErrMissingSubsystem
		}

		t.Mode = ModeSubsystem
		t.Subsystem = rest[0]
	case len(rest) > 0:
		t.Mode = ModeExec
		// Words are joined with spaces and interpreted by the remote shell,
		// as OpenSSH does.
		t.Command = strings.Join(rest, " ")
	default:
		t.Mode = ModeShell
	}

	return t, nil
}

func (t Target) String() string {
	switch t.Mode {
	case ModeExec:
		return fmt.Sprintf("%s@%s exec %q", t.User, t.Addr(), t.Command)
	case ModeSubsystem:
		return fmt.Sprintf("%s@%s subsystem %s", t.User, t.Addr(), t.Subsystem)
	default:
		return fmt.Sprintf("%s@%s shell", t.User, t.Addr())
	}
}
