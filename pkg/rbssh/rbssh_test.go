package rbssh_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/rbssh"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil/sshtest"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts rbssh.Options
		want rbssh.Target
	}{
		{
			name: "exec with -l",
			opts: rbssh.Options{User: "alice", Args: []string{"example.com", "echo", "hi"}},
			want: rbssh.Target{User: "alice", Host: "example.com", Port: 22, Mode: rbssh.ModeExec, Command: "echo hi"},
		},
		{
			name: "user and port in destination",
			opts: rbssh.Options{Args: []string{"bob@example.com:2222", "cvs", "server"}},
			want: rbssh.Target{User: "bob", Host: "example.com", Port: 2222, Mode: rbssh.ModeExec, Command: "cvs server"},
		},
		{
			name: "flags override destination",
			opts: rbssh.Options{User: "carol", Port: 2200, Args: []string{"bob@example.com:2222"}},
			want: rbssh.Target{User: "carol", Host: "example.com", Port: 2200, Mode: rbssh.ModeShell},
		},
		{
			name: "subsystem",
			opts: rbssh.Options{User: "dave", Subsystem: true, Args: []string{"example.com", "sftp"}},
			want: rbssh.Target{User: "dave", Host: "example.com", Port: 22, Mode: rbssh.ModeSubsystem, Subsystem: "sftp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := rbssh.Resolve(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	_, err := rbssh.Resolve(rbssh.Options{})
	require.ErrorIs(t, err, rbssh.ErrMissingHost)

	_, err = rbssh.Resolve(rbssh.Options{Subsystem: true, Args: []string{"example.com"}})
	require.ErrorIs(t, err, rbssh.ErrMissingSubsystem)
}

type harness struct {
	srv    *sshtest.Server
	dialer *sshutil.Dialer
}

func newHarness(t *testing.T) harness {
	t.Helper()

	srv := sshtest.Start(t, sshtest.Options{Username: "alice", Password: "secret"})

	storage := sshutil.NewStorage(t.TempDir(), "")
	require.NoError(t, storage.AddHostKey(srv.Addr, srv.HostKey.PublicKey()))

	return harness{srv: srv, dialer: sshutil.NewDialer(storage, sshutil.WithPolicy(sshutil.WarnUnknown))}
}

// run invokes rbssh against the harness server with a known password in
// place of an interactive prompt.
func (h harness) run(t *testing.T, password string, stdin string, args ...string) (int, string, string, error) {
	t.Helper()

	target, err := rbssh.Resolve(rbssh.Options{User: "alice", Args: append([]string{h.srv.Addr}, args...)})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer

	client := rbssh.NewClient(h.dialer, rbssh.IO{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	}, nil)

	code, err := client.RunWithPassword(context.Background(), target, password, false)

	return code, stdout.String(), stderr.String(), err
}

func TestRun_ExecMirrorsStdout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, stdout, _, err := h.run(t, "secret", "", "echo", "hi")
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "hi\n", stdout)
}

func TestRun_ExitStatusMirrored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, _, _, err := h.run(t, "secret", "", "exit", "42")
	require.NoError(t, err)
	assert.Equal(t, 42, code)
}

func TestRun_StderrForwarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, stdout, stderr, err := h.run(t, "secret", "", "stderr", "oops")
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Empty(t, stdout)
	assert.Equal(t, "oops\n", stderr)
}

func TestRun_StdinForwarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, stdout, _, err := h.run(t, "secret", "payload", "cat")
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "payload", stdout)
}

func TestRun_AuthFailureExitsOne(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, _, stderr, err := h.run(t, "wrong", "", "echo", "hi")
	require.ErrorIs(t, err, scm.ErrAuthentication)
	assert.Equal(t, rbssh.ExitFailure, code)
	assert.Contains(t, stderr, "rbssh:")
}

func TestRun_Subsystem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	target, err := rbssh.Resolve(rbssh.Options{User: "alice", Subsystem: true, Args: []string{h.srv.Addr, "sftp"}})
	require.NoError(t, err)

	var stdout bytes.Buffer

	client := rbssh.NewClient(h.dialer, rbssh.IO{
		Stdin:  strings.NewReader("hello"),
		Stdout: &stdout,
		Stderr: &bytes.Buffer{},
	}, nil)

	code, err := client.RunWithPassword(context.Background(), target, "secret", false)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "hello", stdout.String())
	assert.Equal(t, []string{"sftp"}, h.srv.Subsystems())
}

func TestRun_ShellWithoutTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, stdout, _, err := h.run(t, "secret", "ls\n")
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "ls\n", stdout)
	assert.Empty(t, h.srv.PTYTerms(), "no pty without a local terminal")
}

func TestOpenDebugLog_DisabledByDefault(t *testing.T) {
	t.Setenv(sshutil.EnvDebug, "")

	logger, closeLog, err := rbssh.OpenDebugLog()
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NoError(t, closeLog())
}
