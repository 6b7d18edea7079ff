package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/rbssh"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
	"github.com/Sumatoshi-tech/scmkit/pkg/version"
)

// process is what one rbssh invocation needs from its process.
type process struct {
	streams rbssh.IO
	getenv  func(string) string
	logger  *slog.Logger
}

// storage returns the key storage selected by RBSSH_SSH_DIR and
// RBSSH_LOCAL_SITE.
func (rt process) storage() *sshutil.Storage {
	dir := rt.getenv(sshutil.EnvSSHDir)
	if dir == "" {
		dir = sshutil.DefaultDir()
	}

	return sshutil.NewStorage(dir, rt.getenv(sshutil.EnvLocalSite))
}

func (rt process) allowAgent() bool {
	allow, err := strconv.ParseBool(rt.getenv(sshutil.EnvAllowAgent))

	return err == nil && allow
}

// newCommand builds the rbssh command. The exit status to mirror is stored
// in status.
func newCommand(rt process, status *int) *cobra.Command {
	var (
		opts        rbssh.Options
		showVersion bool
		sshOptions  []string
	)

	cmd := &cobra.Command{
		Use:   "rbssh [-l user] [-p port] [-q] [-s] [-V] [user@]host[:port] [command...]",
		Short: "Portable SSH client for SCM tools",
		Long: `rbssh stands in for ssh when SCM tools tunnel over SSH. It authenticates
with the user key and known hosts kept by scmkit rather than $HOME/.ssh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(rt.streams.Stdout, version.String("rbssh"))

				return nil
			}

			opts.Args = args

			target, err := rbssh.Resolve(opts)
			if err != nil {
				fmt.Fprintf(rt.streams.Stderr, "rbssh: %v\n", err)
				*status = rbssh.ExitFailure

				return err
			}

			rt.logger.Debug("rbssh invocation", "target", target.String(), "ignored_options", sshOptions)

			dialer := sshutil.NewDialer(rt.storage(),
				sshutil.WithPolicy(sshutil.WarnUnknown),
				sshutil.WithAgent(rt.allowAgent()),
				sshutil.WithLogger(rt.logger),
			)

			code, err := rbssh.NewClient(dialer, rt.streams, rt.logger).Run(cmd.Context(), target, opts.Quiet)
			*status = code

			return err
		},
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.User, "login", "l", "", "remote user")
	flags.IntVarP(&opts.Port, "port", "p", 0, "remote port")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress connection errors")
	flags.BoolVarP(&opts.Subsystem, "subsystem", "s", false, "request a subsystem instead of a command")
	flags.BoolVarP(&showVersion, "version", "V", false, "print the version and exit")
	flags.StringArrayVarP(&sshOptions, "option", "o", nil, "ssh option (accepted and ignored)")

	cmd.SetIn(rt.streams.Stdin)
	cmd.SetOut(rt.streams.Stdout)
	cmd.SetErr(rt.streams.Stderr)

	return cmd
}

// run executes rbssh with args and returns the process exit status.
func run(ctx context.Context, rt process, args []string) int {
	status := 0

	cmd := newCommand(rt, &status)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return status
	}

	rt.logger.Debug("rbssh failed", "error", err)

	if status == 0 {
		// Flag parsing errors never reach Run.
		fmt.Fprintf(rt.streams.Stderr, "rbssh: %v\n", err)
		status = rbssh.ExitFailure
	}

	return status
}

func osProcess(logger *slog.Logger) process {
	return process{
		streams: rbssh.IO{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr},
		getenv:  os.Getenv,
		logger:  logger,
	}
}
