package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// NewRootCommand builds the scmkit command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand(newApp())

	return root
}

func newRootCommand(a *app) (*cobra.Command, *app) {
	root := &cobra.Command{
		Use:   "scmkit",
		Short: "Inspect repositories across Perforce, CVS, Bazaar, ClearCase, Plastic, Monotone and git",
		Long: `scmkit talks to source code management systems through one interface.

Repository commands:
  check       Verify that a repository is reachable and credentials work
  cat         Print a file at a revision
  exists      Report whether a file exists at a revision
  changeset   Show a committed changeset
  pending     List pending changesets
  ls          List a directory at a revision
  parse-diff  Parse a diff in the backend's format
  compare     Diff two revisions of a file

SSH and transport:
  hostkey     Manage trusted SSH host keys
  userkey     Manage the SSH user key
  tunnel      Run an stunnel proxy with metrics and health endpoints`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.bindFlags(root)

	root.AddCommand(
		newCheckCommand(a),
		newCatCommand(a),
		newExistsCommand(a),
		newChangeSetCommand(a),
		newPendingCommand(a),
		newListCommand(a),
		newParseDiffCommand(a),
		newCompareCommand(a),
		newHostKeyCommand(a),
		newUserKeyCommand(a),
		newTunnelCommand(a),
		newBackendsCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)

	return root, a
}

// Execute runs the command tree and flushes telemetry before returning.
func Execute(ctx context.Context, args []string) error {
	root, a := newRootCommand(newApp())
	root.SetArgs(args)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		a.shutdown(shutdownCtx)
	}()

	return root.ExecuteContext(ctx)
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			a.println(version.String("scmkit"))
		},
	}
}
