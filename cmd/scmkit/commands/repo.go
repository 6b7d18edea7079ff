package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/textutil"
)

// ErrFileTooLarge is returned when fetched content exceeds max_file_size.
var ErrFileTooLarge = errors.New("file exceeds the configured max_file_size")

func (a *app) println(args ...any) {
	fmt.Fprintln(a.stdout, args...)
}

// revisionArg parses an optional revision argument; absent means HEAD.
func revisionArg(args []string, idx int) scm.Revision {
	if len(args) <= idx {
		return scm.Head
	}

	return scm.ParseRevision(args[idx])
}

func (a *app) checkSize(path string, data []byte) error {
	limit, err := a.cfg.MaxFileSizeBytes()
	if err != nil {
		return err
	}

	if uint64(len(data)) > limit {
		return fmt.Errorf("%w: %s is %s, limit %s", ErrFileTooLarge, path,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(limit))
	}

	return nil
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that a repository is reachable and credentials work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(func(client scm.Client) error {
				if err := client.CheckRepository(cmd.Context()); err != nil {
					return err
				}

				structured, err := a.structured()
				if err != nil {
					return err
				}

				if structured {
					return a.emit(map[string]any{"backend": client.Backend(), "ok": true})
				}

				okColor.Fprintf(a.stdout, "%s repository is reachable\n", client.Backend())

				return nil
			})
		},
	}
}

func newCatCommand(a *app) *cobra.Command {
	var info bool

	cmd := &cobra.Command{
		Use:   "cat <path> [revision]",
		Short: "Print a file at a revision (default HEAD)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				data, err := client.GetFile(cmd.Context(), args[0], revisionArg(args, 1))
				if err != nil {
					return err
				}

				if err := a.checkSize(args[0], data); err != nil {
					return err
				}

				if !info {
					_, err = a.stdout.Write(data)

					return err
				}

				described := textutil.Describe(args[0], data)

				return a.render(described, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Path", "Size", "Lines", "Binary", "Language"})
					tbl.AppendRow(table.Row{
						args[0], humanize.Bytes(uint64(described.Size)), described.Lines,
						described.Binary, described.Language,
					})
				})
			})
		},
	}

	cmd.Flags().BoolVar(&info, "info", false, "describe the file instead of printing it")

	return cmd
}

func newExistsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <path> [revision]",
		Short: "Report whether a file exists at a revision (default HEAD)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				rev := revisionArg(args, 1)

				exists, err := client.FileExists(cmd.Context(), args[0], rev)
				if err != nil {
					return err
				}

				return a.render(map[string]any{"path": args[0], "revision": rev.String(), "exists": exists},
					func(tbl table.Writer) {
						tbl.AppendHeader(table.Row{"Path", "Revision", "Exists"})
						tbl.AppendRow(table.Row{args[0], rev.String(), status(exists)})
					})
			})
		},
	}
}

func newChangeSetCommand(a *app) *cobra.Command {
	var allowEmpty bool

	cmd := &cobra.Command{
		Use:   "changeset <id>",
		Short: "Show a committed changeset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				cs, err := client.GetChangeSet(cmd.Context(), args[0], allowEmpty)
				if err != nil {
					return err
				}

				return a.render(cs, func(tbl table.Writer) {
					appendChangeSet(tbl, cs)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "accept changesets without files")

	return cmd
}

func appendChangeSet(tbl table.Writer, cs *scm.ChangeSet) {
	tbl.AppendRow(table.Row{"Change", cs.ChangeNum})
	tbl.AppendRow(table.Row{"User", cs.Username})

	if cs.Branch != "" {
		tbl.AppendRow(table.Row{"Branch", cs.Branch})
	}

	tbl.AppendRow(table.Row{"Summary", cs.Summary})
	tbl.AppendRow(table.Row{"Pending", cs.Pending})
	tbl.AppendRow(table.Row{"Files", strings.Join(cs.Files, "\n")})
}

func newPendingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [user]",
		Short: "List pending changesets, optionally for one user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				lister, ok := client.(scm.PendingLister)
				if !ok {
					return backends.Unsupported(client.Backend(), "pending changesets")
				}

				user := ""
				if len(args) > 0 {
					user = args[0]
				}

				sets, err := lister.PendingChangeSets(cmd.Context(), user)
				if err != nil {
					return err
				}

				return a.render(sets, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Change", "User", "Files", "Summary"})

					for _, cs := range sets {
						tbl.AppendRow(table.Row{cs.ChangeNum, cs.Username, len(cs.Files), cs.Summary})
					}

					tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(sets))})
				})
			})
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path> [revision]",
		Short: "List a directory at a revision (default HEAD)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				lister, ok := client.(scm.DirectoryLister)
				if !ok {
					return backends.Unsupported(client.Backend(), "directory listing")
				}

				names, err := lister.ListDirectory(cmd.Context(), args[0], revisionArg(args, 1))
				if err != nil {
					return err
				}

				structured, err := a.structured()
				if err != nil {
					return err
				}

				if structured {
					return a.emit(names)
				}

				for _, name := range names {
					a.println(name)
				}

				return nil
			})
		},
	}
}

// parsedFile is one parse-diff result row.
type parsedFile struct {
	Original         string `json:"original" yaml:"original"`
	Display          string `json:"display,omitempty" yaml:"display,omitempty"`
	OriginalRevision string `json:"original_revision" yaml:"original_revision"`
	Modified         string `json:"modified" yaml:"modified"`
	ModifiedDetails  string `json:"modified_details,omitempty" yaml:"modified_details,omitempty"`
	Inserted         int    `json:"inserted" yaml:"inserted"`
	Deleted          int    `json:"deleted" yaml:"deleted"`
	Binary           bool   `json:"binary,omitempty" yaml:"binary,omitempty"`
	Moved            bool   `json:"moved,omitempty" yaml:"moved,omitempty"`
	Copied           bool   `json:"copied,omitempty" yaml:"copied,omitempty"`
	IsDeleted        bool   `json:"deleted_file,omitempty" yaml:"deleted_file,omitempty"`
	Exists           *bool  `json:"exists,omitempty" yaml:"exists,omitempty"`
}

func (p parsedFile) name() string {
	if p.Display != "" {
		return p.Display
	}

	return p.Original
}

func (p parsedFile) flags() string {
	var flags []string

	for _, flag := range []struct {
		set  bool
		name string
	}{
		{p.Binary, "binary"},
		{p.Moved, "moved"},
		{p.Copied, "copied"},
		{p.IsDeleted, "deleted"},
	} {
		if flag.set {
			flags = append(flags, flag.name)
		}
	}

	return strings.Join(flags, ",")
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read diff: %w", err)
	}

	return data, nil
}

func newParseDiffCommand(a *app) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "parse-diff <file|->",
		Short: "Parse a diff in the backend's format and resolve its revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			return a.withClient(func(client scm.Client) error {
				files, err := parseDiff(cmd.Context(), client, data, verify)
				if err != nil {
					return err
				}

				return a.render(files, func(tbl table.Writer) {
					header := table.Row{"Original", "Revision", "Modified", "+", "-", "Flags"}
					if verify {
						header = append(header, "Exists")
					}

					tbl.AppendHeader(header)

					for _, f := range files {
						row := table.Row{f.name(), f.OriginalRevision, f.Modified, f.Inserted, f.Deleted, f.flags()}
						if f.Exists != nil {
							row = append(row, status(*f.Exists))
						}

						tbl.AppendRow(row)
					}

					tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d files", len(files))})
				})
			})
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "check that each original file exists at its revision")

	return cmd
}

func parseDiff(ctx context.Context, client scm.Client, data []byte, verify bool) ([]parsedFile, error) {
	diffs, err := client.Parser(data).Parse(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]parsedFile, 0, len(diffs))

	for _, fd := range diffs {
		path, rev, err := client.ParseDiffRevision(ctx, fd.OrigFilename, fd.OrigFileDetails)
		if err != nil {
			return nil, err
		}

		pf := parsedFile{
			Original:         path,
			OriginalRevision: rev.String(),
			Modified:         fd.ModifiedFilename,
			ModifiedDetails:  fd.ModifiedFileDetails,
			Inserted:         fd.InsertCount,
			Deleted:          fd.DeleteCount,
			Binary:           fd.Binary,
			Moved:            fd.Moved,
			Copied:           fd.Copied,
			IsDeleted:        fd.Deleted,
		}

		if displayer, ok := registry.Unwrap(client).(scm.PathDisplayer); ok {
			if display := displayer.DisplayPath(path); display != path {
				pf.Display = display
			}
		}

		if verify {
			exists, err := client.FileExists(ctx, path, rev)
			if err != nil {
				return nil, err
			}

			pf.Exists = &exists
		}

		files = append(files, pf)
	}

	return files, nil
}

// comparison is the structured compare output.
type comparison struct {
	Path    string         `json:"path" yaml:"path"`
	Old     string         `json:"old" yaml:"old"`
	New     string         `json:"new" yaml:"new"`
	Binary  bool           `json:"binary" yaml:"binary"`
	Stats   textutil.Stats `json:"stats" yaml:"stats"`
	OldInfo textutil.Info  `json:"old_info" yaml:"old_info"`
	NewInfo textutil.Info  `json:"new_info" yaml:"new_info"`
	Diff    string         `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func newCompareCommand(a *app) *cobra.Command {
	var (
		contextLines int
		statOnly     bool
	)

	cmd := &cobra.Command{
		Use:   "compare <path> <old-revision> <new-revision>",
		Short: "Diff two revisions of a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(client scm.Client) error {
				result, err := compare(cmd.Context(), client, args[0],
					scm.ParseRevision(args[1]), scm.ParseRevision(args[2]), contextLines)
				if err != nil {
					return err
				}

				if statOnly {
					result.Diff = ""
				}

				structured, err := a.structured()
				if err != nil {
					return err
				}

				if structured {
					return a.emit(result)
				}

				if result.Binary {
					warnColor.Fprintf(a.stdout, "Binary files %s@%s and %s@%s differ\n",
						result.Path, result.Old, result.Path, result.New)

					return nil
				}

				fmt.Fprint(a.stdout, result.Diff)
				fmt.Fprintf(a.stdout, "%s, %s\n",
					okColor.Sprintf("%d insertion(s)(+)", result.Stats.Inserted),
					failColor.Sprintf("%d deletion(s)(-)", result.Stats.Deleted))

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&contextLines, "context", "U", textutil.DefaultContext, "lines of context")
	cmd.Flags().BoolVar(&statOnly, "stat", false, "print only line statistics")

	return cmd
}

func compare(ctx context.Context, client scm.Client, path string, oldRev, newRev scm.Revision,
	contextLines int,
) (*comparison, error) {
	oldData, err := client.GetFile(ctx, path, oldRev)
	if err != nil {
		return nil, err
	}

	newData, err := client.GetFile(ctx, path, newRev)
	if err != nil {
		return nil, err
	}

	result := &comparison{
		Path:    path,
		Old:     oldRev.String(),
		New:     newRev.String(),
		OldInfo: textutil.Describe(path, oldData),
		NewInfo: textutil.Describe(path, newData),
	}

	result.Binary = result.OldInfo.Binary || result.NewInfo.Binary
	if result.Binary {
		return result, nil
	}

	result.Stats = textutil.LineStats(oldData, newData)

	result.Diff, err = textutil.UnifiedDiff(
		path+"@"+result.Old, path+"@"+result.New, oldData, newData, contextLines)
	if err != nil {
		return nil, err
	}

	return result, nil
}
