// Package monotone implements the Monotone backend on top of the mtn
// automation interface. Files are addressed by their content ids, which
// diffs record as revisions.
package monotone

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const defaultTool = "mtn"

// Client is a Monotone database client.
type Client struct {
	repo   *scm.RepositoryConfig
	env    backends.Env
	tool   string
	logger *slog.Logger
}

var _ scm.Client = (*Client)(nil)

// New returns a Monotone client for the database at repo.Path.
func New(repo *scm.RepositoryConfig, env backends.Env) (*Client, error) {
	env = env.WithDefaults()

	if strings.TrimSpace(repo.Path) == "" {
		return nil, &scm.RepositoryNotFoundError{Detail: "no database path configured"}
	}

	return &Client{
		repo:   repo,
		env:    env,
		tool:   env.Tool(scm.BackendMonotone, defaultTool),
		logger: env.Logger.With("backend", scm.BackendMonotone, "repository", repo.Path),
	}, nil
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendMonotone }

// Close implements scm.Client.
func (c *Client) Close() error { return nil }

func (c *Client) automate(ctx context.Context, args ...string) (*runner.Result, error) {
	return c.env.Runner.Run(ctx, runner.Command{
		Name: c.tool,
		Args: append([]string{"-d", c.repo.Path, "automate"}, args...),
	})
}

func (c *Client) rules() []scm.Rule {
	notRepo := backends.RepositoryNotFound(c.repo.Path)

	return []scm.Rule{
		{Substr: "not a monotone database", Make: notRepo},
		{Substr: "does not exist", Make: notRepo},
	}
}

// CheckRepository implements scm.Client. The database must be a regular
// file that mtn can open.
func (c *Client) CheckRepository(ctx context.Context) error {
	info, err := os.Stat(c.repo.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: "no such database"}
		}

		return scm.Wrap(err)
	}

	if !info.Mode().IsRegular() {
		return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: "not a database file"}
	}

	res, err := c.automate(ctx, "interface_version")
	if err != nil {
		return backends.Failure(res, err, c.rules()...)
	}

	c.logger.DebugContext(ctx, "database reachable", "interface_version", strings.TrimSpace(string(res.Stdout)))

	return nil
}

// GetFile implements scm.Client. rev must be a file id; HEAD has no meaning
// here because the path is not used to locate content.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	if !rev.IsNative() || rev.Value() == "" {
		return nil, &scm.InvalidRevisionFormatError{
			Path:     path,
			Revision: rev.String(),
			Detail:   "files are fetched by file id",
		}
	}

	res, err := c.automate(ctx, "get_file", rev.Value())
	if err != nil {
		rules := append([]scm.Rule{
			{Substr: "no file", Make: backends.FileNotFound(path, rev)},
			{Substr: "unknown file", Make: backends.FileNotFound(path, rev)},
		}, c.rules()...)

		return nil, backends.Failure(res, err, rules...)
	}

	return res.Stdout, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client.
func (c *Client) GetChangeSet(context.Context, string, bool) (*scm.ChangeSet, error) {
	return nil, backends.Unsupported(scm.BackendMonotone, "changesets")
}

// ParseDiffRevision implements scm.Client. The revision is the file id
// mtn writes after the filename; added files have none.
func (c *Client) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	revision = strings.TrimSpace(revision)

	if revision == "" || revision == scm.PreCreation.String() {
		return filename, scm.PreCreation, nil
	}

	return filename, scm.NewRevision(revision), nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.logger)
}
