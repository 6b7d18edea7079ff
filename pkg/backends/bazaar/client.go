// Package bazaar implements the Bazaar backend on top of the bzr
// command-line client.
package bazaar

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

const (
	defaultTool = "bzr"
	sshEnv      = "BZR_SSH"
	fileScheme  = "file://"
)

// Option configures a Client.
type Option func(*Client)

// WithLocation sets the time zone bzr interprets date: revspecs in. It
// defaults to the local zone of this process, which runs bzr.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Client is a Bazaar repository client.
type Client struct {
	repo   *scm.RepositoryConfig
	env    backends.Env
	tool   string
	loc    *time.Location
	logger *slog.Logger
}

var _ scm.Client = (*Client)(nil)

// New returns a Bazaar client for repo.
func New(repo *scm.RepositoryConfig, env backends.Env, opts ...Option) (*Client, error) {
	env = env.WithDefaults()

	if strings.TrimSpace(repo.Path) == "" {
		return nil, &scm.RepositoryNotFoundError{Detail: "no branch path configured"}
	}

	c := &Client{
		repo:   repo,
		env:    env,
		tool:   env.Tool(scm.BackendBazaar, defaultTool),
		loc:    time.Local,
		logger: env.Logger.With("backend", scm.BackendBazaar, "repository", repo.Path),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendBazaar }

// Close implements scm.Client.
func (c *Client) Close() error { return nil }

// FullPath joins path onto the branch location. Absolute local branches are
// given as file:// URLs.
func (c *Client) FullPath(path string) string {
	full := strings.TrimRight(c.repo.Path, "/")
	if p := strings.Trim(path, "/"); p != "" {
		full += "/" + p
	}

	if strings.HasPrefix(full, "/") {
		full = fileScheme + full
	}

	return full
}

func (c *Client) command(args ...string) runner.Command {
	cmd := runner.Command{Name: c.tool, Args: args}

	if sshutil.IsSSHURI(c.repo.Path) {
		cmd.Env = c.env.RBSSHEnv(c.repo.LocalSite, sshEnv)
	}

	return cmd
}

func (c *Client) rules(path string, rev scm.Revision) []scm.Rule {
	repoNotFound := backends.RepositoryNotFound(c.repo.Path)

	return []scm.Rule{
		{Substr: "Not a branch", Make: repoNotFound},
		{Substr: "Unsupported protocol", Make: repoNotFound},
		{Substr: "Connection refused", Make: repoNotFound},
		{Substr: "Permission denied", Make: backends.Authentication},
		{Substr: "is not versioned", Make: backends.FileNotFound(path, rev)},
		{Substr: "does not exist", Make: backends.FileNotFound(path, rev)},
		{Substr: "not present in revision", Make: backends.FileNotFound(path, rev)},
		{Substr: "No such file", Make: backends.FileNotFound(path, rev)},
		{Substr: "Requested revision", Make: backends.FileNotFound(path, rev)},
	}
}

// CheckRepository implements scm.Client.
func (c *Client) CheckRepository(ctx context.Context) error {
	if err := c.env.CheckSSHHost(ctx, c.repo.Path, c.repo.Username, c.repo.Password); err != nil {
		return err
	}

	res, err := c.env.Runner.Run(ctx, c.command("info", c.FullPath("")))
	if err == nil {
		return nil
	}

	err = backends.Failure(res, err, c.rules("", scm.Head)...)
	if errors.Is(err, scm.ErrBackendUnavailable) || errors.Is(err, scm.ErrAuthentication) {
		return err
	}

	return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: err.Error()}
}

// GetFile implements scm.Client.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	revspec, err := Revspec(rev, c.loc)
	if err != nil {
		return nil, &scm.InvalidRevisionFormatError{Path: path, Revision: rev.String(), Detail: err.Error()}
	}

	res, err := c.env.Runner.Run(ctx, c.command("cat", "-r", revspec, c.FullPath(path)))
	if err != nil {
		return nil, backends.Failure(res, err, c.rules(path, rev)...)
	}

	return res.Stdout, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client.
func (c *Client) GetChangeSet(context.Context, string, bool) (*scm.ChangeSet, error) {
	return nil, backends.Unsupported(scm.BackendBazaar, "changesets")
}

// ParseDiffRevision implements scm.Client. Revision strings are diff
// timestamps, optionally followed by "(revid:...)". The epoch timestamp
// marks an added file.
func (c *Client) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	rev, err := parseRevision(filename, revision)
	if err != nil {
		return filename, scm.Revision{}, err
	}

	return filename, rev, nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.logger)
}
