// Package cvs implements the CVS backend on top of the cvs command-line
// client. Remote repositories are reached through pserver or, for ext and
// ssh roots, through rbssh.
package cvs

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

const (
	defaultTool = "cvs"
	rshEnv      = "CVS_RSH"

	// modulesFile is fetched to prove a repository is reachable.
	modulesFile = "CVSROOT/modules"
)

var revisionRe = regexp.MustCompile(`^.*?(\d+(\.\d+)+)\r?$`)

// notFoundMessages are the ways cvs reports a missing file or revision,
// which it does not always accompany with a non-zero exit status.
var notFoundMessages = []string{
	"cannot find module",
	"cannot find",
	"is not in repository",
	"could not read RCS file",
	"no such file",
	"has no revision",
}

// Client is a CVS repository client.
type Client struct {
	repo   *scm.RepositoryConfig
	env    backends.Env
	tool   string
	root   Root
	logger *slog.Logger
}

var _ scm.Client = (*Client)(nil)

// New returns a CVS client for repo.
func New(repo *scm.RepositoryConfig, env backends.Env) (*Client, error) {
	env = env.WithDefaults()

	root, err := ParseRoot(repo.Path, repo.Username, repo.Password)
	if err != nil {
		return nil, &scm.RepositoryNotFoundError{Path: repo.Path, Detail: err.Error()}
	}

	return &Client{
		repo:   repo,
		env:    env,
		tool:   env.Tool(scm.BackendCVS, defaultTool),
		root:   root,
		logger: env.Logger.With("backend", scm.BackendCVS, "repository", repo.Path),
	}, nil
}

// Root returns the CVSROOT the client uses.
func (c *Client) Root() Root { return c.root }

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendCVS }

// Close implements scm.Client.
func (c *Client) Close() error { return nil }

func (c *Client) command(args ...string) runner.Command {
	cmd := runner.Command{
		Name: c.tool,
		Args: append([]string{"-f", "-Q", "-d", c.root.String()}, args...),
	}

	if c.root.Password != "" {
		cmd.Secrets = []string{c.root.Password}
	}

	if c.root.UsesSSH() {
		cmd.Env = c.env.RBSSHEnv(c.repo.LocalSite, rshEnv)
	}

	return cmd
}

// CheckRepository implements scm.Client. SSH roots verify the host key
// first; then the modules file is fetched.
func (c *Client) CheckRepository(ctx context.Context) error {
	if c.root.UsesSSH() && c.env.SSH != nil {
		netloc := c.root.Host
		if c.root.Username != "" {
			netloc = c.root.Username + "@" + netloc
		}

		err := c.env.SSH.CheckHost(ctx, netloc, sshutil.Credentials{
			Username: c.root.Username,
			Password: c.root.Password,
		})
		if err != nil {
			return err
		}
	}

	_, err := c.GetFile(ctx, modulesFile, scm.Head)
	if err == nil || errors.Is(err, scm.ErrBackendUnavailable) || errors.Is(err, scm.ErrAuthentication) {
		return err
	}

	return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: err.Error()}
}

// GetFile implements scm.Client.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	if path == "" {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev}
	}

	module := NormalizeRCSPath(path, c.root.Path)

	args := []string{"checkout", "-p"}
	if rev.IsNative() {
		args = append(args, "-r", rev.Value())
	}

	args = append(args, module)

	res, err := c.env.Runner.Run(ctx, c.command(args...))
	if err != nil {
		return nil, backends.Failure(res, err, c.fileRules(path, rev)...)
	}

	if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" && isNotFound(stderr) {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev, Detail: stderr}
	}

	return res.Stdout, nil
}

func isNotFound(msg string) bool {
	for _, s := range notFoundMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

func (c *Client) fileRules(path string, rev scm.Revision) []scm.Rule {
	rules := []scm.Rule{
		{Substr: "authorization failed", Make: backends.Authentication},
		{Substr: "used empty password", Make: backends.Authentication},
		{Substr: "Permission denied", Make: backends.Authentication},
		{Substr: "connect to", Make: backends.RepositoryNotFound(c.repo.Path)},
		{Substr: "Name or service not known", Make: backends.RepositoryNotFound(c.repo.Path)},
		{Substr: "No such file or directory", Make: backends.RepositoryNotFound(c.repo.Path)},
	}

	for _, s := range notFoundMessages {
		rules = append(rules, scm.Rule{Substr: s, Make: backends.FileNotFound(path, rev)})
	}

	return rules
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client. CVS has no atomic changesets.
func (c *Client) GetChangeSet(context.Context, string, bool) (*scm.ChangeSet, error) {
	return nil, backends.Unsupported(scm.BackendCVS, "changesets")
}

// ParseDiffRevision implements scm.Client. Revisions are the trailing
// dotted number of the header info, such as "1.4" in
// "8 Dec 2020 10:00:00 -0000\t1.4".
func (c *Client) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	if revision == scm.PreCreation.String() {
		return filename, scm.PreCreation, nil
	}

	m := revisionRe.FindStringSubmatch(revision)
	if m == nil {
		return filename, scm.Revision{}, &scm.InvalidRevisionFormatError{
			Path:     filename,
			Revision: revision,
			Detail:   "unable to parse diff revision header",
		}
	}

	return filename, scm.NewRevision(m[1]), nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.root.Path, c.logger)
}
