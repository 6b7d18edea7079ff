// Package plastic implements the Plastic SCM backend on top of the cm
// command-line client.
package plastic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// UnknownRevision is what cm reports as the base revision of an added file.
const UnknownRevision = "rev:revid:-1"

const (
	defaultTool = "cm"
	errorPrefix = "Error:"
)

var (
	repoSpecRe = regexp.MustCompile(`^(.*)@(.*):(\d+)$`)
	changeRe   = regexp.MustCompile(`^(\d+) (\S+) (\d+) (.*)$`)
	repoListRe = regexp.MustCompile(`^\s*\d+\s*(\S+)\s*.*:.*$`)
)

// Spec is a parsed "repository@host:port" path.
type Spec struct {
	Name string
	Host string
	Port string
}

// ParseSpec parses a repository path.
func ParseSpec(path string) (Spec, error) {
	m := repoSpecRe.FindStringSubmatch(strings.TrimSpace(path))
	if m == nil || m[1] == "" || m[2] == "" {
		return Spec{}, &scm.RepositoryNotFoundError{
			Path:   path,
			Detail: "expected a repository in the form name@hostname:port",
		}
	}

	return Spec{Name: m[1], Host: m[2], Port: m[3]}, nil
}

// Server returns "host:port".
func (s Spec) Server() string { return s.Host + ":" + s.Port }

// Repository returns the cm repository specifier.
func (s Spec) Repository() string {
	return fmt.Sprintf("rep:%s@repserver:%s:%s", s.Name, s.Host, s.Port)
}

// Client is a Plastic SCM repository client.
type Client struct {
	repo   *scm.RepositoryConfig
	env    backends.Env
	tool   string
	spec   Spec
	logger *slog.Logger
}

var _ scm.Client = (*Client)(nil)

// New returns a Plastic client for repo.
func New(repo *scm.RepositoryConfig, env backends.Env) (*Client, error) {
	env = env.WithDefaults()

	spec, err := ParseSpec(repo.Path)
	if err != nil {
		return nil, err
	}

	return &Client{
		repo:   repo,
		env:    env,
		tool:   env.Tool(scm.BackendPlastic, defaultTool),
		spec:   spec,
		logger: env.Logger.With("backend", scm.BackendPlastic, "repository", repo.Path),
	}, nil
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendPlastic }

// Close implements scm.Client.
func (c *Client) Close() error { return nil }

func (c *Client) run(ctx context.Context, args ...string) (*runner.Result, error) {
	return c.env.Runner.Run(ctx, runner.Command{Name: c.tool, Args: args})
}

// failure translates a cm failure. cm sometimes reports errors on stdout
// with an "Error:" prefix and nothing on stderr.
func (c *Client) failure(res *runner.Result, err error, rules ...scm.Rule) error {
	rules = append(rules,
		scm.Rule{Substr: "authentication", Make: backends.Authentication},
		scm.Rule{Substr: "Unable to connect", Make: backends.RepositoryNotFound(c.repo.Path)},
		scm.Rule{Substr: "could not be resolved", Make: backends.RepositoryNotFound(c.repo.Path)},
	)

	return backends.Failure(res, err, rules...)
}

// CheckRepository implements scm.Client. The server must list the
// configured repository.
func (c *Client) CheckRepository(ctx context.Context) error {
	res, err := c.run(ctx, "listrepositories", c.spec.Server())
	if err != nil {
		return c.failure(res, err)
	}

	out := string(res.Stdout)
	if strings.HasPrefix(strings.TrimSpace(out), errorPrefix) {
		return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: strings.TrimSpace(out)}
	}

	for line := range strings.SplitSeq(out, "\n") {
		if m := repoListRe.FindStringSubmatch(line); m != nil && m[1] == c.spec.Name {
			return nil
		}
	}

	return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: "the server does not list this repository"}
}

// GetFile implements scm.Client. Content is written by cm into a private
// temp file, which is always removed, because "cm cat" to stdout mangles
// trailing newlines.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() || rev.Value() == UnknownRevision {
		return []byte{}, nil
	}

	spec := path
	if rev.IsNative() {
		spec = rev.Value()
	}

	dir, err := os.MkdirTemp("", "scmkit-plastic-")
	if err != nil {
		return nil, scm.Wrap(fmt.Errorf("create temp dir: %w", err))
	}

	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			c.logger.WarnContext(ctx, "removing temp dir", "dir", dir, "error", rmErr)
		}
	}()

	target := filepath.Join(dir, "content")

	res, err := c.run(ctx, "cat", spec+"@"+c.spec.Repository(), "--file="+target)
	if err != nil {
		return nil, c.failure(res, err,
			scm.Rule{Substr: "does not exist", Make: backends.FileNotFound(path, rev)},
			scm.Rule{Substr: "not found", Make: backends.FileNotFound(path, rev)},
			scm.Rule{Substr: "no file", Make: backends.FileNotFound(path, rev)},
		)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev, Detail: err.Error()}
	}

	return content, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client. Each revision in the changeset is a
// line of "<changeset> <owner> <revid> <item>"; the comment is fetched
// separately.
func (c *Client) GetChangeSet(ctx context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	repoQuote := "'" + c.spec.Repository() + "'"

	res, err := c.run(ctx, "find", "revs", "where", "changeset="+id, "on", "repository", repoQuote,
		"--format={changeset} {owner} {id} {item}", "--nototal")
	if err != nil {
		return nil, c.failure(res, err)
	}

	var (
		user  string
		files []string
	)

	for line := range strings.SplitSeq(strings.ReplaceAll(string(res.Stdout), "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}

		m := changeRe.FindStringSubmatch(line)
		if m == nil {
			c.logger.DebugContext(ctx, "unparseable changeset line", "line", line)

			return nil, scm.NewError("error looking up changeset %s", id)
		}

		if m[1] != id {
			return nil, scm.NewError("the server returned changeset %s instead of %s", m[1], id)
		}

		user = m[2]
		files = append(files, m[4])
	}

	if len(files) == 0 && !allowEmpty {
		return nil, &scm.EmptyChangeSetError{ChangeNum: id}
	}

	res, err = c.run(ctx, "find", "changesets", "where", "changesetid="+id, "on", "repository", repoQuote,
		"--format={comment}", "--nototal")
	if err != nil {
		return nil, c.failure(res, err)
	}

	comment, err := backends.DecodeText(res.Stdout, c.repo.Encoding)
	if err != nil {
		return nil, scm.Wrap(err)
	}

	return scm.NewChangeSet(id, user, strings.TrimSpace(comment), files, false), nil
}

// ParseDiffRevision implements scm.Client. Revisions are cm revision
// specifiers; the unknown revision marks an added file.
func (c *Client) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	revision = strings.TrimSpace(revision)

	switch revision {
	case scm.PreCreation.String(), UnknownRevision:
		return filename, scm.PreCreation, nil
	case "":
		return filename, scm.Revision{}, &scm.InvalidRevisionFormatError{Path: filename, Revision: revision}
	}

	return filename, scm.NewRevision(revision), nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.logger)
}
