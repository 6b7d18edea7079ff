//go:build !nogit

// Package git implements a read-only backend for local git repositories
// through libgit2.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/gitlib"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// Client is a git repository client. The repository is opened on first use
// and held until Close.
type Client struct {
	repo   *scm.RepositoryConfig
	logger *slog.Logger

	mu   sync.Mutex
	git  *gitlib.Repository
	done bool
}

var _ scm.Client = (*Client)(nil)

// New returns a git client for the repository at repo.Path.
func New(repo *scm.RepositoryConfig, env backends.Env) (*Client, error) {
	env = env.WithDefaults()

	if strings.TrimSpace(repo.Path) == "" {
		return nil, &scm.RepositoryNotFoundError{Detail: "no repository path configured"}
	}

	return &Client{
		repo:   repo,
		logger: env.Logger.With("backend", scm.BackendGit, "repository", repo.Path),
	}, nil
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendGit }

// Close implements scm.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done = true

	if c.git != nil {
		c.git.Free()
		c.git = nil
	}

	return nil
}

func (c *Client) open() (*gitlib.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, scm.NewError("client for %s is closed", c.repo.Path)
	}

	if c.git != nil {
		return c.git, nil
	}

	repo, err := gitlib.OpenRepository(c.repo.Path)
	if err != nil {
		return nil, &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: err.Error()}
	}

	c.git = repo

	return repo, nil
}

// CheckRepository implements scm.Client.
func (c *Client) CheckRepository(ctx context.Context) error {
	repo, err := c.open()
	if err != nil {
		return err
	}

	head, err := repo.Head()
	if err != nil {
		c.logger.DebugContext(ctx, "repository has no HEAD commit", "error", err)

		return nil
	}

	c.logger.DebugContext(ctx, "repository opened", "head", head.String(), "bare", repo.IsBare())

	return nil
}

// GetFile implements scm.Client. Native revisions are blob ids as written
// on diff index lines; HEAD reads path from the HEAD commit.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	repo, err := c.open()
	if err != nil {
		return nil, err
	}

	spec := rev.Value()
	if rev.IsHead() || rev.IsZero() {
		spec = "HEAD:" + strings.TrimPrefix(path, "/")
	}

	content, err := repo.BlobContents(spec)
	if err != nil {
		if errors.Is(err, gitlib.ErrNotFound) || errors.Is(err, gitlib.ErrNotBlob) {
			return nil, &scm.FileNotFoundError{Path: path, Revision: rev, Detail: err.Error()}
		}

		if errors.Is(err, gitlib.ErrAmbiguous) {
			return nil, &scm.InvalidRevisionFormatError{Path: path, Revision: rev.String(), Detail: err.Error()}
		}

		return nil, scm.Wrap(err)
	}

	c.logger.DebugContext(ctx, "read blob", "path", path, "revision", rev.String(), "size", len(content))

	return content, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client. id is any commit-ish; the files are
// those changed relative to the first parent.
func (c *Client) GetChangeSet(_ context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	repo, err := c.open()
	if err != nil {
		return nil, err
	}

	info, err := repo.Commit(id)
	if err != nil {
		if errors.Is(err, gitlib.ErrNotFound) || errors.Is(err, gitlib.ErrAmbiguous) {
			return nil, &scm.Error{Msg: fmt.Sprintf("unknown commit %s", id), Err: err}
		}

		return nil, scm.Wrap(err)
	}

	changes, err := repo.CommitChanges(info.Hash.String())
	if err != nil {
		return nil, scm.Wrap(err)
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		files = append(files, change.Path())
	}

	if len(files) == 0 && !allowEmpty {
		return nil, &scm.EmptyChangeSetError{ChangeNum: info.Hash.String()}
	}

	return scm.NewChangeSet(info.Hash.String(), info.Author.Name, strings.TrimSpace(info.Message), files, false), nil
}

// ParseDiffRevision implements scm.Client. Filenames lose their a/ or b/
// prefix; a null blob id marks a file absent on that side.
func (c *Client) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	filename = StripPrefix(filename)
	revision = strings.TrimSpace(revision)

	switch {
	case revision == scm.PreCreation.String() || gitlib.IsNullID(revision):
		return filename, scm.PreCreation, nil
	case revision == "" || revision == scm.Head.String():
		return filename, scm.Head, nil
	case !isHex(revision):
		return filename, scm.Revision{}, &scm.InvalidRevisionFormatError{Path: filename, Revision: revision}
	}

	return filename, scm.NewRevision(revision), nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.logger)
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}

	return true
}
