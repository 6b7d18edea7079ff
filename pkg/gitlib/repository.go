//go:build !nogit

package gitlib

import (
	"errors"
	"fmt"
	"sync"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// Lookup errors.
var (
	ErrNotFound    = errors.New("object not found")
	ErrAmbiguous   = errors.New("ambiguous object id")
	ErrInvalidHash = errors.New("invalid object id")
	ErrNotBlob     = errors.New("object is not a file")
	ErrClosed      = errors.New("repository closed")
)

// Signature represents a git signature (author/committer).
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitInfo is the metadata of one commit.
type CommitInfo struct {
	Hash    Hash
	Author  Signature
	Message string
	Parents []Hash
}

// Repository wraps a libgit2 repository. libgit2 objects are not shared
// between goroutines, so every call holds the repository lock.
type Repository struct {
	mu   sync.Mutex
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", classify(err))
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// IsBare reports whether the repository has no working tree.
func (r *Repository) IsBare() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.repo != nil && r.repo.IsBare()
}

// Free releases the repository resources.
func (r *Repository) Free() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Head returns the commit HEAD points to.
func (r *Repository) Head() (Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return Hash{}, ErrClosed
	}

	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", classify(err))
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// BlobContents resolves spec with revparse syntax ("<id>", "<commit>:<path>")
// and returns the blob's content. Abbreviated ids are accepted.
func (r *Repository) BlobContents(spec string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, ErrClosed
	}

	obj, err := r.repo.RevparseSingle(spec)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec, classify(err))
	}
	defer obj.Free()

	if obj.Type() != git2go.ObjectBlob {
		return nil, fmt.Errorf("resolve %s: %w (%s)", spec, ErrNotBlob, obj.Type())
	}

	blob, err := obj.AsBlob()
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", classify(err))
	}
	defer blob.Free()

	return append([]byte(nil), blob.Contents()...), nil
}

// Commit resolves spec to a commit and returns its metadata.
func (r *Repository) Commit(spec string) (*CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commit, err := r.lookupCommit(spec)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	author := commit.Author()

	info := &CommitInfo{
		Hash:    HashFromOid(commit.Id()),
		Author:  Signature{Name: author.Name, Email: author.Email, When: author.When},
		Message: commit.Message(),
	}

	for i := range commit.ParentCount() {
		info.Parents = append(info.Parents, HashFromOid(commit.ParentId(i)))
	}

	return info, nil
}

func (r *Repository) lookupCommit(spec string) (*git2go.Commit, error) {
	if r.repo == nil {
		return nil, ErrClosed
	}

	obj, err := r.repo.RevparseSingle(spec)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec, classify(err))
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, fmt.Errorf("resolve %s to a commit: %w", spec, classify(err))
	}
	defer peeled.Free()

	commit, err := peeled.AsCommit()
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", classify(err))
	}

	return commit, nil
}

// classify maps libgit2 error codes onto this package's sentinels.
func classify(err error) error {
	switch {
	case git2go.IsErrorCode(err, git2go.ErrorCodeNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case git2go.IsErrorCode(err, git2go.ErrorCodeAmbiguous):
		return fmt.Errorf("%w: %w", ErrAmbiguous, err)
	default:
		return err
	}
}
