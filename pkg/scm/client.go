package scm

import (
	"context"
	"errors"
)

// FileDiff is one parsed per-file record of a diff.
type FileDiff struct {
	OrigFilename        string `json:"orig_filename"`
	OrigFileDetails     string `json:"orig_file_details"`
	ModifiedFilename    string `json:"modified_filename"`
	ModifiedFileDetails string `json:"modified_file_details"`
	Binary              bool   `json:"binary"`
	Deleted             bool   `json:"deleted"`
	Moved               bool   `json:"moved"`
	Copied              bool   `json:"copied"`
	InsertCount         int    `json:"insert_count"`
	DeleteCount         int    `json:"delete_count"`
	Data                []byte `json:"-"`
}

// DiffParser turns a diff bound at construction into per-file records.
type DiffParser interface {
	Parse(ctx context.Context) ([]*FileDiff, error)
}

// Client is the capability every backend implements.
//
// Revisions returned by ParseDiffRevision are always accepted by GetFile and
// FileExists on the same client.
type Client interface {
	// Backend identifies the implementation.
	Backend() BackendID

	// CheckRepository probes connectivity and credentials. It never leaves
	// connections or processes behind.
	CheckRepository(ctx context.Context) error

	// GetFile returns the content of path at rev. PreCreation yields empty
	// content without contacting the backend.
	GetFile(ctx context.Context, path string, rev Revision) ([]byte, error)

	// FileExists reports whether path exists at rev.
	FileExists(ctx context.Context, path string, rev Revision) (bool, error)

	// GetChangeSet fetches changeset id. A changeset with no files yields an
	// *EmptyChangeSetError unless allowEmpty is set.
	GetChangeSet(ctx context.Context, id string, allowEmpty bool) (*ChangeSet, error)

	// ParseDiffRevision maps a diff header's filename and revision string to
	// a path and Revision.
	ParseDiffRevision(ctx context.Context, filename, revision string) (string, Revision, error)

	// Parser returns the backend's diff parser bound to data.
	Parser(data []byte) DiffParser

	// Close releases anything the client holds open.
	Close() error
}

// PendingLister is implemented by backends that track pending changesets.
type PendingLister interface {
	PendingChangeSets(ctx context.Context, user string) ([]*ChangeSet, error)
}

// DirectoryLister is implemented by backends that can list directory
// elements at a revision.
type DirectoryLister interface {
	ListDirectory(ctx context.Context, path string, rev Revision) ([]string, error)
}

// PathDisplayer is implemented by backends whose native paths carry
// information that does not belong in a user-facing filename.
type PathDisplayer interface {
	DisplayPath(path string) string
}

// FileExistsByFetch implements FileExists in terms of GetFile for backends
// without a cheaper existence query. Only not-found errors map to false.
func FileExistsByFetch(ctx context.Context, c Client, path string, rev Revision) (bool, error) {
	if rev.IsPreCreation() {
		return false, nil
	}

	_, err := c.GetFile(ctx, path, rev)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}

	return false, err
}
