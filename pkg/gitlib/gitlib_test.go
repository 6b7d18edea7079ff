//go:build !nogit

package gitlib_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/gitlib"
)

// testRepo wraps a scratch repository built with libgit2.
type testRepo struct {
	t      *testing.T
	path   string
	native *git2go.Repository
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	dir := t.TempDir()

	repo, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)
	t.Cleanup(repo.Free)

	return &testRepo{t: t, path: dir, native: repo}
}

func (tr *testRepo) writeFile(name, content string) {
	tr.t.Helper()

	path := filepath.Join(tr.path, name)
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(tr.t, os.WriteFile(path, []byte(content), 0o644))
}

func (tr *testRepo) deleteFile(name string) {
	tr.t.Helper()

	require.NoError(tr.t, os.Remove(filepath.Join(tr.path, name)))
}

// commit stages the whole working tree and commits it on HEAD.
func (tr *testRepo) commit(message string) gitlib.Hash {
	tr.t.Helper()

	index, err := tr.native.Index()
	require.NoError(tr.t, err)

	defer index.Free()

	require.NoError(tr.t, index.AddAll([]string{"*"}, git2go.IndexAddDefault, nil))
	require.NoError(tr.t, index.UpdateAll([]string{"*"}, nil))
	require.NoError(tr.t, index.Write())

	treeID, err := index.WriteTree()
	require.NoError(tr.t, err)

	tree, err := tr.native.LookupTree(treeID)
	require.NoError(tr.t, err)

	defer tree.Free()

	sig := &git2go.Signature{Name: "Ada Lovelace", Email: "ada@example.com", When: time.Now()}

	var parents []*git2go.Commit

	if head, headErr := tr.native.Head(); headErr == nil {
		parent, lookupErr := tr.native.LookupCommit(head.Target())
		require.NoError(tr.t, lookupErr)

		parents = append(parents, parent)

		head.Free()
	}

	oid, err := tr.native.CreateCommit("HEAD", sig, sig, message, tree, parents...)
	require.NoError(tr.t, err)

	for _, parent := range parents {
		parent.Free()
	}

	return gitlib.HashFromOid(oid)
}

func (tr *testRepo) blobID(content string) string {
	tr.t.Helper()

	oid, err := tr.native.CreateBlobFromBuffer([]byte(content))
	require.NoError(tr.t, err)

	return oid.String()
}

func open(t *testing.T, path string) *gitlib.Repository {
	t.Helper()

	repo, err := gitlib.OpenRepository(path)
	require.NoError(t, err)
	t.Cleanup(repo.Free)

	return repo
}

func TestOpenRepository_NotFound(t *testing.T) {
	t.Parallel()

	_, err := gitlib.OpenRepository(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, gitlib.ErrNotFound)
}

func TestBlobContents(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	tr.writeFile("docs/readme.txt", "hello\n")
	tr.commit("initial")

	repo := open(t, tr.path)
	id := tr.blobID("hello\n")

	for _, spec := range []string{id, id[:7], "HEAD:docs/readme.txt"} {
		content, err := repo.BlobContents(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, "hello\n", string(content), spec)
	}

	_, err := repo.BlobContents("HEAD:docs/missing.txt")
	require.ErrorIs(t, err, gitlib.ErrNotFound)

	_, err = repo.BlobContents("HEAD:docs")
	require.ErrorIs(t, err, gitlib.ErrNotBlob)
}

func TestBlobContents_Closed(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	tr.writeFile("a.txt", "a")
	tr.commit("initial")

	repo, err := gitlib.OpenRepository(tr.path)
	require.NoError(t, err)
	repo.Free()

	_, err = repo.BlobContents("HEAD:a.txt")
	assert.ErrorIs(t, err, gitlib.ErrClosed)
}

func TestCommitAndChanges(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	tr.writeFile("main.go", "package main\n")
	tr.writeFile("notes.txt", "first draft of some notes that stay the same\nline two\nline three\n")
	root := tr.commit("initial import")

	tr.writeFile("main.go", "package main\n\nfunc main() {}\n")
	tr.writeFile("util.go", "package util\n\nconst Answer = 42\n")
	tr.deleteFile("notes.txt")
	second := tr.commit("Add util\n\nAnd drop the notes.")

	repo := open(t, tr.path)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, second, head)

	info, err := repo.Commit(second.String()[:10])
	require.NoError(t, err)
	assert.Equal(t, second, info.Hash)
	assert.Equal(t, "Ada Lovelace", info.Author.Name)
	assert.Equal(t, "Add util\n\nAnd drop the notes.", info.Message)
	assert.Equal(t, []gitlib.Hash{root}, info.Parents)

	changes, err := repo.CommitChanges(second.String())
	require.NoError(t, err)

	byPath := map[string]gitlib.ChangeAction{}
	for _, c := range changes {
		byPath[c.Path()] = c.Action
	}

	assert.Equal(t, map[string]gitlib.ChangeAction{
		"main.go":   gitlib.Modify,
		"util.go":   gitlib.Insert,
		"notes.txt": gitlib.Delete,
	}, byPath)

	rootChanges, err := repo.CommitChanges(root.String())
	require.NoError(t, err)
	assert.Len(t, rootChanges, 2)
}

func TestParseHash(t *testing.T) {
	t.Parallel()

	const id = "0123456789abcdef0123456789abcdef01234567"

	h, err := gitlib.ParseHash(id)
	require.NoError(t, err)
	assert.Equal(t, id, h.String())
	assert.False(t, h.IsZero())
	assert.Equal(t, h, gitlib.HashFromOid(h.ToOid()))

	_, err = gitlib.ParseHash("0123")
	require.ErrorIs(t, err, gitlib.ErrInvalidHash)

	_, err = gitlib.ParseHash("zz23456789abcdef0123456789abcdef01234567")
	require.ErrorIs(t, err, gitlib.ErrInvalidHash)
}

func TestIsNullID(t *testing.T) {
	t.Parallel()

	assert.True(t, gitlib.IsNullID("0000000"))
	assert.True(t, gitlib.IsNullID("0000000000000000000000000000000000000000"))
	assert.False(t, gitlib.IsNullID(""))
	assert.False(t, gitlib.IsNullID("0000001"))
}
