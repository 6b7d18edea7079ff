//go:build !nogit

package git_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/git"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// fixture is a scratch repository built with libgit2.
type fixture struct {
	t      *testing.T
	path   string
	native *git2go.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	repo, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)
	t.Cleanup(repo.Free)

	return &fixture{t: t, path: dir, native: repo}
}

func (f *fixture) write(name, content string) {
	f.t.Helper()

	path := filepath.Join(f.path, name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) commit(message string) string {
	f.t.Helper()

	index, err := f.native.Index()
	require.NoError(f.t, err)

	defer index.Free()

	require.NoError(f.t, index.AddAll([]string{"*"}, git2go.IndexAddDefault, nil))
	require.NoError(f.t, index.UpdateAll([]string{"*"}, nil))
	require.NoError(f.t, index.Write())

	treeID, err := index.WriteTree()
	require.NoError(f.t, err)

	tree, err := f.native.LookupTree(treeID)
	require.NoError(f.t, err)

	defer tree.Free()

	sig := &git2go.Signature{Name: "Grace Hopper", Email: "grace@example.com", When: time.Now()}

	var parents []*git2go.Commit

	if head, headErr := f.native.Head(); headErr == nil {
		parent, lookupErr := f.native.LookupCommit(head.Target())
		require.NoError(f.t, lookupErr)

		parents = append(parents, parent)

		head.Free()
	}

	oid, err := f.native.CreateCommit("HEAD", sig, sig, message, tree, parents...)
	require.NoError(f.t, err)

	for _, parent := range parents {
		parent.Free()
	}

	return oid.String()
}

func (f *fixture) blobID(content string) string {
	f.t.Helper()

	oid, err := f.native.CreateBlobFromBuffer([]byte(content))
	require.NoError(f.t, err)

	return oid.String()
}

func newClient(t *testing.T, path string) *git.Client {
	t.Helper()

	client, err := git.New(&scm.RepositoryConfig{Path: path}, backends.Env{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestCheckRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, newClient(t, f.path).CheckRepository(context.Background()))

	f.write("README", "hi\n")
	f.commit("initial")
	require.NoError(t, newClient(t, f.path).CheckRepository(context.Background()))

	missing := newClient(t, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, missing.CheckRepository(context.Background()), scm.ErrRepositoryNotFound)
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write("src/app.go", "package app\n")
	f.commit("initial")

	client := newClient(t, f.path)
	ctx := context.Background()
	id := f.blobID("package app\n")

	for _, rev := range []scm.Revision{scm.NewRevision(id), scm.NewRevision(id[:7]), scm.Head} {
		content, err := client.GetFile(ctx, "src/app.go", rev)
		require.NoError(t, err, rev.String())
		assert.Equal(t, "package app\n", string(content))
	}

	_, err := client.GetFile(ctx, "src/gone.go", scm.Head)
	require.ErrorIs(t, err, scm.ErrFileNotFound)

	exists, err := client.FileExists(ctx, "src/app.go", scm.NewRevision("deadbeef"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetFile_PreCreationSkipsRepository(t *testing.T) {
	t.Parallel()

	client := newClient(t, filepath.Join(t.TempDir(), "not-a-repo"))

	content, err := client.GetFile(context.Background(), "new.go", scm.PreCreation)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestGetFile_AfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write("a.txt", "a\n")
	f.commit("initial")

	client := newClient(t, f.path)
	require.NoError(t, client.Close())

	_, err := client.GetFile(context.Background(), "a.txt", scm.Head)
	assert.ErrorIs(t, err, scm.ErrSCM)
}

func TestGetChangeSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write("main.go", "package main\n")
	f.commit("initial")
	f.write("main.go", "package main\n\nfunc main() {}\n")
	f.write("docs/guide.md", "# Guide\n")
	id := f.commit("Add a guide and an entry point\n\nLonger explanation here.\n")

	client := newClient(t, f.path)

	cs, err := client.GetChangeSet(context.Background(), id[:8], false)
	require.NoError(t, err)
	assert.Equal(t, id, cs.ChangeNum)
	assert.Equal(t, "Grace Hopper", cs.Username)
	assert.Equal(t, "Add a guide and an entry point", cs.Summary)
	assert.ElementsMatch(t, []string{"main.go", "docs/guide.md"}, cs.Files)
	assert.False(t, cs.Pending)

	_, err = client.GetChangeSet(context.Background(), "feedface", false)
	assert.ErrorIs(t, err, scm.ErrSCM)
}

func TestGetChangeSet_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write("main.go", "package main\n")
	f.commit("initial")
	id := f.commit("nothing changed")

	client := newClient(t, f.path)

	_, err := client.GetChangeSet(context.Background(), id, false)
	require.ErrorIs(t, err, scm.ErrEmptyChangeSet)

	cs, err := client.GetChangeSet(context.Background(), id, true)
	require.NoError(t, err)
	assert.Empty(t, cs.Files)
}

func TestParseDiffRevision(t *testing.T) {
	t.Parallel()

	client := newClient(t, t.TempDir())

	tests := []struct {
		name     string
		filename string
		revision string
		wantFile string
		want     scm.Revision
		wantErr  error
	}{
		{"blob id", "a/src/app.go", "3b18e51", "src/app.go", scm.NewRevision("3b18e51"), nil},
		{"null id", "b/new.go", "0000000", "new.go", scm.PreCreation, nil},
		{"pre-creation label", "new.go", "PRE-CREATION", "new.go", scm.PreCreation, nil},
		{"no id", "a/mode.sh", "", "mode.sh", scm.Head, nil},
		{"not hex", "a/x", "r123", "x", scm.Revision{}, scm.ErrInvalidRevisionFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			file, rev, err := client.ParseDiffRevision(context.Background(), tt.filename, tt.revision)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantFile, file)
			assert.Equal(t, tt.want, rev)
		})
	}
}

func TestParser(t *testing.T) {
	t.Parallel()

	diff := "diff --git a/src/app.go b/src/app.go\n" +
		"index 3b18e51..a1b2c3d 100644\n" +
		"--- a/src/app.go\n" +
		"+++ b/src/app.go\n" +
		"@@ -1 +1,2 @@\n" +
		" package app\n" +
		"+var x = 1\n" +
		"diff --git a/new file.txt b/new file.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..e69de29\n" +
		"diff --git a/old.go b/old.go\n" +
		"deleted file mode 100644\n" +
		"index 4444444..0000000\n" +
		"--- a/old.go\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-package old\n" +
		"diff --git a/before.go b/after.go\n" +
		"similarity index 100%\n" +
		"rename from before.go\n" +
		"rename to after.go\n" +
		"diff --git a/logo.png b/logo.png\n" +
		"index 5555555..6666666 100644\n" +
		"Binary files a/logo.png and b/logo.png differ\n"

	client := newClient(t, t.TempDir())

	files, err := client.Parser([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 5)

	assert.Equal(t, "src/app.go", files[0].OrigFilename)
	assert.Equal(t, "3b18e51", files[0].OrigFileDetails)
	assert.Equal(t, "a1b2c3d", files[0].ModifiedFileDetails)
	assert.Equal(t, 1, files[0].InsertCount)

	assert.Equal(t, "new file.txt", files[1].OrigFilename)
	assert.Equal(t, "PRE-CREATION", files[1].OrigFileDetails)

	assert.True(t, files[2].Deleted)
	assert.Equal(t, 1, files[2].DeleteCount)

	assert.True(t, files[3].Moved)
	assert.Equal(t, "before.go", files[3].OrigFilename)
	assert.Equal(t, "after.go", files[3].ModifiedFilename)

	assert.True(t, files[4].Binary)
	assert.Equal(t, "6666666", files[4].ModifiedFileDetails)
}
