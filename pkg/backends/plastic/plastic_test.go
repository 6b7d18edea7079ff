package plastic_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/plastic"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner/runnertest"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const repoPath = "codebase@plastic.example.com:8087"

func newClient(t *testing.T, fake *runnertest.Fake) *plastic.Client {
	t.Helper()

	client, err := plastic.New(&scm.RepositoryConfig{Path: repoPath}, backends.Env{Runner: fake})
	require.NoError(t, err)

	return client
}

// writeFileArg emulates "cm cat ... --file=<path>".
func writeFileArg(content string) runnertest.Response {
	return runnertest.Response{Do: func(cmd runner.Command) error {
		for _, arg := range cmd.Args {
			if target, ok := strings.CutPrefix(arg, "--file="); ok {
				return os.WriteFile(target, []byte(content), 0o600)
			}
		}

		return nil
	}}
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	spec, err := plastic.ParseSpec(repoPath)
	require.NoError(t, err)
	assert.Equal(t, plastic.Spec{Name: "codebase", Host: "plastic.example.com", Port: "8087"}, spec)
	assert.Equal(t, "plastic.example.com:8087", spec.Server())
	assert.Equal(t, "rep:codebase@repserver:plastic.example.com:8087", spec.Repository())

	for _, bad := range []string{"codebase", "@host:1", "codebase@host", "codebase@host:port"} {
		_, err := plastic.ParseSpec(bad)
		assert.ErrorIs(t, err, scm.ErrRepositoryNotFound, bad)
	}
}

func TestCheckRepository(t *testing.T) {
	t.Parallel()

	listing := "  1 default  plastic.example.com:8087\n  2 codebase plastic.example.com:8087\n"

	fake := runnertest.New().On(runnertest.Response{Stdout: listing}, "listrepositories")
	require.NoError(t, newClient(t, fake).CheckRepository(context.Background()))
	assert.Equal(t, "cm listrepositories plastic.example.com:8087", fake.LastCall())

	other := runnertest.New().On(runnertest.Response{Stdout: "  1 default  plastic.example.com:8087\n"},
		"listrepositories")
	assert.ErrorIs(t, newClient(t, other).CheckRepository(context.Background()), scm.ErrRepositoryNotFound)

	stdoutErr := runnertest.New().On(runnertest.Response{Stdout: "Error: the server is unavailable\n"},
		"listrepositories")
	assert.ErrorIs(t, newClient(t, stdoutErr).CheckRepository(context.Background()), scm.ErrRepositoryNotFound)
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(writeFileArg("line one\nline two\n"), "cat")
	client := newClient(t, fake)

	content, err := client.GetFile(context.Background(), "/src/main.c", scm.NewRevision("rev:revid:42"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(content))

	args := fake.Calls()[0].Args
	require.Len(t, args, 3)
	assert.Equal(t, "rev:revid:42@rep:codebase@repserver:plastic.example.com:8087", args[1])

	target := strings.TrimPrefix(args[2], "--file=")
	assert.NoDirExists(t, filepath.Dir(target))
}

func TestGetFile_NewFileRevisions(t *testing.T) {
	t.Parallel()

	fake := runnertest.New()
	client := newClient(t, fake)

	for _, rev := range []scm.Revision{scm.PreCreation, scm.NewRevision(plastic.UnknownRevision)} {
		content, err := client.GetFile(context.Background(), "/src/new.c", rev)
		require.NoError(t, err)
		assert.Empty(t, content)
	}

	assert.Zero(t, fake.CallCount())
}

func TestGetFile_NotFound(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{
		ExitCode: 1,
		Stderr:   "The revision rev:revid:999 does not exist.",
	}, "cat")

	exists, err := newClient(t, fake).FileExists(context.Background(), "/src/x.c", scm.NewRevision("rev:revid:999"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetChangeSet(t *testing.T) {
	t.Parallel()

	revs := "57 alice 120 /src/main.c\r\n57 alice 121 /src/util/strings.c\r\n"
	fake := runnertest.New().
		On(runnertest.Response{Stdout: revs}, "revs").
		On(runnertest.Response{Stdout: "Fix string handling\n\nDetails follow.\n"}, "changesets")

	cs, err := newClient(t, fake).GetChangeSet(context.Background(), "57", false)
	require.NoError(t, err)
	assert.Equal(t, "57", cs.ChangeNum)
	assert.Equal(t, "alice", cs.Username)
	assert.Equal(t, "Fix string handling", cs.Summary)
	assert.Equal(t, []string{"/src/main.c", "/src/util/strings.c"}, cs.Files)

	first := fake.Calls()[0].Args
	assert.Contains(t, first, "changeset=57")
	assert.Contains(t, first, "'rep:codebase@repserver:plastic.example.com:8087'")
	assert.Contains(t, first, "--format={changeset} {owner} {id} {item}")
}

func TestGetChangeSet_WrongID(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{Stdout: "58 bob 1 /x\n"}, "revs")

	_, err := newClient(t, fake).GetChangeSet(context.Background(), "57", false)
	require.ErrorIs(t, err, scm.ErrSCM)
	assert.Contains(t, err.Error(), "58")
}

func TestGetChangeSet_Empty(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{}, "revs")

	_, err := newClient(t, fake).GetChangeSet(context.Background(), "60", false)
	assert.ErrorIs(t, err, scm.ErrEmptyChangeSet)
}

func TestParseDiffRevision(t *testing.T) {
	t.Parallel()

	client := newClient(t, runnertest.New())
	ctx := context.Background()

	_, rev, err := client.ParseDiffRevision(ctx, "/a.c", "rev:revid:-1")
	require.NoError(t, err)
	assert.True(t, rev.IsPreCreation())

	_, rev, err = client.ParseDiffRevision(ctx, "/a.c", "rev:revid:77")
	require.NoError(t, err)
	assert.Equal(t, scm.NewRevision("rev:revid:77"), rev)

	_, _, err = client.ParseDiffRevision(ctx, "/a.c", " ")
	assert.ErrorIs(t, err, scm.ErrInvalidRevisionFormat)
}

func TestParser(t *testing.T) {
	t.Parallel()

	diff := "==== /img/logo.png (rev:revid:12) ==C==\n" +
		"Binary files /img/logo.png and /img/logo.png differ\n" +
		"==== /src/old.c (rev:revid:13) ==R==\n" +
		"==== /src/moved.c (rev:revid:14) ==M==\n" +
		"@@ -1 +1 @@\n" +
		"-a\n" +
		"+b\n"

	files, err := plastic.NewParser([]byte(diff), nil).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.True(t, files[0].Binary)
	assert.Equal(t, "/img/logo.png", files[0].OrigFilename)
	assert.Equal(t, "rev:revid:12", files[0].OrigFileDetails)
	assert.Equal(t, "/img/logo.png", files[0].ModifiedFilename)

	assert.True(t, files[1].Deleted)
	assert.True(t, files[2].Moved)
	assert.Equal(t, 1, files[2].InsertCount)
}
