package cvs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/cvs"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner/runnertest"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

const pserverPath = ":pserver:anon@cvs.example.com:2401/cvsroot/proj"

func newClient(t *testing.T, fake *runnertest.Fake, path string) *cvs.Client {
	t.Helper()

	client, err := cvs.New(&scm.RepositoryConfig{Path: path, Password: "pw"}, backends.Env{
		Runner: fake,
		RBSSH:  sshutil.RBSSH{Command: "/usr/bin/rbssh", SSHDir: "/data/ssh"},
	})
	require.NoError(t, err)

	return client
}

func TestParseRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		user     string
		password string
		want     string
		repo     string
	}{
		{"pserver with port", ":pserver:anon@cvs.example.com:2401/cvsroot/proj", "", "", ":pserver:anon@cvs.example.com:2401/cvsroot/proj", "/cvsroot/proj"},
		{"credentials override", ":pserver:anon:old@cvs.example.com:/cvsroot", "bob", "new", ":pserver:bob:new@cvs.example.com:/cvsroot", "/cvsroot"},
		{"default protocol", "cvs.example.com:/cvsroot", "bob", "", ":pserver:bob@cvs.example.com:/cvsroot", "/cvsroot"},
		{"ext", ":ext:alice@cvs.example.com:/srv/cvs", "", "", ":ext:alice@cvs.example.com:/srv/cvs", "/srv/cvs"},
		{"local", ":local:/var/cvs", "", "", ":local:/var/cvs", "/var/cvs"},
		{"plain directory", "/var/cvs", "ignored", "", "/var/cvs", "/var/cvs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root, err := cvs.ParseRoot(tt.path, tt.user, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, root.String())
			assert.Equal(t, tt.repo, root.Path)
		})
	}
}

func TestParseRoot_Invalid(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", "not a root", ":pserver:host-without-path"} {
		_, err := cvs.ParseRoot(path, "", "")
		assert.ErrorIs(t, err, cvs.ErrInvalidRoot, path)
	}
}

func TestNormalizeRCSPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "module/foo.c", cvs.NormalizeRCSPath("/cvsroot/proj/module/foo.c,v", "/cvsroot/proj"))
	assert.Equal(t, "module/gone.c", cvs.NormalizeRCSPath("/cvsroot/proj/module/Attic/gone.c,v", "/cvsroot/proj/"))
	assert.Equal(t, "top.c", cvs.NormalizeRCSPath("Attic/top.c,v", ""))
	assert.Equal(t, "/elsewhere/x.c", cvs.NormalizeRCSPath("/elsewhere/x.c,v", "/cvsroot/proj"))
}

func TestParser_ModifiedFile(t *testing.T) {
	t.Parallel()

	diff := "Index: module/foo.c\n" +
		"===================================================================\n" +
		"RCS file: /cvsroot/proj/module/foo.c,v\n" +
		"retrieving revision 1.3\n" +
		"diff -u -r1.3 foo.c\n" +
		"--- module/foo.c\t8 Dec 2020 10:00:00 -0000\t1.3\n" +
		"+++ module/foo.c\t9 Dec 2020 11:00:00 -0000\n" +
		"@@ -1 +1,2 @@\n" +
		" a\n" +
		"+b\n"

	files, err := cvs.NewParser([]byte(diff), "/cvsroot/proj", nil).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "module/foo.c", f.OrigFilename)
	assert.Equal(t, "8 Dec 2020 10:00:00 -0000\t1.3", f.OrigFileDetails)
	assert.Equal(t, "module/foo.c", f.ModifiedFilename)
	assert.Equal(t, 1, f.InsertCount)
	assert.Zero(t, f.DeleteCount)
	assert.Equal(t, diff, string(f.Data))
}

func TestParser_AddedAndRemoved(t *testing.T) {
	t.Parallel()

	diff := "Index: module/new.c\n" +
		"===================================================================\n" +
		"RCS file: module/new.c\n" +
		"diff -N module/new.c\n" +
		"--- /dev/null\t1 Jan 1970 00:00:00 -0000\n" +
		"+++ module/new.c\t9 Dec 2020 11:00:00 -0000\n" +
		"@@ -0,0 +1 @@\n" +
		"+x\n" +
		"Index: module/old.c\n" +
		"===================================================================\n" +
		"RCS file: /cvsroot/proj/module/old.c,v\n" +
		"retrieving revision 1.7\n" +
		"diff -u -r1.7 old.c\n" +
		"--- module/old.c\t8 Dec 2020 10:00:00 -0000\t1.7\n" +
		"+++ /dev/null\t1 Jan 1970 00:00:00 -0000\n" +
		"@@ -1 +0,0 @@\n" +
		"-y\n"

	files, err := cvs.NewParser([]byte(diff), "/cvsroot/proj", nil).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	added := files[0]
	assert.Equal(t, "module/new.c", added.OrigFilename)
	assert.Equal(t, "PRE-CREATION", added.OrigFileDetails)
	assert.False(t, added.Deleted)

	removed := files[1]
	assert.True(t, removed.Deleted)
	assert.Equal(t, "module/old.c", removed.OrigFilename)
	assert.Equal(t, "module/old.c", removed.ModifiedFilename)
	assert.Equal(t, 1, removed.DeleteCount)
}

func TestParser_Binary(t *testing.T) {
	t.Parallel()

	diff := "Index: img/logo.png\n" +
		"===================================================================\n" +
		"RCS file: /cvsroot/proj/img/logo.png,v\n" +
		"retrieving revision 1.2\n" +
		"diff -u -r1.2 logo.png\n" +
		"Binary files /tmp/cvsAbc and logo.png differ\n"

	files, err := cvs.NewParser([]byte(diff), "/cvsroot/proj", nil).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.True(t, files[0].Binary)
	assert.Equal(t, "img/logo.png", files[0].OrigFilename)
	assert.Equal(t, "1.2", files[0].OrigFileDetails)
	assert.Equal(t, "img/logo.png", files[0].ModifiedFilename)
}

func TestParseDiffRevision(t *testing.T) {
	t.Parallel()

	client := newClient(t, runnertest.New(), pserverPath)
	ctx := context.Background()

	_, rev, err := client.ParseDiffRevision(ctx, "foo.c", "8 Dec 2020 10:00:00 -0000\t1.3")
	require.NoError(t, err)
	assert.Equal(t, scm.NewRevision("1.3"), rev)

	_, rev, err = client.ParseDiffRevision(ctx, "foo.c", "1.2.4.1\r")
	require.NoError(t, err)
	assert.Equal(t, scm.NewRevision("1.2.4.1"), rev)

	_, rev, err = client.ParseDiffRevision(ctx, "foo.c", "PRE-CREATION")
	require.NoError(t, err)
	assert.True(t, rev.IsPreCreation())

	_, _, err = client.ParseDiffRevision(ctx, "foo.c", "(working copy)")
	assert.ErrorIs(t, err, scm.ErrInvalidRevisionFormat)
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{Stdout: "int x;\n"}, "checkout")
	client := newClient(t, fake, pserverPath)

	content, err := client.GetFile(context.Background(), "/cvsroot/proj/module/foo.c,v", scm.NewRevision("1.3"))
	require.NoError(t, err)
	assert.Equal(t, "int x;\n", string(content))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"-f", "-Q", "-d", ":pserver:anon:pw@cvs.example.com:2401/cvsroot/proj",
		"checkout", "-p", "-r", "1.3", "module/foo.c",
	}, calls[0].Args)
	assert.NotContains(t, calls[0].String(), ":pw@")
	assert.Empty(t, calls[0].Env)
}

func TestGetFile_PreCreationDoesNotRun(t *testing.T) {
	t.Parallel()

	fake := runnertest.New()
	client := newClient(t, fake, pserverPath)

	content, err := client.GetFile(context.Background(), "module/foo.c", scm.PreCreation)
	require.NoError(t, err)
	assert.Empty(t, content)
	assert.Zero(t, fake.CallCount())
}

func TestGetFile_NotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp runnertest.Response
	}{
		{"exit zero", runnertest.Response{Stderr: "cvs checkout: cannot find module `nope.c' - ignored"}},
		{"exit one", runnertest.Response{ExitCode: 1, Stderr: "cvs [checkout aborted]: nope.c is not in repository"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newClient(t, runnertest.New().On(tt.resp, "checkout"), pserverPath)

			exists, err := client.FileExists(context.Background(), "module/nope.c", scm.Head)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = client.GetFile(context.Background(), "module/nope.c", scm.Head)
			assert.ErrorIs(t, err, scm.ErrFileNotFound)
		})
	}
}

func TestExtRootUsesRBSSH(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{Stdout: "x"}, "checkout")
	client := newClient(t, fake, ":ext:alice@cvs.example.com:/srv/cvs")

	_, err := client.GetFile(context.Background(), "module/foo.c", scm.Head)
	require.NoError(t, err)

	cmd := fake.Calls()[0]
	assert.Equal(t, "/usr/bin/rbssh", runnertest.EnvOf(cmd, "CVS_RSH"))
	assert.Equal(t, "/data/ssh", runnertest.EnvOf(cmd, sshutil.EnvSSHDir))
	assert.NotContains(t, cmd.Args, "-r")
}

func TestCheckRepository(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{Stdout: "# modules\n"}, "CVSROOT/modules")
	require.NoError(t, newClient(t, fake, pserverPath).CheckRepository(context.Background()))

	failing := runnertest.New().On(runnertest.Response{
		ExitCode: 1,
		Stderr:   "cvs [checkout aborted]: connect to cvs.example.com(10.0.0.1):2401 failed: Connection refused",
	}, "checkout")

	err := newClient(t, failing, pserverPath).CheckRepository(context.Background())
	require.ErrorIs(t, err, scm.ErrRepositoryNotFound)
}

func TestCheckRepository_AuthFailure(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On(runnertest.Response{
		ExitCode: 1,
		Stderr:   "cvs [checkout aborted]: authorization failed: server cvs.example.com rejected access",
	}, "checkout")

	err := newClient(t, fake, pserverPath).CheckRepository(context.Background())
	assert.ErrorIs(t, err, scm.ErrAuthentication)
}

func TestGetChangeSetUnsupported(t *testing.T) {
	t.Parallel()

	_, err := newClient(t, runnertest.New(), pserverPath).GetChangeSet(context.Background(), "1", false)
	require.ErrorIs(t, err, scm.ErrUnsupported)
	assert.ErrorIs(t, err, scm.ErrSCM)
}
