package commands

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/config"
	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner/runnertest"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

// fakeClient serves files keyed by "path@revision".
type fakeClient struct {
	files      map[string]string
	changesets map[string]*scm.ChangeSet
	closed     bool
}

func (c *fakeClient) Backend() scm.BackendID { return scm.BackendPerforce }

func (c *fakeClient) CheckRepository(context.Context) error { return nil }

func (c *fakeClient) GetFile(_ context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return nil, nil
	}

	data, ok := c.files[path+"@"+rev.String()]
	if !ok {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev}
	}

	return []byte(data), nil
}

func (c *fakeClient) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

func (c *fakeClient) GetChangeSet(_ context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	cs, ok := c.changesets[id]
	if !ok {
		return nil, scm.NewError("change %s unknown", id)
	}

	if len(cs.Files) == 0 && !allowEmpty {
		return nil, &scm.EmptyChangeSetError{ChangeNum: id}
	}

	return cs, nil
}

func (c *fakeClient) ParseDiffRevision(_ context.Context, filename, revision string) (string, scm.Revision, error) {
	return filename, scm.ParseRevision(revision), nil
}

func (c *fakeClient) Parser(data []byte) scm.DiffParser { return diffparser.New(data) }

func (c *fakeClient) Close() error {
	c.closed = true

	return nil
}

type pendingClient struct {
	*fakeClient
	pending []*scm.ChangeSet
}

func (c *pendingClient) PendingChangeSets(_ context.Context, user string) ([]*scm.ChangeSet, error) {
	var out []*scm.ChangeSet

	for _, cs := range c.pending {
		if user == "" || cs.Username == user {
			out = append(out, cs)
		}
	}

	return out, nil
}

type displayClient struct {
	*fakeClient
}

func (c *displayClient) DisplayPath(path string) string {
	return strings.TrimPrefix(path, "//depot/")
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		files: map[string]string{
			"//depot/main.c@HEAD": "int a;\nint c;\n",
			"//depot/main.c@1":    "int a;\nint b;\n",
			"//depot/main.c@2":    "int a;\nint c;\n",
			"//depot/logo.png@1":  "\x89PNG\x00\x00",
			"//depot/logo.png@2":  "\x89PNG\x00\x01",
		},
		changesets: map[string]*scm.ChangeSet{
			"42": scm.NewChangeSet("42", "alice", "Fix the build\n\nDetails follow.",
				[]string{"//depot/main.c"}, false),
			"43": scm.NewChangeSet("43", "bob", "Nothing", nil, false),
		},
	}
}

type harness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	config string
}

const baseConfig = `command_timeout: 30s
max_file_size: 1KB
repositories:
  depot:
    backend: perforce
    path: perforce.example.com:1666
`

func newHarness(t *testing.T, client scm.Client) *harness {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "scmkit.yaml")
	content := "data_dir: " + dir + "\nssh:\n  dir: " + filepath.Join(dir, "ssh") + "\n" + baseConfig
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	h := &harness{app: newApp(), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, config: configPath}
	h.app.stdout = h.stdout
	h.app.stderr = h.stderr
	h.app.registry = registry.New(
		registry.WithConstructor(scm.BackendPerforce, func(*scm.RepositoryConfig, backends.Env) (scm.Client, error) {
			if client == nil {
				return nil, errors.New("no client")
			}

			return client, nil
		}),
		registry.WithLookPath(func(name string) (string, error) {
			if name == "p4" {
				return "/usr/bin/p4", nil
			}

			return "", errors.New("not found")
		}),
		registry.WithGetenv(func(string) string { return "" }),
	)
	h.app.env = &backends.Env{Runner: runnertest.New(), Logger: slog.New(slog.DiscardHandler)}

	return h
}

func (h *harness) run(args ...string) error {
	root, _ := newRootCommand(h.app)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	root.SetOut(h.stdout)
	root.SetErr(h.stderr)

	return root.ExecuteContext(context.Background())
}

func TestCheck(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	h := newHarness(t, client)

	require.NoError(t, h.run("--repo", "depot", "check"))
	assert.Contains(t, h.stdout.String(), "perforce repository is reachable")
	assert.True(t, client.closed)
}

func TestCheck_NoRepository(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.ErrorIs(t, h.run("check"), ErrNoRepository)
}

func TestCheck_AdHocRepository(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("--backend", "p4", "--path", "localhost:1666", "--format", "json", "check"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	assert.Equal(t, "perforce", out["backend"])
	assert.Equal(t, true, out["ok"])
}

func TestCat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "cat", "//depot/main.c", "1"))
	assert.Equal(t, "int a;\nint b;\n", h.stdout.String())
}

func TestCat_DefaultsToHead(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "cat", "//depot/main.c"))
	assert.Equal(t, "int a;\nint c;\n", h.stdout.String())
}

func TestCat_NotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	err := h.run("-r", "depot", "cat", "//depot/missing.c", "7")
	require.ErrorIs(t, err, scm.ErrFileNotFound)
}

func TestCat_TooLarge(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.files["//depot/big.bin@HEAD"] = strings.Repeat("x", 2000)
	h := newHarness(t, client)

	err := h.run("-r", "depot", "cat", "//depot/big.bin")
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "2.0 kB")
}

func TestCat_Info(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "-f", "json", "cat", "--info", "//depot/main.c", "1"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	assert.Equal(t, "C", out["language"])
	assert.InDelta(t, 2, out["lines"], 0)
}

func TestExists(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "-f", "json", "exists", "//depot/main.c", "2"))
	assert.Contains(t, h.stdout.String(), `"exists": true`)

	h.stdout.Reset()
	require.NoError(t, h.run("-r", "depot", "-f", "json", "exists", "//depot/main.c", "9"))
	assert.Contains(t, h.stdout.String(), `"exists": false`)

	h.stdout.Reset()
	require.NoError(t, h.run("-r", "depot", "-f", "json", "exists", "//depot/main.c", "PRE-CREATION"))
	assert.Contains(t, h.stdout.String(), `"exists": false`)
}

func TestChangeSet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "-f", "yaml", "changeset", "42"))
	assert.Contains(t, h.stdout.String(), "summary: Fix the build")
	assert.Contains(t, h.stdout.String(), "- //depot/main.c")

	h.stdout.Reset()
	require.NoError(t, h.run("-r", "depot", "changeset", "42"))
	assert.Contains(t, h.stdout.String(), "alice")
}

func TestChangeSet_Empty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.ErrorIs(t, h.run("-r", "depot", "changeset", "43"), scm.ErrEmptyChangeSet)
	require.NoError(t, h.run("-r", "depot", "changeset", "--allow-empty", "43"))
}

func TestPending(t *testing.T) {
	t.Parallel()

	client := &pendingClient{
		fakeClient: newFakeClient(),
		pending: []*scm.ChangeSet{
			scm.NewChangeSet("50", "alice", "WIP", []string{"//depot/a.c"}, true),
			scm.NewChangeSet("51", "bob", "More WIP", []string{"//depot/b.c"}, true),
		},
	}
	h := newHarness(t, client)

	require.NoError(t, h.run("-r", "depot", "-f", "json", "pending", "bob"))

	var out []scm.ChangeSet
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "51", out[0].ChangeNum)
	assert.True(t, out[0].Pending)
}

func TestPending_Unsupported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.ErrorIs(t, h.run("-r", "depot", "pending"), scm.ErrUnsupported)
}

func TestList_Unsupported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.ErrorIs(t, h.run("-r", "depot", "ls", "//depot"), scm.ErrUnsupported)
}

const sampleDiff = `--- //depot/main.c	1
+++ //depot/main.c	(working copy)
@@ -1,2 +1,2 @@
 int a;
-int b;
+int c;
--- //depot/new.c	PRE-CREATION
+++ //depot/new.c	(working copy)
@@ -0,0 +1 @@
+int n;
`

func TestParseDiff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	diffPath := filepath.Join(t.TempDir(), "change.diff")
	require.NoError(t, os.WriteFile(diffPath, []byte(sampleDiff), 0o600))

	require.NoError(t, h.run("-r", "depot", "-f", "json", "parse-diff", "--verify", diffPath))

	var out []parsedFile
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	require.Len(t, out, 2)

	assert.Equal(t, "//depot/main.c", out[0].Original)
	assert.Equal(t, "1", out[0].OriginalRevision)
	assert.Equal(t, 1, out[0].Inserted)
	assert.Equal(t, 1, out[0].Deleted)
	require.NotNil(t, out[0].Exists)
	assert.True(t, *out[0].Exists)

	assert.Equal(t, "PRE-CREATION", out[1].OriginalRevision)
	require.NotNil(t, out[1].Exists)
	assert.False(t, *out[1].Exists)
}

func TestParseDiff_DisplayPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &displayClient{fakeClient: newFakeClient()})

	diffPath := filepath.Join(t.TempDir(), "change.diff")
	require.NoError(t, os.WriteFile(diffPath, []byte(sampleDiff), 0o600))

	require.NoError(t, h.run("-r", "depot", "-f", "json", "parse-diff", diffPath))

	var out []parsedFile
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	require.Len(t, out, 2)

	assert.Equal(t, "//depot/main.c", out[0].Original)
	assert.Equal(t, "main.c", out[0].Display)
}

func TestParseDiff_Stdin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	root, _ := newRootCommand(h.app)
	root.SetArgs([]string{"--config", h.config, "-r", "depot", "parse-diff", "-"})
	root.SetIn(strings.NewReader(sampleDiff))

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, strings.ToLower(h.stdout.String()), "total: 2 files")
}

func TestCompare(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "compare", "//depot/main.c", "1", "2"))

	out := h.stdout.String()
	assert.Contains(t, out, "--- //depot/main.c@1")
	assert.Contains(t, out, "+++ //depot/main.c@2")
	assert.Contains(t, out, "-int b;")
	assert.Contains(t, out, "+int c;")
	assert.Contains(t, out, "1 insertion(s)(+)")
}

func TestCompare_StatJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "-f", "json", "compare", "--stat", "//depot/main.c", "1", "2"))

	var out comparison
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	assert.Equal(t, 1, out.Stats.Inserted)
	assert.Equal(t, 1, out.Stats.Deleted)
	assert.Empty(t, out.Diff)
}

func TestCompare_Binary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.NoError(t, h.run("-r", "depot", "compare", "//depot/logo.png", "1", "2"))
	assert.Contains(t, h.stdout.String(), "Binary files")
}

func TestInvalidFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeClient())

	require.ErrorIs(t, h.run("-r", "depot", "-f", "xml", "exists", "//depot/main.c"), ErrInvalidFormat)
}

func TestBackends(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.NoError(t, h.run("-f", "json", "backends"))

	var out probeReport
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	require.NotEmpty(t, out.Backends)

	byID := make(map[scm.BackendID]registry.Capability, len(out.Backends))
	for _, c := range out.Backends {
		byID[c.Backend] = c
	}

	assert.True(t, byID[scm.BackendPerforce].Available)
	assert.Equal(t, "/usr/bin/p4", byID[scm.BackendPerforce].Path)
	assert.False(t, byID[scm.BackendCVS].Available)
	assert.Equal(t, "cvs", byID[scm.BackendCVS].Missing)
	assert.False(t, out.Stunnel.Available)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.NoError(t, h.run("config", "validate"))
	assert.Contains(t, h.stdout.String(), "is valid")

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("repositories:\n  x:\n    backend: svn\n    path: /r\n"), 0o600))

	h.stdout.Reset()
	err := h.run("-f", "json", "config", "validate", broken)
	require.ErrorIs(t, err, config.ErrSchemaViolation)

	var report validationReport
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Violations)
}

func TestConfigRepos(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.NoError(t, h.run("config", "repos"))
	assert.Contains(t, h.stdout.String(), "depot")
	assert.Contains(t, h.stdout.String(), "perforce.example.com:1666")
}

func testPublicKey(t *testing.T) string {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return sshutil.AuthorizedKeyLine(key)
}

func TestHostKey_AddReplaceList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	first := testPublicKey(t)
	second := testPublicKey(t)

	require.NoError(t, h.run("hostkey", "add", "scm.example.com", first))

	h.stdout.Reset()
	require.NoError(t, h.run("-f", "json", "hostkey", "list"))

	var rows []hostKeyRow
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"scm.example.com"}, rows[0].Hosts)
	assert.Equal(t, ssh.KeyAlgoED25519, rows[0].Type)

	require.NoError(t, h.run("hostkey", "replace", "scm.example.com", "--old", first, "--new", second))

	h.stdout.Reset()
	require.NoError(t, h.run("-f", "json", "hostkey", "list"))
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &rows))
	require.Len(t, rows, 1)

	newKey, err := sshutil.ParseAuthorizedKey(second)
	require.NoError(t, err)
	assert.Equal(t, sshutil.Fingerprint(newKey), rows[0].Fingerprint)
}

func TestHostKey_AddInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.ErrorIs(t, h.run("hostkey", "add", "scm.example.com", "not-a-key"), scm.ErrUnsupportedSSHKey)
}

func TestUserKey_GenerateAndShow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.ErrorIs(t, h.run("userkey", "show"), sshutil.ErrNoUserKey)

	require.NoError(t, h.run("-f", "json", "userkey", "generate", "--bits", "1024"))

	var generated keyInfo
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &generated))
	assert.Equal(t, ssh.KeyAlgoRSA, generated.Type)

	require.ErrorIs(t, h.run("userkey", "generate", "--bits", "1024"), ErrUserKeyExists)

	h.stdout.Reset()
	require.NoError(t, h.run("-f", "json", "userkey", "show"))

	var shown keyInfo
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &shown))
	assert.Equal(t, generated.Fingerprint, shown.Fingerprint)
}

func TestVersion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.NoError(t, h.run("version"))
	assert.True(t, strings.HasPrefix(h.stdout.String(), "scmkit "))
}
