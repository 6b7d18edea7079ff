// Package clearcase implements the ClearCase backend on top of cleartool.
// Dynamic views are read directly through the view file system; snapshot
// views materialize versions with "cleartool get".
package clearcase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/lru"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// EnvCleartool overrides the cleartool executable when no tool path is
// configured.
const EnvCleartool = "CC_CTEXEC"

const (
	defaultTool = "cleartool"

	oidCacheEntries = 4096

	kindFile      = "file element"
	kindDirectory = "directory element"

	propertiesPrefix = "Properties:"
)

// uuidPrefixes label the VOB identity in "cleartool lsvob -long" output.
var uuidPrefixes = []string{"Vob family uuid:", "Replica uuid:"}

// ErrUnsupportedView is returned for views that are neither snapshot nor
// dynamic.
var ErrUnsupportedView = errors.New("unsupported view type")

// ViewType is the kind of ClearCase view the repository path lives in.
type ViewType int

// View types.
const (
	ViewUnknown ViewType = iota
	ViewSnapshot
	ViewDynamic
)

func (v ViewType) String() string {
	switch v {
	case ViewSnapshot:
		return "snapshot"
	case ViewDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// OIDFallback decides what the diff parser does when an oid cannot be
// resolved to a path, which happens while multi-site replicas lag behind.
type OIDFallback int

const (
	// FallbackClientPath uses the path the diff's author recorded and logs
	// a warning.
	FallbackClientPath OIDFallback = iota
	// FallbackFail makes the parse fail.
	FallbackFail
)

// Option configures a Client.
type Option func(*Client)

// WithOIDFallback sets the oid resolution fallback policy.
func WithOIDFallback(policy OIDFallback) Option {
	return func(c *Client) {
		c.fallback = policy
	}
}

// Client is a ClearCase view client.
type Client struct {
	repo     *scm.RepositoryConfig
	env      backends.Env
	tool     string
	logger   *slog.Logger
	fallback OIDFallback

	viewMu   sync.Mutex
	viewType ViewType

	oids *lru.Cache[string, string]
}

var (
	_ scm.Client          = (*Client)(nil)
	_ scm.DirectoryLister = (*Client)(nil)
)

// New returns a ClearCase client for the view directory repo.Path.
func New(repo *scm.RepositoryConfig, env backends.Env, opts ...Option) (*Client, error) {
	env = env.WithDefaults()

	if strings.TrimSpace(repo.Path) == "" {
		return nil, &scm.RepositoryNotFoundError{Detail: "no view path configured"}
	}

	tool := env.Tool(scm.BackendClearCase, "")
	if tool == "" {
		tool = os.Getenv(EnvCleartool)
	}

	if tool == "" {
		tool = defaultTool
	}

	c := &Client{
		repo:   repo,
		env:    env,
		tool:   tool,
		logger: env.Logger.With("backend", scm.BackendClearCase, "repository", repo.Path),
		oids:   lru.New(lru.WithMaxEntries[string, string](oidCacheEntries)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendClearCase }

// Close implements scm.Client.
func (c *Client) Close() error { return nil }

// Tool returns the cleartool executable the client runs.
func (c *Client) Tool() string { return c.tool }

func (c *Client) run(ctx context.Context, args ...string) (*runner.Result, error) {
	return c.env.Runner.Run(ctx, runner.Command{Name: c.tool, Args: args, Dir: c.repo.Path})
}

func (c *Client) rules(path string, rev scm.Revision) []scm.Rule {
	return []scm.Rule{
		{Substr: "Not a vob object", Make: backends.FileNotFound(path, rev)},
		{Substr: "not found", Make: backends.FileNotFound(path, rev)},
		{Substr: "does not exist", Make: backends.FileNotFound(path, rev)},
		{Substr: "Unable to access", Make: backends.FileNotFound(path, rev)},
	}
}

// ViewType detects the view kind on first use and caches it for the
// client's lifetime.
func (c *Client) ViewType(ctx context.Context) (ViewType, error) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	if c.viewType != ViewUnknown {
		return c.viewType, nil
	}

	res, err := c.run(ctx, "lsview", "-full", "-properties", "-cview")
	if err != nil {
		err = backends.Failure(res, err)
		if errors.Is(err, scm.ErrBackendUnavailable) {
			return ViewUnknown, err
		}

		return ViewUnknown, &scm.Error{Msg: "unable to run lsview: " + err.Error(), Err: err}
	}

	view := parseViewType(string(res.Stdout))
	if view == ViewUnknown {
		return ViewUnknown, &scm.Error{Msg: ErrUnsupportedView.Error(), Err: ErrUnsupportedView}
	}

	c.viewType = view
	c.logger.DebugContext(ctx, "detected view type", "view", view)

	return view, nil
}

func parseViewType(out string) ViewType {
	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != propertiesPrefix {
			continue
		}

		switch {
		case slices.Contains(fields, "snapshot"):
			return ViewSnapshot
		case slices.Contains(fields, "dynamic"):
			return ViewDynamic
		}
	}

	return ViewUnknown
}

// Info identifies the VOB the view path belongs to.
type Info struct {
	Path   string
	VOBTag string
	UUID   string
}

// RepositoryInfo returns the VOB tag and family uuid of the repository.
func (c *Client) RepositoryInfo(ctx context.Context) (*Info, error) {
	tag, err := c.vobTag(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.run(ctx, "lsvob", "-long", tag)
	if err != nil {
		return nil, backends.Failure(res, err)
	}

	for line := range strings.SplitSeq(string(res.Stdout), "\n") {
		line = strings.TrimSpace(line)

		for _, prefix := range uuidPrefixes {
			if strings.HasPrefix(line, prefix) {
				fields := strings.Fields(line)

				return &Info{Path: c.repo.Path, VOBTag: tag, UUID: fields[len(fields)-1]}, nil
			}
		}
	}

	return nil, scm.NewError("can't find family uuid for vob %s", tag)
}

func (c *Client) vobTag(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "describe", "-short", "vob:.")
	if err != nil {
		return "", backends.Failure(res, err)
	}

	return strings.TrimSpace(string(res.Stdout)), nil
}

// CheckRepository implements scm.Client.
func (c *Client) CheckRepository(ctx context.Context) error {
	if info, err := os.Stat(c.repo.Path); err != nil || !info.IsDir() {
		return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: "view path is not a directory"}
	}

	if _, err := c.ViewType(ctx); err != nil {
		return err
	}

	if _, err := c.vobTag(ctx); err != nil {
		if errors.Is(err, scm.ErrBackendUnavailable) {
			return err
		}

		return &scm.RepositoryNotFoundError{Path: c.repo.Path, Detail: err.Error()}
	}

	return nil
}

// localPath resolves p against the view root.
func (c *Client) localPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.repo.Path, p)
}

// GetFile implements scm.Client. In dynamic views a directory yields its
// sorted entry names, one per line.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	if path == "" {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev}
	}

	view, err := c.ViewType(ctx)
	if err != nil {
		return nil, err
	}

	extended := extendedPath(path, rev)

	if view == ViewSnapshot {
		return c.snapshotFile(ctx, extended, rev)
	}

	return c.dynamicFile(extended, rev)
}

func (c *Client) dynamicFile(extended string, rev scm.Revision) ([]byte, error) {
	local := c.localPath(extended)

	info, err := os.Stat(local)
	if err != nil {
		return nil, &scm.FileNotFoundError{Path: extended, Revision: rev, Detail: err.Error()}
	}

	if info.IsDir() {
		entries, err := os.ReadDir(local)
		if err != nil {
			return nil, scm.Wrap(fmt.Errorf("list %s: %w", extended, err))
		}

		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.Name() + "\n")
		}

		return []byte(b.String()), nil
	}

	content, err := os.ReadFile(local)
	if err != nil {
		return nil, &scm.FileNotFoundError{Path: extended, Revision: rev, Detail: err.Error()}
	}

	return content, nil
}

// snapshotFile checks the element kind and copies the version out with
// "cleartool get" into a private temp directory that is always removed.
func (c *Client) snapshotFile(ctx context.Context, extended string, rev scm.Revision) ([]byte, error) {
	res, err := c.run(ctx, "desc", "-fmt", "%m", elementPath(extended))
	if err != nil {
		return nil, backends.Failure(res, err, c.rules(extended, rev)...)
	}

	switch kind := strings.TrimSpace(string(res.Stdout)); kind {
	case kindFile:
	case kindDirectory:
		return nil, scm.NewError("directory elements are unsupported in snapshot views: %s", extended)
	default:
		return nil, &scm.FileNotFoundError{Path: extended, Revision: rev, Detail: "not a file element: " + kind}
	}

	dir, err := os.MkdirTemp("", "scmkit-clearcase-")
	if err != nil {
		return nil, scm.Wrap(fmt.Errorf("create temp dir: %w", err))
	}

	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			c.logger.WarnContext(ctx, "removing temp dir", "dir", dir, "error", rmErr)
		}
	}()

	target := filepath.Join(dir, "content")

	res, err = c.run(ctx, "get", "-to", target, extended)
	if err != nil {
		c.logger.DebugContext(ctx, "cleartool get failed", "path", extended, "output", runner.Output(res))

		return nil, &scm.FileNotFoundError{Path: extended, Revision: rev, Detail: runner.Output(res)}
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return nil, &scm.FileNotFoundError{Path: extended, Revision: rev, Detail: err.Error()}
	}

	return content, nil
}

// ListDirectory implements scm.DirectoryLister with the sorted element
// names of a directory version.
func (c *Client) ListDirectory(ctx context.Context, path string, rev scm.Revision) ([]string, error) {
	extended := extendedPath(path, rev)

	res, err := c.run(ctx, "ls", "-short", "-nxname", "-vob_only", extended)
	if err != nil {
		return nil, backends.Failure(res, err, c.rules(extended, rev)...)
	}

	var names []string

	for line := range strings.SplitSeq(string(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, filepath.Base(line))
		}
	}

	slices.Sort(names)

	return names, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	return scm.FileExistsByFetch(ctx, c, path, rev)
}

// GetChangeSet implements scm.Client.
func (c *Client) GetChangeSet(context.Context, string, bool) (*scm.ChangeSet, error) {
	return nil, backends.Unsupported(scm.BackendClearCase, "changesets")
}

// ParseDiffRevision implements scm.Client. ClearCase diffs carry the
// version in the extended filename, so revision is not consulted.
func (c *Client) ParseDiffRevision(_ context.Context, filename, _ string) (string, scm.Revision, error) {
	return filename, revisionFromFilename(filename), nil
}

// DisplayPath implements scm.PathDisplayer. It drops the version
// information from extended paths.
func (c *Client) DisplayPath(p string) string {
	_, plain := UnextendPath(p)

	return plain
}

// OIDToPath resolves an object id to its extended path with
// "cleartool describe". Results are cached; oids are immutable.
func (c *Client) OIDToPath(ctx context.Context, oid string) (string, error) {
	return c.oids.GetOrLoad(oid, func() (string, error) {
		res, err := c.run(ctx, "describe", "-fmt", "%En@@%Vn", "oid:"+oid)
		if err != nil {
			return "", backends.Failure(res, err)
		}

		if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
			return "", scm.NewError("%s", stderr)
		}

		p := strings.TrimSpace(string(res.Stdout))
		if vol := filepath.VolumeName(c.repo.Path); vol != "" && !strings.HasPrefix(p, vol) {
			p = vol + p
		}

		return p, nil
	})
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c, c.fallback, c.logger)
}
