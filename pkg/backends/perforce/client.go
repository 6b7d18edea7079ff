// Package perforce implements the Perforce backend on top of the p4
// command-line client.
package perforce

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/lru"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/stunnel"
)

// Extra data keys understood by the Perforce backend.
const (
	ExtraClient     = "p4_client"
	ExtraHost       = "p4_host"
	ExtraTicketAuth = "use_ticket_auth"
)

const (
	defaultTool   = "p4"
	stunnelPrefix = "stunnel:"
	defaultSite   = "default"

	filesCacheEntries = 1024
	dirPerm           = 0o700

	statusPending = "pending"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// deletedActions are head actions that leave no file at a revision.
var deletedActions = map[string]bool{
	"delete":      true,
	"move/delete": true,
	"purge":       true,
	"archive":     true,
}

// Client talks to one Perforce server. Each operation opens its own session:
// a tunnel when the port is stunnel-wrapped and a ticket login when ticket
// auth is enabled, both released before the operation returns.
type Client struct {
	repo   *scm.RepositoryConfig
	env    backends.Env
	tool   string
	logger *slog.Logger

	port       string
	useStunnel bool
	ticketAuth bool
	ticketFile string

	// files memoizes "files at revision" lookups keyed by path#rev.
	files *lru.Cache[string, bool]
}

var (
	_ scm.Client        = (*Client)(nil)
	_ scm.PendingLister = (*Client)(nil)
)

// New returns a Perforce client for repo.
func New(repo *scm.RepositoryConfig, env backends.Env) (*Client, error) {
	env = env.WithDefaults()

	c := &Client{
		repo:       repo,
		env:        env,
		tool:       env.Tool(scm.BackendPerforce, defaultTool),
		logger:     env.Logger.With("backend", scm.BackendPerforce, "repository", repo.Path),
		port:       repo.Path,
		ticketAuth: repo.ExtraBool(ExtraTicketAuth),
		files:      lru.New(lru.WithMaxEntries[string, bool](filesCacheEntries)),
	}

	if rest, ok := strings.CutPrefix(repo.Path, stunnelPrefix); ok {
		c.port = rest
		c.useStunnel = true
	}

	if c.port == "" {
		return nil, &scm.RepositoryNotFoundError{Path: repo.Path, Detail: "no P4PORT configured"}
	}

	if c.ticketAuth {
		c.ticketFile = TicketPath(env.DataDir, repo)
	}

	return c, nil
}

// TicketPath returns the P4TICKETS file for repo. Tickets are partitioned by
// local site and then by server and user so tenants never share a ticket.
func TicketPath(dataDir string, repo *scm.RepositoryConfig) string {
	site := repo.LocalSite
	if site == "" {
		site = defaultSite
	}

	name := repo.ID
	if name == "" {
		name = repo.Path + "-" + repo.Username
	}

	return filepath.Join(dataDir, "p4", "tickets",
		unsafePathChars.ReplaceAllString(site, "_"),
		unsafePathChars.ReplaceAllString(name, "_"))
}

// Backend implements scm.Client.
func (c *Client) Backend() scm.BackendID { return scm.BackendPerforce }

// Close implements scm.Client. Sessions are released per operation, so there
// is nothing left to release.
func (c *Client) Close() error { return nil }

// session is one connected unit of work.
type session struct {
	c     *Client
	port  string
	proxy *stunnel.Proxy
}

// connect opens a session. The returned session must be closed.
func (c *Client) connect(ctx context.Context) (*session, error) {
	s := &session{c: c, port: c.port}

	if c.useStunnel {
		proxy, err := stunnel.Start(ctx, stunnel.ModeClient, c.port, c.env.Stunnel)
		if err != nil {
			return nil, scm.Wrap(fmt.Errorf("start stunnel for %s: %w", c.port, err))
		}

		s.proxy = proxy
		s.port = proxy.Addr()
	}

	if c.ticketAuth {
		if err := s.login(ctx); err != nil {
			s.close()

			return nil, err
		}
	}

	return s, nil
}

func (s *session) close() {
	if s.proxy == nil {
		return
	}

	if err := s.proxy.Close(); err != nil {
		s.c.logger.Warn("stopping stunnel", "error", err)
	}
}

// withSession brackets fn with connect and close.
func (c *Client) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := c.connect(ctx)
	if err != nil {
		return err
	}

	defer s.close()

	return fn(s)
}

// command builds a p4 invocation with the connection flags.
func (s *session) command(args ...string) runner.Command {
	c := s.c
	repo := c.repo

	argv := []string{"-p", s.port}

	if repo.Username != "" {
		argv = append(argv, "-u", repo.Username)
	}

	var secrets []string

	if repo.Password != "" && !c.ticketAuth {
		argv = append(argv, "-P", repo.Password)
		secrets = append(secrets, repo.Password)
	}

	if client := repo.Extra(ExtraClient); client != "" {
		argv = append(argv, "-c", client)
	}

	if host := repo.Extra(ExtraHost); host != "" {
		argv = append(argv, "-H", host)
	}

	if repo.Encoding != "" {
		argv = append(argv, "-C", repo.Encoding)
	}

	env := []string{"P4CONFIG="}
	if c.ticketFile != "" {
		env = append(env, "P4TICKETS="+c.ticketFile)
	}

	return runner.Command{
		Name:    c.tool,
		Args:    append(argv, args...),
		Env:     env,
		Secrets: secrets,
	}
}

func (s *session) run(ctx context.Context, stdin string, args ...string) (*runner.Result, error) {
	cmd := s.command(args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	return s.c.env.Runner.Run(ctx, cmd)
}

// ztag runs a tagged command and parses its records.
func (s *session) ztag(ctx context.Context, args ...string) ([]Record, error) {
	res, err := s.run(ctx, "", append([]string{"-ztag"}, args...)...)
	if err != nil {
		return nil, backends.Failure(res, err, s.c.rules()...)
	}

	return parseZtag(string(res.Stdout)), nil
}

// login ensures the ticket file holds a valid ticket, logging in with the
// password when it does not.
func (s *session) login(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.c.ticketFile), dirPerm); err != nil {
		return scm.Wrap(fmt.Errorf("create ticket directory: %w", err))
	}

	if _, err := s.run(ctx, "", "login", "-s"); err == nil {
		return nil
	}

	s.c.logger.DebugContext(ctx, "ticket missing or expired, logging in", "tickets", s.c.ticketFile)

	res, err := s.run(ctx, s.c.repo.Password+"\n", "login")
	if err != nil {
		return backends.Failure(res, err, s.c.rules()...)
	}

	return nil
}

// CheckRepository implements scm.Client.
func (c *Client) CheckRepository(ctx context.Context) error {
	return c.withSession(ctx, func(s *session) error {
		_, err := s.ztag(ctx, "info")

		return err
	})
}

// depotSpec renders path at rev in p4 file revision syntax. Native values
// starting with @ are treated as changelist or label specifiers.
func depotSpec(path string, rev scm.Revision) string {
	if !rev.IsNative() || rev.Value() == "" {
		return path
	}

	if strings.HasPrefix(rev.Value(), "@") {
		return path + rev.Value()
	}

	return path + "#" + rev.Value()
}

// GetFile implements scm.Client.
func (c *Client) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	if rev.IsPreCreation() {
		return []byte{}, nil
	}

	var content []byte

	err := c.withSession(ctx, func(s *session) error {
		res, err := s.run(ctx, "", "print", "-q", depotSpec(path, rev))
		if err != nil {
			return backends.Failure(res, err, c.fileRules(path, rev)...)
		}

		if len(res.Stdout) == 0 && isNoSuchFile(string(res.Stderr)) {
			return &scm.FileNotFoundError{Path: path, Revision: rev, Detail: strings.TrimSpace(string(res.Stderr))}
		}

		content = res.Stdout

		return nil
	})
	if err != nil {
		return nil, err
	}

	return content, nil
}

// FileExists implements scm.Client.
func (c *Client) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	if rev.IsPreCreation() {
		return false, nil
	}

	var exists bool

	err := c.withSession(ctx, func(s *session) error {
		var err error

		exists, err = s.fileExists(ctx, depotSpec(path, rev))

		return err
	})

	return exists, err
}

// fileExists runs "p4 files" for spec, memoizing fixed revisions.
func (s *session) fileExists(ctx context.Context, spec string) (bool, error) {
	load := func() (bool, error) {
		records, err := s.ztag(ctx, "files", spec)
		if err != nil {
			if isNoSuchFile(err.Error()) {
				return false, nil
			}

			return false, err
		}

		for _, r := range records {
			if r["depotFile"] != "" && !deletedActions[r["headAction"]] {
				return true, nil
			}
		}

		return false, nil
	}

	if !strings.ContainsAny(spec, "#@") {
		return load()
	}

	return s.c.files.GetOrLoad(spec, load)
}

func isNoSuchFile(msg string) bool {
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "file(s) not on client")
}

// GetChangeSet implements scm.Client.
func (c *Client) GetChangeSet(ctx context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	var cs *scm.ChangeSet

	err := c.withSession(ctx, func(s *session) error {
		var err error

		cs, err = s.describe(ctx, id, allowEmpty)

		return err
	})

	return cs, err
}

func (s *session) describe(ctx context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	records, err := s.ztag(ctx, "describe", "-s", id)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 || records[0]["change"] == "" {
		return nil, scm.NewError("changeset %s was not found", id)
	}

	r := records[0]

	desc, err := backends.DecodeText([]byte(r["desc"]), s.c.repo.Encoding)
	if err != nil {
		s.c.logger.WarnContext(ctx, "changeset description is not valid in the configured encoding",
			"change", id, "error", err)

		desc = r["desc"]
	}

	files := r.List("depotFile")
	if len(files) == 0 && !allowEmpty {
		return nil, &scm.EmptyChangeSetError{ChangeNum: id}
	}

	return scm.NewChangeSet(r["change"], r["user"], strings.TrimSpace(desc), files,
		r["status"] == statusPending), nil
}

// PendingChangeSets implements scm.PendingLister.
func (c *Client) PendingChangeSets(ctx context.Context, user string) ([]*scm.ChangeSet, error) {
	var changesets []*scm.ChangeSet

	err := c.withSession(ctx, func(s *session) error {
		records, err := s.ztag(ctx, "changes", "-s", statusPending, "-u", user)
		if err != nil {
			return err
		}

		for _, r := range records {
			cs, err := s.describe(ctx, r["change"], true)
			if err != nil {
				return err
			}

			changesets = append(changesets, cs)
		}

		return nil
	})

	return changesets, err
}

// ParseDiffRevision implements scm.Client. Revision strings have the form
// "//depot/path#N". Perforce reports both newly added files and the first
// real revision as #1 (or #0 on older servers); the server is asked which one
// applies.
func (c *Client) ParseDiffRevision(ctx context.Context, filename, revision string) (string, scm.Revision, error) {
	if revision == scm.PreCreation.String() {
		return filename, scm.PreCreation, nil
	}

	idx := strings.LastIndex(revision, "#")
	if idx < 0 {
		return filename, scm.Revision{}, &scm.InvalidRevisionFormatError{Path: filename, Revision: revision}
	}

	path, rev := revision[:idx], revision[idx+1:]

	if rev != "0" && rev != "1" {
		return path, scm.NewRevision(rev), nil
	}

	var exists bool

	err := c.withSession(ctx, func(s *session) error {
		var err error

		exists, err = s.fileExists(ctx, path+"#"+rev)

		return err
	})
	if err != nil {
		return path, scm.Revision{}, err
	}

	if !exists {
		return path, scm.PreCreation, nil
	}

	return path, scm.NewRevision(rev), nil
}

// Parser implements scm.Client.
func (c *Client) Parser(data []byte) scm.DiffParser {
	return NewParser(data, c.logger)
}
