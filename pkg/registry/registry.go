// Package registry maps backend identifiers to client constructors, probes
// which backend tools are installed and decorates clients with telemetry.
package registry

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/bazaar"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/clearcase"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/cvs"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/monotone"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/perforce"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/plastic"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// ErrNoConstructor is returned when a backend has no registered constructor.
var ErrNoConstructor = errors.New("no constructor registered for backend")

// Constructor builds a client for repo.
type Constructor func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error)

// Features describes the optional capabilities of a backend.
type Features struct {
	Changesets       bool `json:"changesets" yaml:"changesets"`
	Pending          bool `json:"pending" yaml:"pending"`
	DirectoryListing bool `json:"directory_listing" yaml:"directory_listing"`
}

type entry struct {
	construct Constructor
	// tool is the default executable; empty for in-process backends.
	tool string
	// missing names the native library the binary was built without.
	missing  string
	features Features
}

// Registry resolves backend identifiers to constructors.
type Registry struct {
	entries  map[scm.BackendID]entry
	lookPath func(string) (string, error)
	getenv   func(string) string
}

// Option configures a Registry.
type Option func(*Registry)

// WithConstructor replaces the constructor for id.
func WithConstructor(id scm.BackendID, construct Constructor) Option {
	return func(r *Registry) {
		e := r.entries[id]
		e.construct = construct
		e.missing = ""
		r.entries[id] = e
	}
}

// WithLookPath sets the executable lookup used by Probe.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Registry) {
		r.lookPath = fn
	}
}

// WithGetenv sets the environment lookup used to resolve tool overrides.
func WithGetenv(fn func(string) string) Option {
	return func(r *Registry) {
		r.getenv = fn
	}
}

// New returns a registry holding every built-in backend.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  builtins(),
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func builtins() map[scm.BackendID]entry {
	return map[scm.BackendID]entry{
		scm.BackendPerforce: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return perforce.New(repo, env)
			},
			tool:     "p4",
			features: Features{Changesets: true, Pending: true},
		},
		scm.BackendCVS: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return cvs.New(repo, env)
			},
			tool: "cvs",
		},
		scm.BackendBazaar: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return bazaar.New(repo, env)
			},
			tool: "bzr",
		},
		scm.BackendClearCase: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return clearcase.New(repo, env)
			},
			tool:     "cleartool",
			features: Features{DirectoryListing: true},
		},
		scm.BackendPlastic: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return plastic.New(repo, env)
			},
			tool:     "cm",
			features: Features{Changesets: true},
		},
		scm.BackendMonotone: {
			construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
				return monotone.New(repo, env)
			},
			tool: "mtn",
		},
		scm.BackendGit: gitEntry(),
	}
}

// Open builds the client for repo.Backend.
func (r *Registry) Open(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
	if repo == nil {
		return nil, &scm.RepositoryNotFoundError{Detail: "no repository configured"}
	}

	id, err := scm.ParseBackendID(string(repo.Backend))
	if err != nil {
		return nil, err
	}

	e, ok := r.entries[id]
	if ok && e.missing != "" {
		return nil, fmt.Errorf("%w: %s (built without %s)", ErrNoConstructor, id, e.missing)
	}

	if !ok || e.construct == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConstructor, id)
	}

	client, err := e.construct(repo, env)
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", id, err)
	}

	return client, nil
}

// Features reports the optional capabilities of id.
func (r *Registry) Features(id scm.BackendID) Features {
	return r.entries[id].features
}

// Tool returns the executable a backend runs under env, or "" for
// backends that need none.
func (r *Registry) Tool(id scm.BackendID, env backends.Env) string {
	e, ok := r.entries[id]
	if !ok || e.tool == "" {
		return ""
	}

	if tool := env.Tools[id]; tool != "" {
		return tool
	}

	if id == scm.BackendClearCase {
		if tool := r.getenv(clearcase.EnvCleartool); tool != "" {
			return tool
		}
	}

	return e.tool
}

var defaultRegistry = New()

// Open builds the client for repo using the built-in backends.
func Open(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
	return defaultRegistry.Open(repo, env)
}
