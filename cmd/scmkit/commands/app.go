// Package commands implements the scmkit subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/config"
	"github.com/Sumatoshi-tech/scmkit/pkg/observability"
	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
	"github.com/Sumatoshi-tech/scmkit/pkg/stunnel"
	"github.com/Sumatoshi-tech/scmkit/pkg/version"
)

// ErrNoRepository is returned when neither --repo nor --backend/--path is
// given.
var ErrNoRepository = errors.New("no repository selected (use --repo or --backend and --path)")

// app is the state shared by every subcommand.
type app struct {
	configPath string
	repoName   string
	backend    string
	path       string
	username   string
	password   string
	localSite  string
	format     string
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	cfg       *config.Config
	registry  *registry.Registry
	providers *observability.Providers
	// env overrides the environment built from cfg; set by tests.
	env *backends.Env
}

func newApp() *app {
	return &app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		registry: registry.New(),
	}
}

func (a *app) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default: ./.scmkit.yaml or ~/.scmkit.yaml)")
	flags.StringVarP(&a.repoName, "repo", "r", "", "named repository from the config file")
	flags.StringVar(&a.backend, "backend", "", "backend for an unnamed repository ("+backendNames()+")")
	flags.StringVar(&a.path, "path", "", "repository path for an unnamed repository")
	flags.StringVarP(&a.username, "username", "u", "", "repository username")
	flags.StringVar(&a.password, "password", "", "repository password")
	flags.StringVar(&a.localSite, "local-site", "", "local site owning the repository")
	flags.StringVarP(&a.format, "format", "f", formatTable, "output format: table, json or yaml")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
}

func backendNames() string {
	names := make([]string, 0, len(scm.Backends()))
	for _, id := range scm.Backends() {
		names = append(names, string(id))
	}

	return strings.Join(names, ", ")
}

// loadConfig reads the configuration once.
func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}

	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	a.cfg = cfg

	return cfg, nil
}

// telemetry initializes observability for mode on first use.
func (a *app) telemetry(mode observability.AppMode, prometheus bool) (observability.Providers, error) {
	if a.providers != nil {
		return *a.providers, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return observability.Providers{}, err
	}

	obsCfg := cfg.Observability(mode, version.Version)
	obsCfg.Prometheus = prometheus

	providers, err := observability.InitWithWriter(obsCfg, a.stderr)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	a.providers = &providers

	return providers, nil
}

func (a *app) shutdown(ctx context.Context) {
	if a.providers == nil {
		return
	}

	if err := a.providers.Shutdown(ctx); err != nil {
		a.providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

func (a *app) logger() *slog.Logger {
	if a.providers != nil {
		return a.providers.Logger
	}

	return slog.Default()
}

// sshStorage returns the key storage for the selected local site.
func (a *app) sshStorage() (*sshutil.Storage, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	return sshutil.NewStorage(sshDir(cfg), a.localSite), nil
}

// sshDir is the storage root shared with rbssh; local sites are
// subdirectories of it.
func sshDir(cfg *config.Config) string {
	if cfg.SSH.Dir != "" {
		return cfg.SSH.Dir
	}

	return filepath.Join(cfg.DataDir, "ssh")
}

// backendEnv builds what backend constructors need from the configuration.
func (a *app) backendEnv() (backends.Env, error) {
	if a.env != nil {
		return *a.env, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return backends.Env{}, err
	}

	storage, err := a.sshStorage()
	if err != nil {
		return backends.Env{}, err
	}

	logger := a.logger()

	return backends.Env{
		Runner:  runner.New(runner.WithTimeout(cfg.CommandTimeout), runner.WithLogger(logger)),
		Logger:  logger,
		DataDir: cfg.DataDir,
		SSH: sshutil.NewDialer(storage,
			sshutil.WithAgent(cfg.SSH.AllowAgent),
			sshutil.WithLogger(logger),
		),
		RBSSH: sshutil.RBSSH{
			Command:    cfg.SSH.RBSSHPath,
			SSHDir:     sshDir(cfg),
			AllowAgent: cfg.SSH.AllowAgent,
		},
		Tools:          cfg.ToolOverrides(),
		Stunnel:        stunnel.Options{Executable: cfg.Tools.Stunnel, Logger: logger},
		CommandTimeout: cfg.CommandTimeout,
	}, nil
}

// repository resolves --repo or the ad-hoc repository flags.
func (a *app) repository() (*scm.RepositoryConfig, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	var repo *scm.RepositoryConfig

	switch {
	case a.repoName != "":
		repo, err = cfg.Repository(a.repoName)
		if err != nil {
			return nil, err
		}
	case a.backend != "" && a.path != "":
		id, parseErr := scm.ParseBackendID(a.backend)
		if parseErr != nil {
			return nil, parseErr
		}

		repo = &scm.RepositoryConfig{Backend: id, Path: a.path}
	default:
		return nil, ErrNoRepository
	}

	if a.username != "" {
		repo.Username = a.username
	}

	if a.password != "" {
		repo.Password = a.password
	}

	if a.localSite != "" {
		repo.LocalSite = a.localSite
	}

	return repo, nil
}

// client opens the selected repository wrapped with telemetry.
func (a *app) client() (scm.Client, error) {
	providers, err := a.telemetry(observability.ModeCLI, false)
	if err != nil {
		return nil, err
	}

	repo, err := a.repository()
	if err != nil {
		return nil, err
	}

	env, err := a.backendEnv()
	if err != nil {
		return nil, err
	}

	client, err := a.registry.Open(repo, env)
	if err != nil {
		return nil, err
	}

	return registry.Instrument(client, providers)
}

// withClient opens the repository, runs fn and closes the client.
func (a *app) withClient(fn func(scm.Client) error) (err error) {
	client, err := a.client()
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, client.Close())
	}()

	return fn(client)
}
