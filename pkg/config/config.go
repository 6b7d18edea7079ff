package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/scmkit/pkg/observability"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	configName = ".scmkit"
	configType = "yaml"
	envPrefix  = "SCMKIT"

	envKeySeparator = "_"
	dataDirName     = ".scmkit"
)

// Sentinel validation errors.
var (
	ErrInvalidTimeout     = errors.New("command timeout must be positive")
	ErrInvalidFileSize    = errors.New("invalid max file size")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidSampleRatio = errors.New("sample ratio must be between 0 and 1")
	ErrInvalidRepository  = errors.New("invalid repository")
	ErrUnknownRepository  = errors.New("unknown repository")
)

// Config holds all scmkit settings.
type Config struct {
	DataDir        string                      `mapstructure:"data_dir"`
	SSH            SSHConfig                   `mapstructure:"ssh"`
	Tools          ToolsConfig                 `mapstructure:"tools"`
	CommandTimeout time.Duration               `mapstructure:"command_timeout"`
	MaxFileSize    string                      `mapstructure:"max_file_size"`
	Logging        LoggingConfig               `mapstructure:"logging"`
	Telemetry      TelemetryConfig             `mapstructure:"telemetry"`
	Repositories   map[string]RepositoryConfig `mapstructure:"repositories"`
}

// SSHConfig controls key storage and the rbssh helper.
type SSHConfig struct {
	// Dir holds the user key and known hosts. Empty means $HOME/.ssh.
	Dir        string `mapstructure:"dir"`
	RBSSHPath  string `mapstructure:"rbssh_path"`
	AllowAgent bool   `mapstructure:"allow_agent"`
}

// ToolsConfig overrides backend executables. Empty fields keep each
// backend's default.
type ToolsConfig struct {
	P4        string `mapstructure:"p4"`
	CVS       string `mapstructure:"cvs"`
	Bzr       string `mapstructure:"bzr"`
	Cleartool string `mapstructure:"cleartool"`
	CM        string `mapstructure:"cm"`
	Mtn       string `mapstructure:"mtn"`
	Stunnel   string `mapstructure:"stunnel"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// RepositoryConfig describes one named repository.
type RepositoryConfig struct {
	Backend    string            `mapstructure:"backend"`
	Path       string            `mapstructure:"path"`
	MirrorPath string            `mapstructure:"mirror_path"`
	Username   string            `mapstructure:"username"`
	Password   string            `mapstructure:"password"`
	Encoding   string            `mapstructure:"encoding"`
	LocalSite  string            `mapstructure:"local_site"`
	ExtraData  map[string]any    `mapstructure:"extra_data"`
}

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("data_dir", "")
	viperCfg.SetDefault("command_timeout", DefaultCommandTimeout)
	viperCfg.SetDefault("max_file_size", DefaultMaxFileSize)

	viperCfg.SetDefault("ssh.dir", "")
	viperCfg.SetDefault("ssh.rbssh_path", DefaultRBSSHPath)
	viperCfg.SetDefault("ssh.allow_agent", false)

	for _, tool := range []string{"p4", "cvs", "bzr", "cleartool", "cm", "mtn", "stunnel"} {
		viperCfg.SetDefault("tools."+tool, "")
	}

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "scmkit")
	}

	return filepath.Join(home, dataDirName)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.CommandTimeout)
	}

	if _, err := c.MaxFileSizeBytes(); err != nil {
		return err
	}

	if c.Logging.Format != FormatText && c.Logging.Format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Telemetry.SampleRatio)
	}

	for _, name := range c.RepositoryNames() {
		repo := c.Repositories[name]

		if _, err := scm.ParseBackendID(repo.Backend); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidRepository, name, err)
		}

		if strings.TrimSpace(repo.Path) == "" {
			return fmt.Errorf("%w %q: path is required", ErrInvalidRepository, name)
		}
	}

	return nil
}

// MaxFileSizeBytes parses MaxFileSize ("50MB", "1 GiB").
func (c *Config) MaxFileSizeBytes() (uint64, error) {
	size, err := humanize.ParseBytes(c.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidFileSize, c.MaxFileSize, err)
	}

	return size, nil
}

// RepositoryNames returns the configured repository names, sorted.
func (c *Config) RepositoryNames() []string {
	names := make([]string, 0, len(c.Repositories))
	for name := range c.Repositories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Repository returns the named repository as a client configuration.
func (c *Config) Repository(name string) (*scm.RepositoryConfig, error) {
	repo, ok := c.Repositories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownRepository, name,
			strings.Join(c.RepositoryNames(), ", "))
	}

	id, err := scm.ParseBackendID(repo.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidRepository, name, err)
	}

	return &scm.RepositoryConfig{
		ID:         name,
		Backend:    id,
		Path:       repo.Path,
		MirrorPath: repo.MirrorPath,
		Username:   repo.Username,
		Password:   repo.Password,
		Encoding:   repo.Encoding,
		LocalSite:  repo.LocalSite,
		ExtraData:  extraData(repo.ExtraData),
	}, nil
}

func extraData(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	extra := make(map[string]string, len(raw))
	for key, value := range raw {
		extra[key] = fmt.Sprint(value)
	}

	return extra
}

// ToolOverrides maps backends to configured executables, omitting unset
// entries.
func (c *Config) ToolOverrides() map[scm.BackendID]string {
	tools := map[scm.BackendID]string{
		scm.BackendPerforce:  c.Tools.P4,
		scm.BackendCVS:       c.Tools.CVS,
		scm.BackendBazaar:    c.Tools.Bzr,
		scm.BackendClearCase: c.Tools.Cleartool,
		scm.BackendPlastic:   c.Tools.CM,
		scm.BackendMonotone:  c.Tools.Mtn,
	}

	for id, tool := range tools {
		if tool == "" {
			delete(tools, id)
		}
	}

	return tools
}

// Observability converts logging and telemetry settings for mode.
func (c *Config) Observability(mode observability.AppMode, version string) observability.Config {
	obs := observability.DefaultConfig()
	obs.Mode = mode
	obs.ServiceVersion = version
	obs.LogLevel = observability.ParseLevel(c.Logging.Level)
	obs.LogJSON = c.Logging.Format == FormatJSON
	obs.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = c.Telemetry.OTLPInsecure
	obs.SampleRatio = c.Telemetry.SampleRatio

	return obs
}
