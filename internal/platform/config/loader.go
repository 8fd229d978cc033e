package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "earwatch-server-go/internal/platform/errors"
)

// DefaultConfigFile is the config file looked up in the working directory.
const DefaultConfigFile = ".config.yaml"

// Loader reads the server configuration from a yaml file layered over the
// built-in defaults, with environment variables taking final precedence for
// secrets.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading DefaultConfigFile.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultConfigFile,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the config file location (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Load builds the effective configuration.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "parse "+l.path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "read "+l.path, err)
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without writing them into
// the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EARWATCH_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("EARWATCH_ASR_ACCESS_TOKEN"); v != "" {
		cfg.ASR.Streaming.AccessToken = v
	}
	if v := os.Getenv("EARWATCH_ASR_API_KEY"); v != "" {
		cfg.ASR.Buffered.APIKey = v
	}
	if v := os.Getenv("EARWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Server.Auth.Store.Redis.Password = v
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("invalid server port %d", cfg.Server.Port))
	}
	if cfg.Web.Enabled && (cfg.Web.Port <= 0 || cfg.Web.Port > 65535) {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("invalid web port %d", cfg.Web.Port))
	}
	switch cfg.ASR.Selected {
	case "streaming", "buffered":
	default:
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("unknown asr backend %q", cfg.ASR.Selected))
	}
	if cfg.ASR.Buffered.FlushInterval <= 0 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			"buffered flush interval must be positive")
	}
	if cfg.Detection.FuzzyThreshold <= 0 || cfg.Detection.FuzzyThreshold > 1 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("fuzzy threshold %.2f out of range", cfg.Detection.FuzzyThreshold))
	}
	return nil
}
