// Package config provides configuration loading for the daemon and client.
// Values resolve in order: built-in defaults, then the YAML config file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/colinrozzi/th-commit/pkg/engine"
)

const (
	// DefaultServerAddress is where the daemon listens and the client
	// connects unless configured otherwise.
	DefaultServerAddress = "127.0.0.1:9000"

	// EnvServerAddress overrides the daemon address for both binaries.
	EnvServerAddress = "THEATER_SERVER_ADDRESS"

	// EnvGeminiAPIKey holds the generation service credential.
	EnvGeminiAPIKey = "GOOGLE_GEMINI_API_KEY"
)

// Config is the resolved configuration shared by the daemon and client.
type Config struct {
	ServerAddress string `yaml:"server_address" validate:"required,hostname_port"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	StateDir      string `yaml:"state_dir"      validate:"required"`

	// DisableFallback turns off the templated fallback message when the
	// generation service fails; the run then fails in the generating stage.
	DisableFallback bool `yaml:"disable_fallback"`

	// StatusPort serves the read-only HTTP status API; zero disables it.
	StatusPort int `yaml:"status_port" validate:"gte=0,lte=65535"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig bounds each pipeline stage, in seconds. Zero means the
// engine default.
type TimeoutConfig struct {
	DetectSeconds   int `yaml:"detect_seconds"   validate:"gte=0"`
	GenerateSeconds int `yaml:"generate_seconds" validate:"gte=0"`
	CommitSeconds   int `yaml:"commit_seconds"   validate:"gte=0"`
	PushSeconds     int `yaml:"push_seconds"     validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	stateDir := ".th-commit"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".th-commit")
	}

	return Config{
		ServerAddress: DefaultServerAddress,
		StateDir:      stateDir,
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// LoadOrDefault loads the config file when it exists, and otherwise
// returns the defaults with environment overrides applied. A file that
// exists but fails to load is reported, not silently ignored.
func LoadOrDefault(path string) Config {
	if path != "" {
		config, err := Load(path)
		if err == nil {
			return config
		}

		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Ignoring unusable config file, using defaults", "path", path, "error", err)
		}
	}

	config := Default()
	config.applyEnv()

	return config
}

func (c *Config) applyEnv() {
	if address := os.Getenv(EnvServerAddress); address != "" {
		c.ServerAddress = address
	}

	if key := os.Getenv(EnvGeminiAPIKey); key != "" {
		c.GeminiAPIKey = key
	}
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// EngineConfig converts the stage timeouts into the engine's form. Unset
// values stay zero so the engine applies its defaults.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		DetectTimeout:   time.Duration(c.Timeouts.DetectSeconds) * time.Second,
		GenerateTimeout: time.Duration(c.Timeouts.GenerateSeconds) * time.Second,
		CommitTimeout:   time.Duration(c.Timeouts.CommitSeconds) * time.Second,
		PushTimeout:     time.Duration(c.Timeouts.PushSeconds) * time.Second,
	}
}
