package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/unifyops/provisioner/pkg/telemetry"
)

// Config is the service configuration, loaded from YAML.
type Config struct {
	// TerraformDir is the root directory all module paths resolve
	// against.
	TerraformDir string `yaml:"terraform_dir" validate:"required"`

	// TerraformBinary is the terraform executable, resolved via PATH
	// when not absolute.
	TerraformBinary string `yaml:"terraform_binary" validate:"required"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path" validate:"required"`

	// DefaultTimeout bounds each terraform invocation.
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"min=0"`

	// WatchModules enables fsnotify invalidation of the module catalog.
	WatchModules bool `yaml:"watch_modules"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TerraformDir:    "terraform",
		TerraformBinary: "terraform",
		DatabasePath:    "provisioner.db",
		DefaultTimeout:  10 * time.Minute,
		WatchModules:    false,
		Telemetry:       *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path, layered over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, including the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
