package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/capsafe/internal/checker"
	"github.com/orizon-lang/capsafe/internal/diagnostic"
	"github.com/orizon-lang/capsafe/internal/discharge"
)

// Config is the capcheck configuration file.
type Config struct {
	StrictMode       bool   `yaml:"strict_mode"`
	TimeoutMS        uint32 `yaml:"timeout_ms"`
	Profile          string `yaml:"profile"`
	Z3Path           string `yaml:"z3_path"`
	LogLevel         string `yaml:"log_level"`
	WarningsAsErrors bool   `yaml:"warnings_as_errors"`
	UnknownAsError   bool   `yaml:"unknown_as_error"`
	MaxErrors        int    `yaml:"max_errors"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Profile:  string(discharge.ProfileFast),
		LogLevel: "warn",
	}
}

// LoadConfig loads configuration from file. A missing file yields the
// defaults; keys absent from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return config, nil
}

// ParseConfig decodes a configuration document over the defaults.
func ParseConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	if _, err := discharge.ParseProfile(c.Profile); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max_errors must not be negative")
	}
	return nil
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Checker returns the unit configuration.
func (c *Config) Checker() checker.Config {
	profile, err := discharge.ParseProfile(c.Profile)
	if err != nil {
		profile = discharge.ProfileFast
	}
	return checker.Config{
		StrictMode:     c.StrictMode,
		TimeoutMS:      c.TimeoutMS,
		Profile:        profile,
		Z3Path:         c.Z3Path,
		UnknownAsError: c.UnknownAsError,
	}
}

// Engine returns the diagnostic engine configuration. The highlighter is
// left for the caller, which owns the source text.
func (c *Config) Engine() diagnostic.Config {
	return diagnostic.Config{
		MaxErrors:        c.MaxErrors,
		WarningsAsErrors: c.WarningsAsErrors,
		ShowSuggestions:  true,
		ShowRelatedInfo:  true,
	}
}
