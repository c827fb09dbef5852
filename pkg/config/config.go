package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/twinverse/hostbridge/pkg/exec"
	"github.com/twinverse/hostbridge/pkg/plasma"
	"github.com/twinverse/hostbridge/pkg/sandbox"
)

// EnvPrefix prefixes every environment override, e.g. HOSTBRIDGE_LOG_LEVEL.
const EnvPrefix = "HOSTBRIDGE"

// Config defines runtime settings for hostbridge.
type Config struct {
	LogLevel  string       `yaml:"logLevel" split_words:"true"`
	LogFormat string       `yaml:"logFormat" split_words:"true"`
	Exec      ExecConfig   `yaml:"exec"`
	Plasma    PlasmaConfig `yaml:"plasma"`
}

type ExecConfig struct {
	Timeout      string   `yaml:"timeout"`
	MaxOutput    int      `yaml:"maxOutput" split_words:"true"`
	Marker       string   `yaml:"marker"`
	EscapePrefix []string `yaml:"escapePrefix" split_words:"true"`
}

type PlasmaConfig struct {
	Desktop    string   `yaml:"desktop"`
	DesktopEnv string   `yaml:"desktopEnv" split_words:"true"`
	Candidates []string `yaml:"candidates"`
	Native     bool     `yaml:"native"`
	DodgeMode  string   `yaml:"dodgeMode" split_words:"true"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Exec: ExecConfig{
			Timeout:      exec.DefaultTimeout.String(),
			MaxOutput:    1 << 20,
			Marker:       sandbox.DefaultMarker,
			EscapePrefix: append([]string(nil), exec.DefaultEscapePrefix...),
		},
		Plasma: PlasmaConfig{
			Desktop:    plasma.DefaultDesktop,
			DesktopEnv: plasma.DefaultDesktopEnv,
			Candidates: append([]string(nil), plasma.DefaultCandidates...),
			DodgeMode:  plasma.DefaultDodgeMode,
		},
	}
}

// LoadConfig loads defaults, then the YAML file at path, then environment
// overrides. An empty path skips the file. A missing file at the default
// location is not an error; a missing explicit path is.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath():
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := c.ExecTimeout(); err != nil {
		return err
	}
	if c.Exec.MaxOutput < 0 {
		return fmt.Errorf("exec.maxOutput must not be negative: %d", c.Exec.MaxOutput)
	}
	if len(c.Exec.EscapePrefix) == 0 {
		return errors.New("exec.escapePrefix must not be empty")
	}
	if len(c.Plasma.Candidates) == 0 && !c.Plasma.Native {
		return errors.New("plasma.candidates is empty and plasma.native is off")
	}
	return nil
}

// ExecTimeout parses Exec.Timeout. An empty value means exec.DefaultTimeout.
func (c *Config) ExecTimeout() (time.Duration, error) {
	if c.Exec.Timeout == "" {
		return exec.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Exec.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse exec.timeout: %w", err)
	}
	return d, nil
}

// RunnerConfig converts the exec section for exec.NewRunner.
func (c *Config) RunnerConfig() exec.Config {
	timeout, _ := c.ExecTimeout()
	return exec.Config{
		Timeout:      timeout,
		MaxOutput:    c.Exec.MaxOutput,
		EscapePrefix: c.Exec.EscapePrefix,
	}
}

// PlasmaOptions converts the plasma section into manager options.
func (c *Config) PlasmaOptions() []plasma.Option {
	timeout, _ := c.ExecTimeout()
	return []plasma.Option{
		plasma.WithDesktop(c.Plasma.Desktop),
		plasma.WithDesktopEnv(c.Plasma.DesktopEnv),
		plasma.WithCandidates(c.Plasma.Candidates...),
		plasma.WithNative(c.Plasma.Native),
		plasma.WithDodgeMode(c.Plasma.DodgeMode),
		plasma.WithTimeout(timeout),
	}
}

// DefaultConfigPath returns the default location for the config file.
func DefaultConfigPath() string {
	if path := os.Getenv("HOSTBRIDGE_CONFIG"); path != "" {
		return path
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hostbridge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hostbridge", "config.yaml")
}
