// Package config provides configuration management for the Kite client.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultRefreshCutoff is the daily instrument refresh cutoff (local time)
	// used when instruments.refresh_cutoff is unset.
	defaultRefreshCutoff = "08:30"
	// defaultMaxStrikes is used when instruments.max_strikes is unset.
	defaultMaxStrikes = 5
	// defaultTimeout is the HTTP timeout used when broker.timeout is unset.
	defaultTimeout = 7 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Broker      BrokerConfig      `yaml:"broker"`
	Session     SessionConfig     `yaml:"session"`
	Instruments InstrumentsConfig `yaml:"instruments"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// CredentialsConfig holds the long-lived login credentials. All three
// fields are expanded from the environment before parsing, so a config
// file can reference ${KITE_PASSWORD} instead of embedding secrets.
type CredentialsConfig struct {
	UserID     string `yaml:"user_id"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
}

// BrokerConfig defines broker endpoint settings.
type BrokerConfig struct {
	// APIBaseURL is the trading-API root; authenticated calls target this
	// host and receive the enctoken Authorization header.
	APIBaseURL string `yaml:"api_base_url"`
	// KiteBaseURL is the web login host; login/twofa calls target this
	// host and never carry the Authorization header.
	KiteBaseURL string `yaml:"kite_base_url"`
	Timeout     string `yaml:"timeout"`
}

// SessionConfig defines where the cached enctoken lives.
type SessionConfig struct {
	TokenPath string `yaml:"token_path"`
}

// InstrumentsConfig defines instrument dataset settings.
type InstrumentsConfig struct {
	DatasetPath string `yaml:"dataset_path"`
	// RefreshCutoff is "HH:MM" local time; the dataset is stale if it was
	// last written before today's cutoff.
	RefreshCutoff string `yaml:"refresh_cutoff"`
	MaxStrikes    int    `yaml:"max_strikes"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Credentials.UserID == "" {
		return fmt.Errorf("credentials.user_id is required")
	}
	if c.Credentials.Password == "" {
		return fmt.Errorf("credentials.password is required")
	}
	if c.Credentials.TOTPSecret == "" {
		return fmt.Errorf("credentials.totp_secret is required")
	}

	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}

	if c.Session.TokenPath == "" {
		return fmt.Errorf("session.token_path is required")
	}
	if c.Instruments.DatasetPath == "" {
		return fmt.Errorf("instruments.dataset_path is required")
	}
	if _, err := time.Parse("15:04", c.Instruments.RefreshCutoff); err != nil {
		return fmt.Errorf("instruments.refresh_cutoff must be HH:MM: %w", err)
	}
	if c.Instruments.MaxStrikes <= 0 {
		return fmt.Errorf("instruments.max_strikes must be > 0")
	}

	return nil
}

// applyDefaults fills optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = defaultTimeout.String()
	}
	if c.Instruments.RefreshCutoff == "" {
		c.Instruments.RefreshCutoff = defaultRefreshCutoff
	}
	if c.Instruments.MaxStrikes == 0 {
		c.Instruments.MaxStrikes = defaultMaxStrikes
	}
}

// IsPaperTrading returns true if the client is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetTimeout returns the configured HTTP timeout duration.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return defaultTimeout
	}
	return d
}

// RefreshCutoffClock returns the refresh cutoff as hour and minute.
func (c *Config) RefreshCutoffClock() (hour, minute int) {
	t, err := time.Parse("15:04", c.Instruments.RefreshCutoff)
	if err != nil {
		return 8, 30
	}
	return t.Hour(), t.Minute()
}
