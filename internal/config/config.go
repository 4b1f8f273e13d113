// Package config provides configuration management for the itelic updater.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (ITELIC_STORE_URL, ...).
const EnvPrefix = "ITELIC"

const (
	// DefaultHTTPTimeout bounds every request made to the licensing service.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultCacheTTL is how long a successful version check is reused. It is
	// shorter than DefaultPollSchedule so every scheduled poll asks the store.
	DefaultCacheTTL = time.Hour
	// DefaultPollSchedule runs the update check twice a day.
	DefaultPollSchedule = "@every 12h"
	// DefaultStatusAddr is the listen address of the daemon status server.
	DefaultStatusAddr = "127.0.0.1:9470"
	// DefaultCheckRateLimit is the number of on-demand checks allowed per DefaultCheckRatePeriod.
	DefaultCheckRateLimit = 6
	// DefaultCheckRatePeriod is the window for DefaultCheckRateLimit.
	DefaultCheckRatePeriod = "1h"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ProxyConfig holds outbound proxy settings for the licensing transport.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty" envconfig:"HTTP"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty" envconfig:"HTTPS"`
	NoProxy     string `yaml:"no_proxy,omitempty" envconfig:"NO_PROXY"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty" envconfig:"SOCKS5"`
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

// BreakerConfig configures the transport circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" envconfig:"ENABLED"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty" envconfig:"FAILURE_THRESHOLD"`
	OpenTimeout      time.Duration `yaml:"open_timeout,omitempty" envconfig:"OPEN_TIMEOUT"`
}

// Config holds the updater's configuration.
type Config struct {
	// StoreURL is the base URL of the store running the licensing add-on.
	StoreURL string `yaml:"store_url" envconfig:"STORE_URL"`
	// ProductID is the product id of this theme in the store.
	ProductID int64 `yaml:"product_id" envconfig:"PRODUCT_ID"`
	// Version is the currently installed version.
	Version string `yaml:"version" envconfig:"VERSION"`
	// Slug is the installed identifier the host keys update entries by.
	Slug string `yaml:"slug" envconfig:"SLUG"`
	// SiteURL identifies this installation when activating. An instance URN is used when empty.
	SiteURL string `yaml:"site_url,omitempty" envconfig:"SITE_URL"`

	SettingsPath    string        `yaml:"settings_path,omitempty" envconfig:"SETTINGS_PATH"`
	HTTPTimeout     time.Duration `yaml:"http_timeout,omitempty" envconfig:"HTTP_TIMEOUT"`
	CacheTTL        time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	PollSchedule    string        `yaml:"poll_schedule,omitempty" envconfig:"POLL_SCHEDULE"`
	RedisAddr       string        `yaml:"redis_addr,omitempty" envconfig:"REDIS_ADDR"`
	StatusAddr      string        `yaml:"status_addr,omitempty" envconfig:"STATUS_ADDR"`
	CheckRateLimit  int64         `yaml:"check_rate_limit,omitempty" envconfig:"CHECK_RATE_LIMIT"`
	CheckRatePeriod string        `yaml:"check_rate_period,omitempty" envconfig:"CHECK_RATE_PERIOD"`
	AutoCheckUpdate bool          `yaml:"auto_check_update" envconfig:"AUTO_CHECK_UPDATE"`
	Environment     Environment   `yaml:"environment,omitempty" envconfig:"ENV"`

	Proxy   ProxyConfig   `yaml:"proxy,omitempty" envconfig:"PROXY"`
	Breaker BreakerConfig `yaml:"breaker,omitempty" envconfig:"BREAKER"`
}

// Default returns a Config with sensible defaults and no product settings.
func Default() Config {
	return Config{
		HTTPTimeout:     DefaultHTTPTimeout,
		CacheTTL:        DefaultCacheTTL,
		PollSchedule:    DefaultPollSchedule,
		StatusAddr:      DefaultStatusAddr,
		CheckRateLimit:  DefaultCheckRateLimit,
		CheckRatePeriod: DefaultCheckRatePeriod,
		AutoCheckUpdate: true,
		Environment:     EnvDevelopment,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      time.Minute,
		},
	}
}

// DefaultConfigDir returns the default config directory (~/.itelic).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".itelic"), nil
}

// DefaultConfigPath returns the default config file path (~/.itelic/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// ResolveSettingsPath returns the settings database path, defaulting to
// settings.db next to the config file.
func (c *Config) ResolveSettingsPath() (string, error) {
	if c.SettingsPath != "" {
		return c.SettingsPath, nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.db"), nil
}

// Validate checks that the configuration has required fields for operation.
func (c *Config) Validate() error {
	if c.StoreURL == "" {
		return errors.New("store_url is required")
	}
	u, err := url.Parse(c.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("store_url must use http or https scheme")
	}
	if c.ProductID <= 0 {
		return errors.New("product_id must be positive")
	}
	if strings.TrimSpace(c.Version) == "" {
		return errors.New("version is required")
	}
	if c.Slug == "" {
		return errors.New("slug is required")
	}
	if c.CheckRateLimit > 0 {
		if _, err := time.ParseDuration(c.CheckRatePeriod); err != nil {
			return fmt.Errorf("invalid check_rate_period: %w", err)
		}
	}
	switch c.Environment {
	case "", EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}

// IsProduction reports whether the updater runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads the configuration from the given path and applies ITELIC_*
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
