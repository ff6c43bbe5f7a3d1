package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	DelCo         DelCoConfig   `yaml:"delco"`
	MQTT          MQTTConfig    `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig      `yaml:"home_assistant,omitempty"`
	Refresh       RefreshConfig `yaml:"refresh,omitempty"`
}

// DelCoConfig holds credentials and cached tokens for the Del-Co Water API
type DelCoConfig struct {
	Username     string    `yaml:"username,omitempty"`
	Password     string    `yaml:"password,omitempty"`
	AccessToken  string    `yaml:"access_token,omitempty"`
	IDToken      string    `yaml:"id_token,omitempty"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	TokenExpiry  time.Time `yaml:"token_expiry,omitempty"`
	APIBaseURL   string    `yaml:"api_base_url,omitempty"` // default https://delco-api.cloud-esc.com/v2
	PortalURL    string    `yaml:"portal_url,omitempty"`   // customer portal, only used by login --browser
}

// MQTTConfig holds the broker used for Home Assistant sensor discovery
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`                     // e.g., "homeassistant.local:1883"
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty"`     // default "delco_water"
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"` // default "homeassistant"
}

// HAConfig holds Home Assistant API configuration for long-term statistics
type HAConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`   // e.g., "http://homeassistant.local:8123"
	Token   string `yaml:"token"` // Long-lived access token
}

// RefreshConfig controls the periodic refresh
type RefreshConfig struct {
	Schedule       string `yaml:"schedule,omitempty"`         // cron spec, default "@every 6h"
	HistoryDays    int    `yaml:"history_days,omitempty"`     // usage and billing lookback, default 365
	PaymentDays    int    `yaml:"payment_days,omitempty"`     // payment lookback, default 730
	TimeoutMinutes int    `yaml:"timeout_minutes,omitempty"`  // per-run timeout, default 10
	PublishOnFetch bool   `yaml:"publish_on_fetch,omitempty"` // run publishes after each fetch
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// ApplyEnv loads a .env file if present and lets DELCO_USERNAME and
// DELCO_PASSWORD override the file credentials.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	if v := os.Getenv("DELCO_USERNAME"); v != "" {
		c.DelCo.Username = v
	}
	if v := os.Getenv("DELCO_PASSWORD"); v != "" {
		c.DelCo.Password = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		c.HomeAssistant.Token = v
	}
	return nil
}

// GetSchedule returns the cron spec for the refresh cycle
func (c *Config) GetSchedule() string {
	if c.Refresh.Schedule == "" {
		return "@every 6h"
	}
	return c.Refresh.Schedule
}

// GetHistoryDays returns the usage and billing lookback with a default of one year
func (c *Config) GetHistoryDays() int {
	if c.Refresh.HistoryDays <= 0 {
		return 365
	}
	return c.Refresh.HistoryDays
}

// GetPaymentDays returns the payment lookback with a default of two years
func (c *Config) GetPaymentDays() int {
	if c.Refresh.PaymentDays <= 0 {
		return 730
	}
	return c.Refresh.PaymentDays
}

// GetTimeout returns how long a single refresh may take
func (c *Config) GetTimeout() time.Duration {
	if c.Refresh.TimeoutMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Refresh.TimeoutMinutes) * time.Minute
}

// GetTopicPrefix returns the MQTT state topic prefix
func (c MQTTConfig) GetTopicPrefix() string {
	if c.TopicPrefix == "" {
		return "delco_water"
	}
	return c.TopicPrefix
}

// GetDiscoveryPrefix returns the Home Assistant MQTT discovery prefix
func (c MQTTConfig) GetDiscoveryPrefix() string {
	if c.DiscoveryPrefix == "" {
		return "homeassistant"
	}
	return c.DiscoveryPrefix
}
