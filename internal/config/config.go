package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type VaultConfig struct {
	// Master key material. Either a raw 32 byte key (hex or base64) or any
	// passphrase, which is stretched into a key.
	Key string `mapstructure:"key"`
}

type WebhookConfig struct {
	// HMAC-SHA256 key for cloud relay deliveries.
	Secret string `mapstructure:"secret"`
	// Reject deliveries without a signature header. When false a missing
	// header is logged and the delivery is processed.
	RequireSignature bool `mapstructure:"require_signature"`
}

type StreamConfig struct {
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SilenceTimeout    time.Duration `mapstructure:"silence_timeout"`
}

type WebSocketConfig struct {
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type HealthConfig struct {
	// Minimum time between last_seen writes caused by non-punch activity.
	StampInterval time.Duration `mapstructure:"stamp_interval"`
}

type ADMSConfig struct {
	// Location for wall clock timestamps in ADMS attendance logs.
	Timezone string `mapstructure:"timezone"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`

	// Comma separated list of allowed CIDR networks for the management API. Empty means allow all.
	AllowedNetworks string `mapstructure:"allowed_networks"`

	// Allow the WebSocket vendor virtual event trigger. Never enable in production.
	VirtualEvents bool `mapstructure:"virtual_events"`

	Vault     VaultConfig     `mapstructure:"vault"`
	Storage   Storage         `mapstructure:"storage"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Stream    StreamConfig    `mapstructure:"stream"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Health    HealthConfig    `mapstructure:"health"`
	ADMS      ADMSConfig      `mapstructure:"adms"`
}

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from config file and environment variables.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, path := range configFile {
		v.SetConfigFile(path)
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
	}

	// Load configuration from environment variables
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Convert relative sqlite path to absolute instance folder
	if cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
		if cfg.Storage.SQLite.Path == ":memory:" {
			// In-memory database, do nothing
		} else if !os.IsPathSeparator(cfg.Storage.SQLite.Path[0]) {
			cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), cfg.Storage.SQLite.Path)
		}
	}

	if cfg.Stream.SilenceTimeout <= cfg.Stream.HeartbeatInterval {
		slog.Warn("stream.silence_timeout must exceed stream.heartbeat_interval, doubling the interval",
			"silence_timeout", cfg.Stream.SilenceTimeout, "heartbeat_interval", cfg.Stream.HeartbeatInterval)
		cfg.Stream.SilenceTimeout = 2 * cfg.Stream.HeartbeatInterval
	}

	// Missing key material is only fatal once a secret is touched.
	if cfg.Vault.Key == "" {
		slog.Warn("Vault key is not set. Device credentials cannot be decrypted.")
	}

	if cfg.Webhook.Secret == "" {
		slog.Warn("Webhook secret is not set. Cloud relay signatures cannot be verified.")
	}

	return &cfg, nil
}

// Location returns the configured ADMS timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.ADMS.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ADMS.Timezone)
	if err != nil {
		slog.Warn("Invalid ADMS timezone, using UTC", "timezone", c.ADMS.Timezone, "error", err)
		return time.UTC
	}
	return loc
}
