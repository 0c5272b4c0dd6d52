package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the UPB bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	PIM      PIMConfig      `yaml:"pim"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// PIMConfig contains Powerline Interface Module connection and
// transaction settings. The PIM is reached through a serial-to-network
// adapter, so the address is an ordinary host and port.
type PIMConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// NetworkID is the UPB network this installation operates on.
	NetworkID int `yaml:"network_id"`

	// SourceID is the source address stamped on outgoing packets.
	SourceID int `yaml:"source_id"`

	// MaxRetry is the attempt budget per transaction (1-60).
	MaxRetry int `yaml:"max_retry"`

	// MaxProcessingTimeMs bounds each transaction stage wait, in
	// milliseconds (up to 60000).
	MaxProcessingTimeMs int `yaml:"max_processing_time_ms"`

	// RetryDelayMs is the fixed delay between attempts after a busy
	// response, in milliseconds.
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// ReconnectIntervalSeconds is the fixed interval between
	// reconnection attempts after the adapter connection drops.
	ReconnectIntervalSeconds int `yaml:"reconnect_interval_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: UPBBRIDGE_SECTION_KEY
// For example: UPBBRIDGE_DATABASE_PATH, UPBBRIDGE_PIM_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "UPB Bridge",
			Timezone: "UTC",
		},
		PIM: PIMConfig{
			Host:                     "localhost",
			Port:                     4011,
			SourceID:                 0xFF,
			MaxRetry:                 10,
			MaxProcessingTimeMs:      10000,
			RetryDelayMs:             250,
			ReconnectIntervalSeconds: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/upbbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "upb-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: UPBBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// PIM
	if v := os.Getenv("UPBBRIDGE_PIM_HOST"); v != "" {
		cfg.PIM.Host = v
	}
	if v := os.Getenv("UPBBRIDGE_PIM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PIM.Port = port
		}
	}

	// Database
	if v := os.Getenv("UPBBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("UPBBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("UPBBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("UPBBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("UPBBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("UPBBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// PIM validation
	if c.PIM.Host == "" {
		errs = append(errs, "pim.host is required")
	}
	if c.PIM.Port < 1 || c.PIM.Port > 65535 {
		errs = append(errs, "pim.port must be between 1 and 65535")
	}
	if c.PIM.NetworkID < 0 || c.PIM.NetworkID > 255 {
		errs = append(errs, "pim.network_id must be between 0 and 255")
	}
	if c.PIM.SourceID < 0 || c.PIM.SourceID > 255 {
		errs = append(errs, "pim.source_id must be between 0 and 255")
	}
	if c.PIM.MaxRetry < 1 || c.PIM.MaxRetry > 60 {
		errs = append(errs, "pim.max_retry must be between 1 and 60")
	}
	if c.PIM.MaxProcessingTimeMs < 1 || c.PIM.MaxProcessingTimeMs > 60000 {
		errs = append(errs, "pim.max_processing_time_ms must be between 1 and 60000")
	}
	if c.PIM.RetryDelayMs < 1 {
		errs = append(errs, "pim.retry_delay_ms must be positive")
	}
	if c.PIM.ReconnectIntervalSeconds < 1 {
		errs = append(errs, "pim.reconnect_interval_seconds must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetMaxProcessingTime returns the per-stage transaction timeout as a Duration.
func (c *Config) GetMaxProcessingTime() time.Duration {
	return time.Duration(c.PIM.MaxProcessingTimeMs) * time.Millisecond
}

// GetRetryDelay returns the busy-retry delay as a Duration.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.PIM.RetryDelayMs) * time.Millisecond
}

// GetReconnectInterval returns the PIM reconnect interval as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.PIM.ReconnectIntervalSeconds) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
