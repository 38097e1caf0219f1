package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Oikomaticz hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Notifications NotificationsConfig `yaml:"notifications"`
	MainWorker    MainWorkerConfig    `yaml:"mainworker"`
	EventLog      EventLogConfig      `yaml:"event_log"`
	Security      SecurityConfig      `yaml:"security"`
	Hardware      []HardwareConfig    `yaml:"hardware"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates used by time-based rules.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	BaseTopic string              `yaml:"base_topic"`
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
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MetricsConfig contains Prometheus and StatsD export settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	StatsD     StatsDConfig     `yaml:"statsd"`
}

// PrometheusConfig controls the /metrics scrape endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StatsDConfig controls the optional DogStatsD sink.
type StatsDConfig struct {
	Enabled bool     `yaml:"enabled"`
	Address string   `yaml:"address"`
	Prefix  string   `yaml:"prefix"`
	Tags    []string `yaml:"tags"`
}

// NotificationsConfig contains notification transport settings.
type NotificationsConfig struct {
	// MinInterval suppresses a repeated subject within this many seconds.
	MinInterval int            `yaml:"min_interval"`
	KeepLast    int            `yaml:"keep_last"`
	Pushover    PushoverConfig `yaml:"pushover"`
	Webhook     WebhookConfig  `yaml:"webhook"`
}

// PushoverConfig contains Pushover API credentials.
type PushoverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	User    string `yaml:"user"`
	URL     string `yaml:"url"`
}

// WebhookConfig posts notifications as JSON to an arbitrary URL.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// MainWorkerConfig tunes the RX message dispatch loop.
type MainWorkerConfig struct {
	QueueSize int `yaml:"queue_size"`
	// HistoryDays is how long meter and sensor samples are kept.
	HistoryDays int `yaml:"history_days"`
}

// EventLogConfig controls the activity log shown by /api/v1/events.
type EventLogConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AdminPassword is used when the first admin account is created on an
	// empty database. A random password is generated and logged when unset.
	AdminPassword string `yaml:"admin_password"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// HardwareConfig describes one hardware adapter instance.
//
// The common fields cover every adapter; anything vendor-specific goes into
// Options and is interpreted by the adapter's factory.
type HardwareConfig struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`

	// PollInterval is in seconds. Zero lets the adapter pick its default.
	PollInterval int `yaml:"poll_interval"`
	// HeartbeatTimeout is in seconds. Zero disables the watchdog for this adapter.
	HeartbeatTimeout int `yaml:"heartbeat_timeout"`

	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	Options map[string]string `yaml:"options"`
}

// Option returns a string option or def when unset.
func (h HardwareConfig) Option(key, def string) string {
	if v, ok := h.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns an integer option or def when unset or malformed.
func (h HardwareConfig) OptionInt(key string, def int) int {
	v, ok := h.Options[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// PollDuration returns the poll interval, falling back to def.
func (h HardwareConfig) PollDuration(def time.Duration) time.Duration {
	if h.PollInterval <= 0 {
		return def
	}
	return time.Duration(h.PollInterval) * time.Second
}

// HeartbeatDuration returns the watchdog timeout, or zero when disabled.
func (h HardwareConfig) HeartbeatDuration() time.Duration {
	return time.Duration(h.HeartbeatTimeout) * time.Second
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OIKOMATICZ_SECTION_KEY
// For example: OIKOMATICZ_DATABASE_PATH, OIKOMATICZ_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "Oikomaticz",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/oikomaticz.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "oikomaticz",
			},
			QoS:       1,
			BaseTopic: "oikomaticz",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			StatsD: StatsDConfig{
				Address: "127.0.0.1:8125",
				Prefix:  "oikomaticz.",
			},
		},
		Notifications: NotificationsConfig{
			MinInterval: 300,
			KeepLast:    200,
		},
		MainWorker: MainWorkerConfig{
			QueueSize:   1024,
			HistoryDays: 30,
		},
		EventLog: EventLogConfig{
			RetentionDays: 90,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OIKOMATICZ_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("OIKOMATICZ_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OIKOMATICZ_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OIKOMATICZ_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("OIKOMATICZ_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OIKOMATICZ_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("OIKOMATICZ_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("OIKOMATICZ_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("OIKOMATICZ_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("OIKOMATICZ_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("OIKOMATICZ_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = v == "true" || v == "1"
	}

	// Notifications
	if v := os.Getenv("OIKOMATICZ_PUSHOVER_TOKEN"); v != "" {
		cfg.Notifications.Pushover.Token = v
	}
	if v := os.Getenv("OIKOMATICZ_PUSHOVER_USER"); v != "" {
		cfg.Notifications.Pushover.User = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("OIKOMATICZ_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("OIKOMATICZ_ADMIN_PASSWORD"); v != "" {
		cfg.Security.AdminPassword = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Metrics.StatsD.Enabled && c.Metrics.StatsD.Address == "" {
		errs = append(errs, "metrics.statsd.address is required when statsd is enabled")
	}

	if c.Notifications.Pushover.Enabled && (c.Notifications.Pushover.Token == "" || c.Notifications.Pushover.User == "") {
		errs = append(errs, "notifications.pushover requires token and user")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		errs = append(errs, "notifications.webhook.url is required when the webhook is enabled")
	}

	if c.MainWorker.QueueSize < 1 {
		errs = append(errs, "mainworker.queue_size must be positive")
	}
	if c.EventLog.RetentionDays < 0 {
		errs = append(errs, "event_log.retention_days must not be negative")
	}

	// Forged tokens would allow switching real devices, so the secret is mandatory.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set OIKOMATICZ_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	seen := make(map[int]bool, len(c.Hardware))
	for i, hw := range c.Hardware {
		if hw.ID <= 0 {
			errs = append(errs, fmt.Sprintf("hardware[%d].id must be positive", i))
		} else if seen[hw.ID] {
			errs = append(errs, fmt.Sprintf("hardware[%d].id %d is duplicated", i, hw.ID))
		}
		seen[hw.ID] = true
		if hw.Type == "" {
			errs = append(errs, fmt.Sprintf("hardware[%d].type is required", i))
		}
		if hw.HeartbeatTimeout < 0 {
			errs = append(errs, fmt.Sprintf("hardware[%d].heartbeat_timeout must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
