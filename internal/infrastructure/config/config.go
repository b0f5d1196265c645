package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic HAP bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Mapping   MappingConfig   `yaml:"mapping"`
	Devices   DevicesConfig   `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// MappingConfig controls rule loading and the mapping core's retry behaviour.
type MappingConfig struct {
	// RulesFile is the YAML rule table loaded at startup.
	RulesFile string `yaml:"rules_file"`

	Observer ObserverConfig `yaml:"observer"`
	State    StateConfig    `yaml:"state"`

	// VariantMarker identifies enhanced rule variants; two distinct
	// variants never attach to the same device.
	VariantMarker string `yaml:"variant_marker"`

	// Incompatibilities lists secondary rules that are skipped when the
	// primary rule id contains PrimaryContains (empty matches every primary).
	Incompatibilities []IncompatibilityConfig `yaml:"incompatibilities"`

	// ErrorThreshold is the per-device error count at which the registry
	// reports a device as failing.
	ErrorThreshold int `yaml:"error_threshold"`
}

// ObserverConfig controls capability subscription retry backoff.
type ObserverConfig struct {
	InitialDelayMS int `yaml:"initial_delay_ms"`
	MaxDelayMS     int `yaml:"max_delay_ms"`
	MaxRetries     int `yaml:"max_retries"`
}

// StateConfig controls device write retries.
type StateConfig struct {
	MaxErrors    int `yaml:"max_errors"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// IncompatibilityConfig is one secondary-rule exclusion.
type IncompatibilityConfig struct {
	Secondary       string `yaml:"secondary"`
	PrimaryContains string `yaml:"primary_contains"`
}

// DevicesConfig controls device sources.
type DevicesConfig struct {
	// ReadTimeoutMS bounds live reads over MQTT.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`

	// Static devices are served in-process, for commissioning and development.
	Static []StaticDevice `yaml:"static"`
}

// StaticDevice describes an in-process device.
type StaticDevice struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Class        string         `yaml:"class"`
	VirtualClass string         `yaml:"virtual_class"`
	DriverID     string         `yaml:"driver_id"`
	Zone         string         `yaml:"zone"`
	Capabilities []string       `yaml:"capabilities"`
	UI           []StaticUI     `yaml:"ui"`
	Values       map[string]any `yaml:"values"`
}

// StaticUI is a UI component of a static device.
type StaticUI struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
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
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-hap.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hap",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8091,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Mapping: MappingConfig{
			RulesFile: "configs/rules.yaml",
			Observer: ObserverConfig{
				InitialDelayMS: 1000,
				MaxDelayMS:     10000,
				MaxRetries:     3,
			},
			State: StateConfig{
				MaxErrors:    5,
				RetryDelayMS: 1000,
			},
			VariantMarker: "-improved",
			Incompatibilities: []IncompatibilityConfig{
				{Secondary: "universal-fallback"},
				{Secondary: "speaker", PrimaryContains: "speaker-improved"},
				{Secondary: "smart-speaker", PrimaryContains: "sonos"},
			},
			ErrorThreshold: 5,
		},
		Devices: DevicesConfig{
			ReadTimeoutMS: 5000,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Mapping
	if v := os.Getenv("GRAYLOGIC_MAPPING_RULES_FILE"); v != "" {
		cfg.Mapping.RulesFile = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
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

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret runs the API unauthenticated; a short one is rejected.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	errs = append(errs, c.Mapping.validate()...)
	errs = append(errs, c.Devices.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (m MappingConfig) validate() []string {
	var errs []string
	if m.RulesFile == "" {
		errs = append(errs, "mapping.rules_file is required")
	}
	if m.Observer.InitialDelayMS <= 0 {
		errs = append(errs, "mapping.observer.initial_delay_ms must be positive")
	}
	if m.Observer.MaxDelayMS < m.Observer.InitialDelayMS {
		errs = append(errs, "mapping.observer.max_delay_ms must not be below initial_delay_ms")
	}
	if m.Observer.MaxRetries < 0 {
		errs = append(errs, "mapping.observer.max_retries must not be negative")
	}
	if m.State.MaxErrors < 0 {
		errs = append(errs, "mapping.state.max_errors must not be negative")
	}
	if m.State.RetryDelayMS < 0 {
		errs = append(errs, "mapping.state.retry_delay_ms must not be negative")
	}
	if m.ErrorThreshold < 1 {
		errs = append(errs, "mapping.error_threshold must be at least 1")
	}
	for i, inc := range m.Incompatibilities {
		if inc.Secondary == "" {
			errs = append(errs, fmt.Sprintf("mapping.incompatibilities[%d].secondary is required", i))
		}
	}
	return errs
}

func (d DevicesConfig) validate() []string {
	var errs []string
	if d.ReadTimeoutMS <= 0 {
		errs = append(errs, "devices.read_timeout_ms must be positive")
	}
	seen := make(map[string]bool, len(d.Static))
	for i, dev := range d.Static {
		switch {
		case dev.ID == "":
			errs = append(errs, fmt.Sprintf("devices.static[%d].id is required", i))
		case seen[dev.ID]:
			errs = append(errs, fmt.Sprintf("devices.static[%d].id %q is duplicated", i, dev.ID))
		}
		seen[dev.ID] = true
		if dev.Class == "" {
			errs = append(errs, fmt.Sprintf("devices.static[%d].class is required", i))
		}
	}
	return errs
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

// ObserverInitialDelay returns the first subscription retry delay.
func (m MappingConfig) ObserverInitialDelay() time.Duration {
	return time.Duration(m.Observer.InitialDelayMS) * time.Millisecond
}

// ObserverMaxDelay returns the subscription retry delay cap.
func (m MappingConfig) ObserverMaxDelay() time.Duration {
	return time.Duration(m.Observer.MaxDelayMS) * time.Millisecond
}

// StateRetryDelay returns the pause between device write retries.
func (m MappingConfig) StateRetryDelay() time.Duration {
	return time.Duration(m.State.RetryDelayMS) * time.Millisecond
}

// ReadTimeout returns the live read timeout.
func (d DevicesConfig) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutMS) * time.Millisecond
}
