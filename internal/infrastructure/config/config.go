package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Capture.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Capture   CaptureConfig   `yaml:"capture"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies this capture service instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CaptureConfig contains device directory and backend settings.
type CaptureConfig struct {
	// Backend selects the device backend: "v4l2" or "static".
	Backend string `yaml:"backend"`

	// DeviceListTimeoutMS is how long an enumerated device list is served
	// before re-enumeration, in milliseconds.
	// Default: 5000
	DeviceListTimeoutMS int `yaml:"device_list_timeout_ms"`

	// NameMaxLength bounds device display names, terminator included.
	// Default: 64
	NameMaxLength int `yaml:"name_max_length"`

	// WatchInterval is how often backends poll for attach/detach, in seconds.
	// 0 disables watching.
	// Default: 2
	WatchInterval int `yaml:"watch_interval"`

	V4L2   V4L2Config   `yaml:"v4l2"`
	Static StaticConfig `yaml:"static"`
}

// V4L2Config contains Video4Linux2 backend settings.
type V4L2Config struct {
	DevDir          string `yaml:"dev_dir"`
	SysfsDir        string `yaml:"sysfs_dir"`
	IncludeAllNodes bool   `yaml:"include_all_nodes"`
}

// StaticConfig contains settings for the configuration-defined backend.
// DevicesFile takes precedence over inline Devices.
type StaticConfig struct {
	DevicesFile string         `yaml:"devices_file"`
	Devices     []StaticDevice `yaml:"devices"`
}

// StaticDevice declares one device for the static backend.
type StaticDevice struct {
	Name      string         `yaml:"name"`
	UniqueID  string         `yaml:"unique_id"`
	ProductID string         `yaml:"product_id"`
	Formats   []StaticFormat `yaml:"formats"`
}

// StaticFormat declares one capture mode of a static device.
type StaticFormat struct {
	PixelFormat string  `yaml:"pixel_format"`
	Width       uint32  `yaml:"width"`
	Height      uint32  `yaml:"height"`
	FPS         float64 `yaml:"fps"`
	Interlaced  bool    `yaml:"interlaced"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long refresh and selection history is kept.
	// 0 keeps history forever.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_CAPTURE_SECTION_KEY
// For example: GRAYLOGIC_CAPTURE_DATABASE_PATH, GRAYLOGIC_CAPTURE_API_PORT
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

// Default returns the default configuration with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "capture-001",
			Name: "Gray Logic Capture",
		},
		Capture: CaptureConfig{
			Backend:             "v4l2",
			DeviceListTimeoutMS: 5000,
			NameMaxLength:       64,
			WatchInterval:       2,
		},
		Database: DatabaseConfig{
			Path:          "./data/capture.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-capture",
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
			Port: 8090,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_CAPTURE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Capture
	if v := os.Getenv("GRAYLOGIC_CAPTURE_BACKEND"); v != "" {
		cfg.Capture.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_CAPTURE_DEVICE_LIST_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Capture.DeviceListTimeoutMS = ms
		}
	}
	if v := os.Getenv("GRAYLOGIC_CAPTURE_STATIC_DEVICES_FILE"); v != "" {
		cfg.Capture.Static.DevicesFile = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_CAPTURE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_CAPTURE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_CAPTURE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_CAPTURE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_CAPTURE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_CAPTURE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_CAPTURE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_CAPTURE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	switch c.Capture.Backend {
	case "v4l2":
	case "static":
		if c.Capture.Static.DevicesFile == "" && len(c.Capture.Static.Devices) == 0 {
			errs = append(errs, "capture.static needs devices_file or devices")
		}
	default:
		errs = append(errs, fmt.Sprintf("capture.backend %q must be v4l2 or static", c.Capture.Backend))
	}
	if c.Capture.DeviceListTimeoutMS <= 0 {
		errs = append(errs, "capture.device_list_timeout_ms must be positive")
	}
	if c.Capture.NameMaxLength < 2 {
		errs = append(errs, "capture.name_max_length must be at least 2")
	}
	if c.Capture.WatchInterval < 0 {
		errs = append(errs, "capture.watch_interval must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetDeviceListTimeout returns the device list timeout as a Duration.
func (c *Config) GetDeviceListTimeout() time.Duration {
	return time.Duration(c.Capture.DeviceListTimeoutMS) * time.Millisecond
}

// GetWatchInterval returns the backend watch interval as a Duration.
func (c *Config) GetWatchInterval() time.Duration {
	return time.Duration(c.Capture.WatchInterval) * time.Second
}

// GetRetention returns the history retention as a Duration, zero when
// history is kept forever.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
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
