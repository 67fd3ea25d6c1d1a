package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway run modes.
const (
	// ModeReactor runs the readiness loop continuously in its own goroutine.
	ModeReactor = "reactor"

	// ModePoll drives the readiness loop from a ticker, one PollOnce per tick.
	ModePoll = "poll"
)

// knownSensorTypes lists the status keys a sensor entity can be bound to.
// Kept here (rather than imported from the sensor package) so config stays a leaf package.
var knownSensorTypes = map[string]bool{
	"value":       true,
	"hcho":        true,
	"temperature": true,
	"humidity":    true,
}

// Config is the root configuration structure for the AirCat gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Health     HealthConfig     `yaml:"health"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GatewayConfig contains the device-facing TCP listener settings.
type GatewayConfig struct {
	// ID identifies this gateway in health and status messages.
	ID string `yaml:"id"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Backlog is the kernel accept queue length for the listening socket.
	Backlog int `yaml:"backlog"`

	// ReadTimeout bounds every socket read. A timeout means "not ready yet",
	// never "peer closed".
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds acknowledgement and snapshot writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ReadBufferSize is the maximum number of bytes taken per read (one frame).
	ReadBufferSize int `yaml:"read_buffer_size"`

	// EventQueueSize bounds readiness events waiting for the loop.
	EventQueueSize int `yaml:"event_queue_size"`

	// Mode is "reactor" (continuous loop) or "poll" (ticker-driven PollOnce).
	Mode string `yaml:"mode"`

	// PollInterval is the ticker period in poll mode.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollTimeout is passed to PollOnce in poll mode: 0 returns immediately,
	// a positive value waits at most that long, a negative value blocks.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// SensorsConfig describes the sensor entities exposed for each device.
type SensorsConfig struct {
	// Name is the base entity name.
	Name string `yaml:"name"`

	// Devices lists device identifiers (12 hex digits, separators allowed).
	// An empty entry binds to whichever device reported first.
	Devices []string `yaml:"devices"`

	// Types lists the status keys to expose: value, hcho, temperature, humidity.
	Types []string `yaml:"types"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// APIConfig contains management HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains WebSocket push settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls periodic health publishing.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DispatcherConfig sizes the update fan-out worker pool.
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
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
// Environment variables follow the pattern: AIRCAT_SECTION_KEY
// For example: AIRCAT_GATEWAY_PORT, AIRCAT_MQTT_HOST
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

	if errs := applyEnvOverrides(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("applying environment overrides: %s", strings.Join(errs, "; "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:             "aircat-gateway",
			Host:           "0.0.0.0",
			Port:           9000,
			Backlog:        5,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			ReadBufferSize: 1024,
			EventQueueSize: 256,
			Mode:           ModeReactor,
			PollInterval:   30 * time.Second,
		},
		Sensors: SensorsConfig{
			Name:    "AirCat",
			Devices: []string{""},
			Types:   []string{"value", "hcho", "temperature", "humidity"},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/aircat.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "aircat-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "aircat",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Workers:   4,
			QueueSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies AIRCAT_* environment variable overrides.
// It returns a description of every override that could not be parsed.
func applyEnvOverrides(cfg *Config) []string {
	var errs []string

	if v := os.Getenv("AIRCAT_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("AIRCAT_GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("AIRCAT_GATEWAY_PORT=%q is not a number", v))
		} else {
			cfg.Gateway.Port = port
		}
	}

	if v := os.Getenv("AIRCAT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("AIRCAT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AIRCAT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AIRCAT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("AIRCAT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("AIRCAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return errs
}

// Validate checks the configuration for errors.
//
// Every problem is collected so an operator can fix the file in one pass.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Gateway.validate()...)
	errs = append(errs, c.Sensors.validate()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt.enabled is true")
		}
		if !validPort(c.MQTT.Broker.Port) {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt.enabled is true")
		}
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && c.Gateway.Port == c.API.Port && c.Gateway.Host == c.API.Host {
		errs = append(errs, "api.port must differ from gateway.port")
	}

	if c.Dispatcher.Workers < 1 {
		errs = append(errs, "dispatcher.workers must be at least 1")
	}
	if c.Dispatcher.QueueSize < 1 {
		errs = append(errs, "dispatcher.queue_size must be at least 1")
	}

	if c.Health.Interval <= 0 {
		errs = append(errs, "health.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (g GatewayConfig) validate() []string {
	var errs []string

	if g.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if !validPort(g.Port) {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if g.Backlog < 1 {
		errs = append(errs, "gateway.backlog must be at least 1")
	}
	if g.ReadTimeout <= 0 {
		errs = append(errs, "gateway.read_timeout must be positive")
	}
	if g.WriteTimeout <= 0 {
		errs = append(errs, "gateway.write_timeout must be positive")
	}
	if g.ReadBufferSize < 1 {
		errs = append(errs, "gateway.read_buffer_size must be at least 1")
	}
	if g.EventQueueSize < 1 {
		errs = append(errs, "gateway.event_queue_size must be at least 1")
	}

	switch g.Mode {
	case ModeReactor:
	case ModePoll:
		if g.PollInterval <= 0 {
			errs = append(errs, "gateway.poll_interval must be positive in poll mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateway.mode %q must be %q or %q", g.Mode, ModeReactor, ModePoll))
	}

	return errs
}

func (s SensorsConfig) validate() []string {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "sensors.name is required")
	}
	if len(s.Devices) == 0 {
		errs = append(errs, "sensors.devices must list at least one entry (use \"\" for any device)")
	}
	if len(s.Types) == 0 {
		errs = append(errs, "sensors.types must list at least one sensor type")
	}
	for _, t := range s.Types {
		if !knownSensorTypes[t] {
			errs = append(errs, fmt.Sprintf("sensors.types: unknown type %q", t))
		}
	}

	return errs
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

// ReadTimeout converts Read to a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout converts Write to a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout converts Idle to a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// GatewayAddr returns the host:port the device listener binds to.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
