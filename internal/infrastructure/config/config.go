package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Roomhub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Room       RoomConfig       `yaml:"room"`
	Devices    DevicesConfig    `yaml:"devices"`
	Activities ActivitiesConfig `yaml:"activities"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Events     EventsConfig     `yaml:"events"`
	Store      StoreConfig      `yaml:"store"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RoomConfig identifies the installation. The ID namespaces the persisted
// snapshot so two rooms sharing a data volume never clobber each other.
type RoomConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DevicesConfig holds per-role device settings.
type DevicesConfig struct {
	TV      DeviceConfig `yaml:"tv"`
	Speaker DeviceConfig `yaml:"speaker"`
	Media   DeviceConfig `yaml:"media"`
}

// DeviceConfig configures a single device adapter.
type DeviceConfig struct {
	// Variant selects the adapter implementation: "monitor", "sim", or "mock".
	Variant string `yaml:"variant"`

	// Host and Port locate the device on the network (monitor variant).
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PollInterval is how often the background poller queries device status (seconds).
	PollInterval int `yaml:"poll_interval"`

	// Sources lists the selectable input sources, if the device has any.
	Sources []string `yaml:"sources,omitempty"`
}

// ActivitiesConfig holds per-activity device orchestration settings.
type ActivitiesConfig struct {
	Watch  ActivityConfig `yaml:"watch"`
	Listen ActivityConfig `yaml:"listen"`
}

// ActivityConfig describes how one activity drives its devices.
type ActivityConfig struct {
	// Order is the sequence in which device roles are powered and configured.
	// Power-offs for roles leaving the activity run before power-ons, in the
	// departing activity's order.
	Order []string `yaml:"order"`

	// Volume is the default speaker volume applied on entry (0-100).
	Volume int `yaml:"volume"`

	// Sources maps a device role to the input source selected on entry.
	Sources map[string]string `yaml:"sources,omitempty"`

	// Station is the default media station for LISTEN (ignored for WATCH).
	Station string `yaml:"station,omitempty"`
}

// DispatchConfig holds command execution policy.
type DispatchConfig struct {
	// CommandTimeout is the per-attempt device command timeout (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// MaxAttempts is the retry budget per command, including the first attempt.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the initial retry delay (milliseconds), doubled per attempt.
	BackoffBase int `yaml:"backoff_base"`

	// QueueSize is the per-device command queue capacity.
	QueueSize int `yaml:"queue_size"`
}

// EventsConfig holds event broadcaster settings.
type EventsConfig struct {
	// BufferSize is the number of events retained for replay.
	BufferSize int `yaml:"buffer_size"`

	// SubscriberQueue is the per-subscriber outbound queue bound; a subscriber
	// that falls further behind than this is disconnected.
	SubscriberQueue int `yaml:"subscriber_queue"`
}

// StoreConfig holds durable snapshot settings.
type StoreConfig struct {
	// DataDir is the directory for the snapshot file.
	DataDir string `yaml:"data_dir"`
}

// HistoryConfig holds event history database settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// MaxRows bounds the history table; older rows are pruned past this count.
	MaxRows int `yaml:"max_rows"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT relay settings. The relay is optional; the
// orchestrator is fully functional without a broker.
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
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
// Environment variables follow the pattern: ROOMHUB_SECTION_KEY
// For example: ROOMHUB_STORE_DATA_DIR, ROOMHUB_API_PORT
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
		Room: RoomConfig{
			ID:   "living-room",
			Name: "Living Room",
		},
		Devices: DevicesConfig{
			TV:      DeviceConfig{Variant: "monitor", Port: 8001, PollInterval: 2},
			Speaker: DeviceConfig{Variant: "sim", PollInterval: 3, Sources: []string{"Opt", "Wifi"}},
			Media:   DeviceConfig{Variant: "sim", PollInterval: 3},
		},
		Activities: ActivitiesConfig{
			Watch: ActivityConfig{
				Order:   []string{"tv", "speaker"},
				Volume:  20,
				Sources: map[string]string{"speaker": "Opt"},
			},
			Listen: ActivityConfig{
				Order:   []string{"speaker", "media"},
				Volume:  30,
				Sources: map[string]string{"speaker": "Wifi"},
			},
		},
		Dispatch: DispatchConfig{
			CommandTimeout: 5,
			MaxAttempts:    3,
			BackoffBase:    250,
			QueueSize:      32,
		},
		Events: EventsConfig{
			BufferSize:      500,
			SubscriberQueue: 64,
		},
		Store: StoreConfig{
			DataDir: "./data",
		},
		History: HistoryConfig{
			Enabled:     true,
			Path:        "./data/history.db",
			WALMode:     true,
			BusyTimeout: 5,
			MaxRows:     10000,
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "roomhub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
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
// Environment variables follow the pattern: ROOMHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Room
	if v := os.Getenv("ROOMHUB_ROOM_ID"); v != "" {
		cfg.Room.ID = v
	}

	// Device addresses
	if v := os.Getenv("ROOMHUB_TV_HOST"); v != "" {
		cfg.Devices.TV.Host = v
	}
	if v := os.Getenv("ROOMHUB_SPEAKER_HOST"); v != "" {
		cfg.Devices.Speaker.Host = v
	}
	if v := os.Getenv("ROOMHUB_MEDIA_HOST"); v != "" {
		cfg.Devices.Media.Host = v
	}

	// Store
	if v := os.Getenv("ROOMHUB_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}

	// History
	if v := os.Getenv("ROOMHUB_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// API
	if v := os.Getenv("ROOMHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ROOMHUB_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("ROOMHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ROOMHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ROOMHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ROOMHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// validVariants are the recognised adapter implementations.
var validVariants = map[string]bool{"monitor": true, "sim": true, "mock": true}

// validRoles are the recognised device roles.
var validRoles = map[string]bool{"tv": true, "speaker": true, "media": true}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Room.ID == "" {
		errs = append(errs, "room.id is required")
	}

	for role, dev := range map[string]DeviceConfig{
		"tv": c.Devices.TV, "speaker": c.Devices.Speaker, "media": c.Devices.Media,
	} {
		if !validVariants[dev.Variant] {
			errs = append(errs, fmt.Sprintf("devices.%s.variant must be monitor, sim, or mock", role))
		}
		if dev.Variant == "monitor" && dev.Host == "" {
			errs = append(errs, fmt.Sprintf("devices.%s.host is required for the monitor variant", role))
		}
		if dev.PollInterval < 1 {
			errs = append(errs, fmt.Sprintf("devices.%s.poll_interval must be at least 1 second", role))
		}
	}

	for name, act := range map[string]ActivityConfig{
		"watch": c.Activities.Watch, "listen": c.Activities.Listen,
	} {
		if len(act.Order) == 0 {
			errs = append(errs, fmt.Sprintf("activities.%s.order must name at least one device role", name))
		}
		for _, role := range act.Order {
			if !validRoles[role] {
				errs = append(errs, fmt.Sprintf("activities.%s.order contains unknown role %q", name, role))
			}
		}
		if act.Volume < 0 || act.Volume > 100 {
			errs = append(errs, fmt.Sprintf("activities.%s.volume must be between 0 and 100", name))
		}
	}

	if c.Dispatch.CommandTimeout < 1 {
		errs = append(errs, "dispatch.command_timeout must be at least 1 second")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch.max_attempts must be at least 1")
	}

	if c.Events.BufferSize < 1 {
		errs = append(errs, "events.buffer_size must be at least 1")
	}
	if c.Events.SubscriberQueue < 1 {
		errs = append(errs, "events.subscriber_queue must be at least 1")
	}

	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Device returns the device configuration for the given role.
// The second return value is false if the role is not recognised.
func (c *Config) Device(role string) (DeviceConfig, bool) {
	switch role {
	case "tv":
		return c.Devices.TV, true
	case "speaker":
		return c.Devices.Speaker, true
	case "media":
		return c.Devices.Media, true
	default:
		return DeviceConfig{}, false
	}
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

// Timeout returns the per-attempt command timeout as a Duration.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Second
}

// Backoff returns the initial retry backoff as a Duration.
func (d DispatchConfig) Backoff() time.Duration {
	return time.Duration(d.BackoffBase) * time.Millisecond
}

// Interval returns the poll interval as a Duration.
func (d DeviceConfig) Interval() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}
