package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

// DefaultPath is the config file used when no -config flag is given.
const DefaultPath = "tracker_config.txt"

// EnvPrefix is prepended to every key when looking up environment
// overrides, e.g. TRACKER_MAPBOX_TOKEN.
const EnvPrefix = "TRACKER"

// Route providers.
const (
	ProviderMapbox = "mapbox"
	ProviderOSRM   = "osrm"
	ProviderNone   = "none"
)

// Config holds all application configuration values.
type Config struct {
	// Simulation
	TickIntervalMs       int
	StopProbability      float64
	StopMinMs            int
	StopMaxMs            int
	CheckpointOffsetDeg  float64
	CheckpointCount      int
	DegenerateSegmentM   float64
	PatrolSpeedMinKmh    float64
	PatrolSpeedMaxKmh    float64
	EmergencySpeedMinKmh float64
	EmergencySpeedMaxKmh float64

	// Units
	UnitsFile string // empty: built-in seed

	// Routing
	RouteProvider    string
	MapboxBaseURL    string
	MapboxToken      string
	OSRMBaseURL      string
	RouteTimeoutMs   int
	RouteConcurrency int

	// MQTT (empty broker disables the sink)
	MQTTBroker          string
	MQTTClientIDTracker string
	MQTTClientIDConsole string
	TopicVehicles       string

	// Web Server
	WebServerPort int

	// NATS (empty URL disables the sink)
	NATSURL           string
	NATSSubjectPrefix string

	// Kafka (no brokers disables the sink)
	KafkaBrokers []string
	KafkaTopic   string

	// NMEA output (empty port disables the sink)
	NMEASerialPort string
	NMEABaudRate   int
	NMEAIntervalMs int

	// GPS bridge (live receiver published next to the simulated fleet)
	GPSSerialPort string
	GPSBaudRate   int
	GPSUnitID     string
	TopicLive     string

	// OLED display
	DisplayEnabled        bool
	DisplayI2CBus         string // empty: first bus found
	DisplayUpdateInterval int    // milliseconds

	// Broadcast
	BroadcastQueue   int
	PublishTimeoutMs int

	LogLevel log.Level
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the configuration used for keys absent from the file.
func Defaults() *Config {
	return &Config{
		TickIntervalMs:       50,
		StopProbability:      0.02,
		StopMinMs:            5000,
		StopMaxMs:            13000,
		CheckpointOffsetDeg:  0.005,
		CheckpointCount:      3,
		DegenerateSegmentM:   0.5,
		PatrolSpeedMinKmh:    30,
		PatrolSpeedMaxKmh:    50,
		EmergencySpeedMinKmh: 60,
		EmergencySpeedMaxKmh: 80,

		RouteProvider:    ProviderMapbox,
		MapboxBaseURL:    "https://api.mapbox.com",
		OSRMBaseURL:      "https://router.project-osrm.org",
		RouteTimeoutMs:   10000,
		RouteConcurrency: 4,

		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDTracker: "patrol-tracker",
		MQTTClientIDConsole: "patrol-console",
		TopicVehicles:       "vehicles",

		WebServerPort: 8080,

		NATSSubjectPrefix: "tracker",
		KafkaTopic:        "tracker.vehicles",

		NMEABaudRate:   4800,
		NMEAIntervalMs: 1000,

		GPSBaudRate: 9600,
		TopicLive:   "vehicles/live",

		DisplayUpdateInterval: 500,

		BroadcastQueue:   8,
		PublishTimeoutMs: 200,

		LogLevel: log.InfoLevel,
	}
}

// keys lists every accepted key in file order.
var keys = []string{
	"TICK_INTERVAL_MS", "STOP_PROBABILITY", "STOP_MIN_MS", "STOP_MAX_MS",
	"CHECKPOINT_OFFSET_DEG", "CHECKPOINT_COUNT", "DEGENERATE_SEGMENT_M",
	"PATROL_SPEED_MIN_KMH", "PATROL_SPEED_MAX_KMH",
	"EMERGENCY_SPEED_MIN_KMH", "EMERGENCY_SPEED_MAX_KMH",
	"UNITS_FILE",
	"ROUTE_PROVIDER", "MAPBOX_BASE_URL", "MAPBOX_TOKEN", "OSRM_BASE_URL",
	"ROUTE_TIMEOUT_MS", "ROUTE_CONCURRENCY",
	"MQTT_BROKER", "MQTT_CLIENT_ID_TRACKER", "MQTT_CLIENT_ID_CONSOLE", "TOPIC_VEHICLES",
	"WEB_SERVER_PORT",
	"NATS_URL", "NATS_SUBJECT_PREFIX",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"NMEA_SERIAL_PORT", "NMEA_BAUD_RATE", "NMEA_INTERVAL_MS",
	"GPS_SERIAL_PORT", "GPS_BAUD_RATE", "GPS_UNIT_ID", "TOPIC_LIVE",
	"DISPLAY_ENABLED", "DISPLAY_I2C_BUS", "DISPLAY_UPDATE_INTERVAL",
	"BROADCAST_QUEUE", "PUBLISH_TIMEOUT_MS",
	"LOG_LEVEL",
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the KEY=VALUE configuration file, applies TRACKER_* environment
// overrides and returns a validated Config.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[strings.ToLower(k)] = true
	}
	for _, k := range v.AllKeys() {
		if !known[k] {
			return nil, fmt.Errorf("unknown config key: %q", strings.ToUpper(k))
		}
	}

	cfg := Defaults()
	for _, key := range keys {
		if !v.IsSet(key) {
			continue
		}
		if err := cfg.setValue(key, strings.TrimSpace(v.GetString(key))); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Simulation
	case "TICK_INTERVAL_MS":
		return parseInt(key, value, &c.TickIntervalMs)
	case "STOP_PROBABILITY":
		return parseFloat(key, value, &c.StopProbability)
	case "STOP_MIN_MS":
		return parseInt(key, value, &c.StopMinMs)
	case "STOP_MAX_MS":
		return parseInt(key, value, &c.StopMaxMs)
	case "CHECKPOINT_OFFSET_DEG":
		return parseFloat(key, value, &c.CheckpointOffsetDeg)
	case "CHECKPOINT_COUNT":
		return parseInt(key, value, &c.CheckpointCount)
	case "DEGENERATE_SEGMENT_M":
		return parseFloat(key, value, &c.DegenerateSegmentM)
	case "PATROL_SPEED_MIN_KMH":
		return parseFloat(key, value, &c.PatrolSpeedMinKmh)
	case "PATROL_SPEED_MAX_KMH":
		return parseFloat(key, value, &c.PatrolSpeedMaxKmh)
	case "EMERGENCY_SPEED_MIN_KMH":
		return parseFloat(key, value, &c.EmergencySpeedMinKmh)
	case "EMERGENCY_SPEED_MAX_KMH":
		return parseFloat(key, value, &c.EmergencySpeedMaxKmh)

	// Units
	case "UNITS_FILE":
		c.UnitsFile = value

	// Routing
	case "ROUTE_PROVIDER":
		c.RouteProvider = strings.ToLower(value)
	case "MAPBOX_BASE_URL":
		c.MapboxBaseURL = strings.TrimRight(value, "/")
	case "MAPBOX_TOKEN":
		c.MapboxToken = value
	case "OSRM_BASE_URL":
		c.OSRMBaseURL = strings.TrimRight(value, "/")
	case "ROUTE_TIMEOUT_MS":
		return parseInt(key, value, &c.RouteTimeoutMs)
	case "ROUTE_CONCURRENCY":
		return parseInt(key, value, &c.RouteConcurrency)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_VEHICLES":
		c.TopicVehicles = value

	// Web Server
	case "WEB_SERVER_PORT":
		return parseInt(key, value, &c.WebServerPort)

	// NATS
	case "NATS_URL":
		c.NATSURL = value
	case "NATS_SUBJECT_PREFIX":
		c.NATSSubjectPrefix = value

	// Kafka
	case "KAFKA_BROKERS":
		c.KafkaBrokers = nil
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	case "KAFKA_TOPIC":
		c.KafkaTopic = value

	// NMEA
	case "NMEA_SERIAL_PORT":
		c.NMEASerialPort = value
	case "NMEA_BAUD_RATE":
		return parseInt(key, value, &c.NMEABaudRate)
	case "NMEA_INTERVAL_MS":
		return parseInt(key, value, &c.NMEAIntervalMs)

	// GPS bridge
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		return parseInt(key, value, &c.GPSBaudRate)
	case "GPS_UNIT_ID":
		c.GPSUnitID = value
	case "TOPIC_LIVE":
		c.TopicLive = value

	// Display
	case "DISPLAY_ENABLED":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.DisplayEnabled = enabled
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		return parseInt(key, value, &c.DisplayUpdateInterval)

	// Broadcast
	case "BROADCAST_QUEUE":
		return parseInt(key, value, &c.BroadcastQueue)
	case "PUBLISH_TIMEOUT_MS":
		return parseInt(key, value, &c.PublishTimeoutMs)

	case "LOG_LEVEL":
		level, err := log.ParseLevel(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.LogLevel = level

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseInt(key, value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = n
	return nil
}

func parseFloat(key, value string, dst *float64) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = f
	return nil
}

// validate checks ranges and cross-field requirements.
func (c *Config) validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	switch c.RouteProvider {
	case ProviderMapbox:
		if c.MapboxToken == "" {
			return fmt.Errorf("MAPBOX_TOKEN is required when ROUTE_PROVIDER=%s", ProviderMapbox)
		}
	case ProviderOSRM:
		if c.OSRMBaseURL == "" {
			return fmt.Errorf("OSRM_BASE_URL is required when ROUTE_PROVIDER=%s", ProviderOSRM)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown ROUTE_PROVIDER %q (want %s, %s or %s)",
			c.RouteProvider, ProviderMapbox, ProviderOSRM, ProviderNone)
	}
	if c.RouteTimeoutMs <= 0 {
		return fmt.Errorf("ROUTE_TIMEOUT_MS must be positive")
	}
	if c.RouteConcurrency < 1 {
		return fmt.Errorf("ROUTE_CONCURRENCY must be at least 1")
	}
	if c.TopicVehicles == "" {
		return fmt.Errorf("TOPIC_VEHICLES is required")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("invalid WEB_SERVER_PORT %d", c.WebServerPort)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.NMEASerialPort != "" && c.NMEABaudRate <= 0 {
		return fmt.Errorf("NMEA_BAUD_RATE is required when NMEA_SERIAL_PORT is set")
	}
	if c.GPSSerialPort != "" {
		if c.GPSBaudRate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE is required when GPS_SERIAL_PORT is set")
		}
		if c.GPSUnitID == "" || c.TopicLive == "" {
			return fmt.Errorf("GPS_UNIT_ID and TOPIC_LIVE are required when GPS_SERIAL_PORT is set")
		}
	}
	if c.BroadcastQueue < 1 {
		return fmt.Errorf("BROADCAST_QUEUE must be at least 1")
	}
	if c.PublishTimeoutMs <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT_MS must be positive")
	}
	return nil
}

// Params converts the simulation keys to engine tunables.
func (c *Config) Params() patrol.Params {
	return patrol.Params{
		TickInterval:            ms(c.TickIntervalMs),
		StopProbability:         c.StopProbability,
		StopMin:                 ms(c.StopMinMs),
		StopMax:                 ms(c.StopMaxMs),
		DegenerateSegmentMeters: c.DegenerateSegmentM,
		CheckpointOffsetDeg:     c.CheckpointOffsetDeg,
		CheckpointCount:         c.CheckpointCount,
		PatrolSpeed:             patrol.SpeedBand{MinKmh: c.PatrolSpeedMinKmh, MaxKmh: c.PatrolSpeedMaxKmh},
		EmergencySpeed:          patrol.SpeedBand{MinKmh: c.EmergencySpeedMinKmh, MaxKmh: c.EmergencySpeedMaxKmh},
	}
}

func (c *Config) RouteTimeout() time.Duration   { return ms(c.RouteTimeoutMs) }
func (c *Config) PublishTimeout() time.Duration { return ms(c.PublishTimeoutMs) }
func (c *Config) NMEAInterval() time.Duration   { return ms(c.NMEAIntervalMs) }
func (c *Config) DisplayInterval() time.Duration {
	return ms(c.DisplayUpdateInterval)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Watch reloads the file whenever it is written and passes the result to
// onChange. A valid reload also replaces the global configuration; an invalid
// one is reported and the previous configuration stays in effect.
func Watch(configPath string, onChange func(*Config, error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := fromViper(v)
		if err == nil {
			configMu.Lock()
			globalConfig = cfg
			configMu.Unlock()
		}
		onChange(cfg, err)
	})
	v.WatchConfig()
	return nil
}
