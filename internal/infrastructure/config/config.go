package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Fleetgate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database Database `yaml:"database"`
	MQTT     MQTT     `yaml:"mqtt"`
	Audit    Audit    `yaml:"audit"`
	InfluxDB InfluxDB `yaml:"influxdb"`
	Logging  Logging  `yaml:"logging"`
	Security Security `yaml:"security"`
}

// Database contains SQLite database settings.
type Database struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTT contains MQTT broker connection settings.
type MQTT struct {
	Broker    MQTTBroker    `yaml:"broker"`
	Auth      MQTTAuth      `yaml:"auth"`
	QoS       int           `yaml:"qos"`
	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// MQTTBroker contains MQTT broker connection details.
type MQTTBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuth contains MQTT authentication credentials.
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnect contains MQTT reconnection settings.
type MQTTReconnect struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// Overflow policies for the audit queue.
const (
	AuditOverflowBlock      = "block"
	AuditOverflowDropOldest = "drop_oldest"
)

// Audit contains audit trail settings.
//
// Records are appended through a bounded in-memory queue so that audit
// durability never sits on the decision path. The overflow policy selects
// what happens when the queue is full: "drop_oldest" sacrifices the oldest
// unwritten record, "block" applies backpressure to the writer.
type Audit struct {
	QueueSize      int    `yaml:"queue_size"`
	OverflowPolicy string `yaml:"overflow_policy"`
}

// InfluxDB contains optional message telemetry settings.
type InfluxDB struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Security contains security settings.
type Security struct {
	JWT JWT `yaml:"jwt"`
}

// JWT contains device enrollment token settings.
// Tokens are issued in the registration acknowledgment and are valid
// for DeviceTokenTTL minutes.
type JWT struct {
	Secret         string `yaml:"secret"`
	DeviceTokenTTL int    `yaml:"device_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern FLEETGATE_SECTION_KEY,
// for example FLEETGATE_DATABASE_PATH or FLEETGATE_MQTT_HOST.
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
		Database: Database{
			Path:        "./data/fleetgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTT{
			Broker: MQTTBroker{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetgate-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnect{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Audit: Audit{
			QueueSize:      1024,
			OverflowPolicy: AuditOverflowDropOldest,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: Security{
			JWT: JWT{
				DeviceTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FLEETGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEETGATE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FLEETGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FLEETGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// The JWT secret should always come from the environment in production.
	if v := os.Getenv("FLEETGATE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Audit.QueueSize < 1 {
		errs = append(errs, "audit.queue_size must be positive")
	}
	switch c.Audit.OverflowPolicy {
	case AuditOverflowBlock, AuditOverflowDropOldest:
	default:
		errs = append(errs, `audit.overflow_policy must be "block" or "drop_oldest"`)
	}

	// A weak secret would allow forged enrollment tokens, which hand an
	// attacker a device identity on the broker.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set FLEETGATE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceTokenTTL returns the device enrollment token lifetime as a Duration.
func (c *Config) DeviceTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.DeviceTokenTTL) * time.Minute
}
