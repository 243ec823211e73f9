package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Registry RegistryConfig `yaml:"registry"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Ingest   IngestConfig   `yaml:"ingest"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Audit    AuditConfig    `yaml:"audit"`
	API      APIConfig      `yaml:"api"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// GatewayConfig represents the UDP listener configuration
type GatewayConfig struct {
	UDPBind     string `yaml:"udp_bind"`
	QueueSize   int    `yaml:"queue_size"`
	ReadBuffer  int    `yaml:"read_buffer"`
	MaxJSONScan int    `yaml:"max_json_scan"`
}

// DedupConfig represents the deduplication window
type DedupConfig struct {
	Capacity int `yaml:"capacity"`
}

// RegistryConfig represents the node registry location
type RegistryConfig struct {
	File string `yaml:"file"`
}

// DecoderConfig selects the application payload decoder
type DecoderConfig struct {
	Format       string `yaml:"format"`
	TaxonomyFile string `yaml:"taxonomy_file"`
}

// CryptoConfig represents FRMPayload decryption options
type CryptoConfig struct {
	LegacySingleBlock bool `yaml:"legacy_single_block"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	StoreEvents bool   `yaml:"store_events"`
}

// SessionConfig represents the fallback session when no database is set
type SessionConfig struct {
	StaticID string `yaml:"static_id"`
}

// IngestConfig represents the HTTP ingestion sink
type IngestConfig struct {
	URL       string            `yaml:"url"`
	Timeout   time.Duration     `yaml:"timeout"`
	Headers   map[string]string `yaml:"headers"`
	JWTSecret string            `yaml:"jwt_secret"`
	JWTIssuer string            `yaml:"jwt_issuer"`
	JWTTTL    time.Duration     `yaml:"jwt_ttl"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// AuditConfig represents the local audit log
type AuditConfig struct {
	File string `yaml:"file"`
}

// APIConfig represents the status API
type APIConfig struct {
	Bind              string        `yaml:"bind"`
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, used when
// the agent runs without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if ingestURL := os.Getenv("INGEST_URL"); ingestURL != "" {
		c.Ingest.URL = ingestURL
	}

	if secret := os.Getenv("INGEST_JWT_SECRET"); secret != "" {
		c.Ingest.JWTSecret = secret
	}

	if bind := os.Getenv("UDP_BIND"); bind != "" {
		c.Gateway.UDPBind = bind
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}

	if c.Gateway.UDPBind == "" {
		c.Gateway.UDPBind = "0.0.0.0:1700"
	}
	if c.Gateway.QueueSize == 0 {
		c.Gateway.QueueSize = 256
	}
	if c.Gateway.ReadBuffer == 0 {
		c.Gateway.ReadBuffer = 65507
	}
	if c.Gateway.MaxJSONScan == 0 {
		c.Gateway.MaxJSONScan = 16384
	}

	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = 100
	}

	if c.Registry.File == "" {
		c.Registry.File = "node_registry.json"
	}

	if c.Decoder.Format == "" {
		c.Decoder.Format = "none"
	}

	if c.Ingest.Timeout == 0 {
		c.Ingest.Timeout = 5 * time.Second
	}
	if c.Ingest.JWTTTL == 0 {
		c.Ingest.JWTTTL = 5 * time.Minute
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "ingest"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "udp-ingest"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "udp-ingest/{dev_addr}/event"
	}

	if c.Audit.File == "" {
		c.Audit.File = "udp_listener_log.json"
	}

	if c.API.TokenTTL == 0 {
		c.API.TokenTTL = time.Hour
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Dedup.Capacity < 0 {
		return fmt.Errorf("dedup.capacity must be positive, got %d", c.Dedup.Capacity)
	}
	if c.Gateway.QueueSize < 0 {
		return fmt.Errorf("gateway.queue_size must be positive, got %d", c.Gateway.QueueSize)
	}
	if c.Gateway.ReadBuffer < 0 || c.Gateway.ReadBuffer > 65507 {
		return fmt.Errorf("gateway.read_buffer must be between 1 and 65507, got %d", c.Gateway.ReadBuffer)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Ingest.Timeout < 0 {
		return fmt.Errorf("ingest.timeout must be positive, got %s", c.Ingest.Timeout)
	}
	if c.API.AdminPasswordHash != "" && c.API.JWTSecret == "" {
		return fmt.Errorf("api.admin_password_hash requires api.jwt_secret")
	}
	return nil
}
