package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Data    DataConfig    `yaml:"data"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	JWT     JWTConfig     `yaml:"jwt"`
	Log     LogConfig     `yaml:"log"`
	Replay  ReplayConfig  `yaml:"replay"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DataConfig locates on-disk state (uploaded logs)
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig selects the session/decoder store backend
type StorageConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// NATSConfig represents the event bus configuration. URL empty
// disables publishing.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReplayConfig bounds replay jobs
type ReplayConfig struct {
	DefaultDelayMs int           `yaml:"default_delay_ms"`
	MaxDelayMs     int           `yaml:"max_delay_ms"`
	JobTTL         time.Duration `yaml:"job_ttl"`
}

// SandboxConfig bounds untrusted decoder execution
type SandboxConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MemoryLimitMB int           `yaml:"memory_limit_mb"`

	// PublicMode disables untrusted decoder execution entirely
	PublicMode bool `yaml:"public_mode"`
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

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration usable without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.Driver = "postgres"
		c.Storage.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Data.Dir = dataDir
	}

	if os.Getenv("PUBLIC_MODE") == "1" {
		c.Sandbox.PublicMode = true
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "lorawan-replay-server"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}
	if c.Replay.DefaultDelayMs == 0 {
		c.Replay.DefaultDelayMs = 100
	}
	if c.Replay.MaxDelayMs == 0 {
		c.Replay.MaxDelayMs = 60000
	}
	if c.Replay.JobTTL == 0 {
		c.Replay.JobTTL = time.Hour
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = 3 * time.Second
	}
	if c.Sandbox.MemoryLimitMB == 0 {
		c.Sandbox.MemoryLimitMB = 64
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("postgres storage requires a dsn")
	}
	return nil
}
