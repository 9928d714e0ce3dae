package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fuelgrid/internal/transport"
	libconfig "fuelgrid/libs/config"
)

// HTTPConfig is the listen address section.
type HTTPConfig struct {
	Port string `yaml:"port" env:"HTTP_PORT"`
}

// DatabaseConfig is the postgres section.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

// RedisConfig is the redis section.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// AuthConfig is the operator auth section.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwtSecret" env:"AUTH_JWT_SECRET"`
	TokenTTL   int    `yaml:"tokenTtlSeconds" env:"AUTH_TOKEN_TTL"`
	BcryptCost int    `yaml:"bcryptCost" env:"AUTH_BCRYPT_COST"`
}

// DestinationSection configures one outbound destination.
type DestinationSection struct {
	BaseURL        string `yaml:"baseUrl"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	RetryAttempts  int    `yaml:"retryAttempts"`
	RetryBackoffMs int    `yaml:"retryBackoffMs"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	BatchSize      int    `yaml:"batchSize" env:"SYNC_BATCH_SIZE"`
	BatchPauseMs   int    `yaml:"batchPauseMs" env:"SYNC_BATCH_PAUSE_MS"`
	StationPauseMs int    `yaml:"stationPauseMs" env:"SYNC_STATION_PAUSE_MS"`
	Schedule       string `yaml:"schedule" env:"SYNC_SCHEDULE"`
}

// Config defines the sync service configuration.
type Config struct {
	HTTP      HTTPConfig         `yaml:"http"`
	Database  DatabaseConfig     `yaml:"database"`
	Redis     RedisConfig        `yaml:"redis"`
	Auth      AuthConfig         `yaml:"auth"`
	TradeAPI  DestinationSection `yaml:"tradeApi"`
	Datastore DestinationSection `yaml:"datastore"`
	Sync      SyncConfig         `yaml:"sync"`
}

// Load reads configuration via the shared helper and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:  HTTPConfig{Port: "8085"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Auth:  AuthConfig{TokenTTL: 3600},
	}

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: auth jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// TokenTTL returns the operator token lifetime.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTL <= 0 {
		return time.Hour
	}
	return time.Duration(c.Auth.TokenTTL) * time.Second
}

// Destination implements transport.ConfigSource over the static sections.
// Re-read on every transport call, so env-driven overrides picked up at
// restart apply uniformly.
func (c *Config) Destination(name transport.Destination) (transport.DestinationConfig, bool) {
	switch name {
	case transport.DestinationTradeAPI:
		return destinationConfig(c.TradeAPI, transport.AuthBearer), true
	case transport.DestinationDatastore:
		return destinationConfig(c.Datastore, transport.AuthBasic), true
	default:
		return transport.DestinationConfig{}, false
	}
}

// UseDatastore reports whether persistence should go through the remote
// data-store service instead of the local database.
func (c *Config) UseDatastore() bool {
	return strings.TrimSpace(c.Datastore.BaseURL) != ""
}

// SyncEngine returns engine pacing settings.
func (c *Config) SyncEngine() (batchSize int, batchPause, stationPause time.Duration) {
	return c.Sync.BatchSize,
		time.Duration(c.Sync.BatchPauseMs) * time.Millisecond,
		time.Duration(c.Sync.StationPauseMs) * time.Millisecond
}

func destinationConfig(section DestinationSection, mode transport.AuthMode) transport.DestinationConfig {
	return transport.DestinationConfig{
		BaseURL:       section.BaseURL,
		AuthMode:      mode,
		Username:      section.Username,
		Password:      section.Password,
		Timeout:       time.Duration(section.TimeoutSeconds) * time.Second,
		RetryAttempts: section.RetryAttempts,
		RetryBackoff:  time.Duration(section.RetryBackoffMs) * time.Millisecond,
	}
}
