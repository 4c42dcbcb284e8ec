// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Rating      RatingConfig      `mapstructure:"rating"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Sync        SyncConfig        `mapstructure:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RatingConfig holds fallback rating parameters used when a category has no
// configuration of its own.
type RatingConfig struct {
	StartingScore   int `mapstructure:"starting_score"`
	VolatilityStart int `mapstructure:"volatility_start"`
	VolatilityStep  int `mapstructure:"volatility_step"`
	VolatilityFloor int `mapstructure:"volatility_floor"`
}

// CoordinatorConfig holds activity completion coordination settings.
type CoordinatorConfig struct {
	LockStaleness time.Duration `mapstructure:"lock_staleness"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SyncConfig holds delta sync and compaction settings.
type SyncConfig struct {
	DefaultLimit    int           `mapstructure:"default_limit"`
	MaxLimit        int           `mapstructure:"max_limit"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// e.g., SERVER_PORT, DATABASE_HOST, COORDINATOR_LOCK_STALENESS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tracker")
	v.SetDefault("database.name", "tracker")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Rating defaults
	v.SetDefault("rating.starting_score", 1200)
	v.SetDefault("rating.volatility_start", 100)
	v.SetDefault("rating.volatility_step", 2)
	v.SetDefault("rating.volatility_floor", 20)

	// Coordinator defaults
	v.SetDefault("coordinator.lock_staleness", "10m")
	v.SetDefault("coordinator.max_retries", 3)
	v.SetDefault("coordinator.retry_backoff", "30s")
	v.SetDefault("coordinator.sweep_interval", "1m")

	// Sync defaults
	v.SetDefault("sync.default_limit", 50)
	v.SetDefault("sync.max_limit", 200)
	v.SetDefault("sync.retention_days", 30)
	v.SetDefault("sync.compact_interval", "1h")
}
