package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Redis     RedisConfig             `mapstructure:"redis"`
	JWT       JWTConfig               `mapstructure:"jwt"`
	Queue     QueueConfig             `mapstructure:"queue"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Retention RetentionConfig         `mapstructure:"retention"`
	Admin     AdminConfig             `mapstructure:"admin"`
	Log       LogConfig               `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// QueueConfig controls the retry queue engine and its worker pool.
type QueueConfig struct {
	Workers       int           `mapstructure:"workers"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`
	BackoffJitter float64       `mapstructure:"backoff_jitter"` // fraction of delay, 0..1
	ClaimTimeout  time.Duration `mapstructure:"claim_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	ApplyTimeout  time.Duration `mapstructure:"apply_timeout"`
}

// SourceConfig describes one external webhook provider. Loaded at startup and
// treated as static for the lifetime of a processing cycle.
type SourceConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	AuthMode        string   `mapstructure:"auth_mode"` // hmac, token, none
	Secret          string   `mapstructure:"secret"`
	SignatureHeader string   `mapstructure:"signature_header"`
	AllowedEvents   []string `mapstructure:"allowed_events"` // empty = all
}

type RetentionConfig struct {
	EventWindow   time.Duration `mapstructure:"event_window"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
	DedupTTL      time.Duration `mapstructure:"dedup_ttl"` // redis fast-path key lifetime
}

// AdminConfig seeds the single operator account at startup.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SYNQ_.
// Nested keys use underscore: SYNQ_DATABASE_HOST, SYNQ_QUEUE_WORKERS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "webhook_sync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "webhook-sync-engine")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff_base", "30s")
	v.SetDefault("queue.backoff_cap", "1h")
	v.SetDefault("queue.backoff_jitter", 0.2)
	v.SetDefault("queue.claim_timeout", "5m")
	v.SetDefault("queue.sweep_interval", "1m")
	v.SetDefault("queue.apply_timeout", "30s")
	v.SetDefault("retention.event_window", "720h") // 30 days
	v.SetDefault("retention.prune_interval", "1h")
	v.SetDefault("retention.dedup_ttl", "24h")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SYNQ_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SYNQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
