package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig holds Postgres configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NATSConfig holds NATS JetStream configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ServerConfig holds the HTTP listeners' configuration. Metrics are served on
// a separate listener so scrapes never compete with API traffic.
type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// CoreConfig holds the deterministic core's channel and batching knobs.
type CoreConfig struct {
	PersistChanSize    int           `mapstructure:"persist_chan_size"`
	ProjectionChanSize int           `mapstructure:"projection_chan_size"`
	IngestChanSize     int           `mapstructure:"ingest_chan_size"`
	PersistBatchSize   int           `mapstructure:"persist_batch_size"`
	PersistFlushWait   time.Duration `mapstructure:"persist_flush_wait"`
	SnapshotInterval   time.Duration `mapstructure:"snapshot_interval"`
	MigrationsDir      string        `mapstructure:"migrations_dir"`
}

// Config is the full service configuration.
type Config struct {
	Debug    bool           `mapstructure:"debug"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Server   ServerConfig   `mapstructure:"server"`
	Core     CoreConfig     `mapstructure:"core"`
}

// Load reads configuration from config.yaml (if present) and ECON_* environment
// variables, env taking precedence.
func Load(configFile string, envPath string) (*Config, error) {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("ECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAllEnvVars(v)

	v.SetDefault("debug", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("core.persist_chan_size", 8192)
	v.SetDefault("core.projection_chan_size", 8192)
	v.SetDefault("core.ingest_chan_size", 4096)
	v.SetDefault("core.persist_batch_size", 256)
	v.SetDefault("core.persist_flush_wait", "50ms")
	v.SetDefault("core.snapshot_interval", "10m")
	v.SetDefault("core.migrations_dir", "migrations")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if cfg.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}

	return &cfg, nil
}

// bindAllEnvVars explicitly binds the known keys. Required for viper to map
// env vars to struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"nats.url",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"server.http_addr",
		"server.metrics_addr",
		"core.persist_chan_size",
		"core.projection_chan_size",
		"core.ingest_chan_size",
		"core.persist_batch_size",
		"core.persist_flush_wait",
		"core.snapshot_interval",
		"core.migrations_dir",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from .env files, later files overriding
// earlier ones.
func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "config/"
	}
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}

// DSN returns the Postgres connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
