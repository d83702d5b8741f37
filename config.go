package graphorm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config describes a database connection and its pool.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	StmtCacheSize   int           `mapstructure:"stmt_cache_size"`
	LogLevel        string        `mapstructure:"log_level"`
}

// LoadConfig reads the configuration from path (any format viper knows,
// picked by extension) with GRAPHORM_* environment variables taking
// precedence. An empty path reads the environment and defaults only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("driver", "sqlite3")
	v.SetDefault("dsn", ":memory:")
	v.SetDefault("max_open_conns", 0)
	v.SetDefault("max_idle_conns", 2)
	v.SetDefault("conn_max_lifetime", "0s")
	v.SetDefault("conn_max_idle_time", "0s")
	v.SetDefault("stmt_cache_size", 0)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("graphorm")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the driver is supported and the DSN is well formed for
// drivers that can parse it up front.
func (c *Config) Validate() error {
	if _, err := DialectFor(c.Driver); err != nil {
		return err
	}
	if c.DSN == "" {
		return errors.New("graphorm: empty dsn")
	}
	if c.Driver == "mysql" {
		if _, err := mysql.ParseDSN(c.DSN); err != nil {
			return fmt.Errorf("graphorm: invalid mysql dsn: %w", err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("graphorm: invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
