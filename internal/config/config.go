// Package config loads application configuration from an optional
// config.yaml plus GRADER_-prefixed environment variables, with
// defaults for every knob.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration for all commands.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Pagespeed PagespeedConfig `yaml:"pagespeed" mapstructure:"pagespeed"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DatabaseURL is the pgx connection string (postgres driver).
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Path is the database file location (sqlite driver).
	Path     string `yaml:"path" mapstructure:"path"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig points at the queue broker.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// QueueConfig tunes the scan stream consumer group.
type QueueConfig struct {
	Stream      string `yaml:"stream" mapstructure:"stream"`
	Group       string `yaml:"group" mapstructure:"group"`
	BlockSecs   int    `yaml:"block_secs" mapstructure:"block_secs"`
	MinIdleSecs int    `yaml:"min_idle_secs" mapstructure:"min_idle_secs"`
}

// WorkerConfig bounds scan processing parallelism.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// PlacesConfig configures the Google Places client.
type PlacesConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PagespeedConfig configures the PageSpeed Insights client.
type PagespeedConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Strategy    string `yaml:"strategy" mapstructure:"strategy"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP ops server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig controls the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (if present in the working
// directory) and GRADER_* environment variables, applying defaults for
// every value. Environment variables take precedence over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.path", "grader.db")
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.stream", "grader:scans")
	v.SetDefault("queue.group", "grader-workers")
	v.SetDefault("queue.block_secs", 5)
	v.SetDefault("queue.min_idle_secs", 60)

	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("places.key", "")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.rate_limit_rps", 10.0)
	v.SetDefault("places.timeout_secs", 15)

	v.SetDefault("pagespeed.key", "")
	v.SetDefault("pagespeed.base_url", "https://www.googleapis.com/pagespeedonline/v5")
	v.SetDefault("pagespeed.strategy", "mobile")
	v.SetDefault("pagespeed.timeout_secs", 60)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the fields required by the given command mode:
// "worker" (queue consumer + ops server), "serve" (ops server only),
// "scan" (one-off inline scan), "enqueue" (store + broker), or
// "store" (store access only, e.g. status and migrate).
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.Path == "" {
				missing = append(missing, "store.path is required for the sqlite driver")
			}
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}
	requirePlaces := func() {
		if c.Places.Key == "" {
			missing = append(missing, "places.key is required")
		}
	}

	switch mode {
	case "worker":
		requireStore()
		requirePlaces()
		if c.Redis.Addr == "" {
			missing = append(missing, "redis.addr is required")
		}
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
			missing = append(missing, "worker.concurrency must be between 1 and 64")
		}
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "scan":
		requireStore()
		requirePlaces()
	case "enqueue":
		requireStore()
		if c.Redis.Addr == "" {
			missing = append(missing, "redis.addr is required")
		}
	case "store":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger builds the global zap logger from LogConfig and installs
// it via zap.ReplaceGlobals.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrapf(err, "config: parse log level %q", cfg.Level)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
