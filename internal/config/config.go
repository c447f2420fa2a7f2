package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	RoomScout RoomScoutConfig `yaml:"roomscout" mapstructure:"roomscout"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RoomScoutConfig holds settings for the external classification and
// extraction service.
type RoomScoutConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs   int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	HealthTTLSecs int     `yaml:"health_ttl_secs" mapstructure:"health_ttl_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit to the extraction service. 0 disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// PipelineConfig configures ingestion processing.
type PipelineConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	ReviewThreshold   float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	UseChainOfThought bool    `yaml:"use_chain_of_thought" mapstructure:"use_chain_of_thought"`
}

// RetentionConfig configures the terminal-session sweep.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// MonitorConfig configures background health checks and alerting.
type MonitorConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	ServiceFailThreshold   float64 `yaml:"service_fail_threshold" mapstructure:"service_fail_threshold"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for the given run mode. Modes map
// to the top-level commands: "process", "serve", and "sweep".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.RoomScout.BaseURL == "" {
		problems = append(problems, "roomscout.base_url is required")
	}
	if c.RoomScout.MaxRetries < 1 {
		problems = append(problems, "roomscout.max_retries must be >= 1")
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
		problems = append(problems, "pipeline.concurrency must be between 1 and 64")
	}
	if c.Pipeline.ReviewThreshold < 0 || c.Pipeline.ReviewThreshold > 1 {
		problems = append(problems, "pipeline.review_threshold must be between 0 and 1")
	}

	switch mode {
	case "process":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "sweep":
		if c.Retention.Days < 1 {
			problems = append(problems, "retention.days must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ROOMSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "ingest.db")
	v.SetDefault("roomscout.base_url", "http://localhost:5001")
	v.SetDefault("roomscout.max_retries", 3)
	v.SetDefault("roomscout.base_delay_ms", 500)
	v.SetDefault("roomscout.health_ttl_secs", 60)
	v.SetDefault("roomscout.rate_limit", 10)
	v.SetDefault("roomscout.breaker_threshold", 5)
	v.SetDefault("roomscout.breaker_reset_secs", 30)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.review_threshold", 0.6)
	v.SetDefault("retention.days", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.review_backlog_threshold", 25)
	v.SetDefault("monitor.service_fail_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
