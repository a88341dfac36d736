package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Phone   PhoneConfig   `yaml:"phone" mapstructure:"phone"`
	Deal    DealConfig    `yaml:"deal" mapstructure:"deal"`
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	NATS    NATSConfig    `yaml:"nats" mapstructure:"nats"`
	Import  ImportConfig  `yaml:"import" mapstructure:"import"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// IngestConfig bounds one ingestion and its conflict retries.
type IngestConfig struct {
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	RetryAttempts  int           `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=1,lte=20"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" mapstructure:"retry_max_delay"`
	RetryJitter    float64       `yaml:"retry_jitter" mapstructure:"retry_jitter" validate:"gte=0,lte=1"`
}

// PhoneConfig holds the fallback country for tenants without one.
type PhoneConfig struct {
	DefaultCountry string `yaml:"default_country" mapstructure:"default_country" validate:"len=2"`
}

// DealConfig holds the stage used when a tenant has no pipeline stages.
type DealConfig struct {
	DefaultStage string `yaml:"default_stage" mapstructure:"default_stage" validate:"required"`
}

// BreakerConfig tunes the storage circuit breaker.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold" validate:"gte=0"`
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// NATSConfig configures downstream publication. An empty URL disables it.
type NATSConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	ConnectionName string        `yaml:"connection_name" mapstructure:"connection_name"`
	MaxReconnects  int           `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" mapstructure:"reconnect_wait"`
}

// ImportConfig configures CSV imports.
type ImportConfig struct {
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second" validate:"gte=0"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "postgres://localhost:5432/leads?sslmode=disable")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.timeout", "10s")
	v.SetDefault("ingest.max_body_bytes", 1<<20)
	v.SetDefault("ingest.retry_attempts", 5)
	v.SetDefault("ingest.retry_base_delay", "5ms")
	v.SetDefault("ingest.retry_max_delay", "100ms")
	v.SetDefault("ingest.retry_jitter", 0.5)
	v.SetDefault("phone.default_country", "IT")
	v.SetDefault("deal.default_stage", "new_lead")
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "10s")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "crm")
	v.SetDefault("nats.connection_name", "lead-intake")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("import.rate_per_second", 0)

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

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	return nil
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
