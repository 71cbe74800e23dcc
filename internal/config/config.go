package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SECKILL_REDIS_ADDR.
const EnvPrefix = "SECKILL"

const (
	CounterStoreRedis  = "redis"
	CounterStoreMemory = "memory"
)

type Config struct {
	HTTPAddr     string          `mapstructure:"http_addr"`
	GRPCAddr     string          `mapstructure:"grpc_addr"`
	CounterStore string          `mapstructure:"counter_store"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Database     DatabaseConfig  `mapstructure:"database"`
	Workers      WorkersConfig   `mapstructure:"workers"`
	Seckill      SeckillConfig   `mapstructure:"seckill"`
	Telemetry    TelemetryConfig `mapstructure:"telemetry"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	PoolSize      int    `mapstructure:"pool_size"`
	QueueKey      string `mapstructure:"queue_key"`
	DeadLetterKey string `mapstructure:"dead_letter_key"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type WorkersConfig struct {
	Count         int           `mapstructure:"count"`
	PopTimeout    time.Duration `mapstructure:"pop_timeout"`
	IntentTimeout time.Duration `mapstructure:"intent_timeout"`
	// QueueSize bounds the in-process queue used with the memory counter store.
	QueueSize int `mapstructure:"queue_size"`
}

type SeckillConfig struct {
	// Mode is "async" (answer after admission) or "sync" (answer after the order is durable).
	Mode           string        `mapstructure:"mode"`
	QuotaTTL       time.Duration `mapstructure:"quota_ttl"`
	MarkerTTL      time.Duration `mapstructure:"marker_ttl"`
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector host:port. Empty disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("counter_store", CounterStoreRedis)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.queue_key", "order_queue")
	v.SetDefault("redis.dead_letter_key", "order_rollback_failed")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "root:root@tcp(localhost:3306)/seckill?parseTime=true")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("workers.count", 10)
	v.SetDefault("workers.pop_timeout", time.Second)
	v.SetDefault("workers.intent_timeout", 5*time.Second)
	v.SetDefault("workers.queue_size", 10000)

	v.SetDefault("seckill.mode", "async")
	v.SetDefault("seckill.quota_ttl", 24*time.Hour)
	v.SetDefault("seckill.marker_ttl", 5*time.Minute)
	v.SetDefault("seckill.payment_timeout", 15*time.Minute)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "seckill")
}

// Load reads defaults, then the YAML file at path if one is given, then
// SECKILL_* environment variables. Later sources win.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.CounterStore {
	case CounterStoreRedis, CounterStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("counter_store: unknown store %q", c.CounterStore))
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.Seckill.Mode {
	case "async", "sync":
	default:
		errs = append(errs, fmt.Errorf("seckill.mode: unknown mode %q", c.Seckill.Mode))
	}

	if c.Workers.Count <= 0 {
		errs = append(errs, errors.New("workers.count must be positive"))
	}
	if c.Workers.PopTimeout <= 0 {
		errs = append(errs, errors.New("workers.pop_timeout must be positive"))
	}
	if c.Seckill.MarkerTTL <= c.Workers.IntentTimeout {
		errs = append(errs, errors.New("seckill.marker_ttl must exceed workers.intent_timeout"))
	}
	if c.CounterStore == CounterStoreMemory && c.Workers.QueueSize <= 0 {
		errs = append(errs, errors.New("workers.queue_size must be positive with the memory counter store"))
	}

	return errors.Join(errs...)
}
