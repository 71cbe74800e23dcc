package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, CounterStoreRedis, cfg.CounterStore)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "order_queue", cfg.Redis.QueueKey)
	assert.Equal(t, "order_rollback_failed", cfg.Redis.DeadLetterKey)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Workers.Count)
	assert.Equal(t, "async", cfg.Seckill.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Seckill.QuotaTTL)
	assert.Equal(t, 5*time.Minute, cfg.Seckill.MarkerTTL)
	assert.Equal(t, 15*time.Minute, cfg.Seckill.PaymentTimeout)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seckill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
counter_store: memory
database:
  driver: postgres
  dsn: postgres://seckill@localhost/seckill
workers:
  count: 4
  pop_timeout: 250ms
seckill:
  mode: sync
  payment_timeout: 30m
`), 0o600))

	t.Setenv("SECKILL_WORKERS_COUNT", "16")
	t.Setenv("SECKILL_REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, CounterStoreMemory, cfg.CounterStore)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://seckill@localhost/seckill", cfg.Database.DSN)
	assert.Equal(t, 16, cfg.Workers.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.PopTimeout)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "sync", cfg.Seckill.Mode)
	assert.Equal(t, 30*time.Minute, cfg.Seckill.PaymentTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown mode", func(c *Config) { c.Seckill.Mode = "eventual" }},
		{"unknown store", func(c *Config) { c.CounterStore = "etcd" }},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }},
		{"marker shorter than intent", func(c *Config) { c.Seckill.MarkerTTL = time.Second }},
		{"memory without queue", func(c *Config) {
			c.CounterStore = CounterStoreMemory
			c.Workers.QueueSize = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}
