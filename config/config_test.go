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

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "webhook_sync", cfg.Database.DBName)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, int32(5), cfg.Database.MinConns)

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)

	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiry)
	assert.Equal(t, "webhook-sync-engine", cfg.JWT.Issuer)

	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Queue.BackoffCap)
	assert.InDelta(t, 0.2, cfg.Queue.BackoffJitter, 0.001)
	assert.Equal(t, 5*time.Minute, cfg.Queue.ClaimTimeout)
	assert.Equal(t, time.Minute, cfg.Queue.SweepInterval)

	assert.Equal(t, 720*time.Hour, cfg.Retention.EventWindow)
	assert.Equal(t, 24*time.Hour, cfg.Retention.DedupTTL)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	content := []byte(`
server:
  host: "127.0.0.1"
  port: 9090
  mode: "release"
database:
  host: "db.example.com"
  port: 5433
  user: "appuser"
  password: "secret123"
  dbname: "synqdb"
  sslmode: "require"
redis:
  host: "redis.example.com"
  port: 6380
  db: 2
jwt:
  secret: "ops-jwt-secret"
  expiry: "12h"
queue:
  workers: 8
  max_retries: 5
  backoff_base: "10s"
  backoff_cap: "30m"
  claim_timeout: "2m"
sources:
  shopify:
    enabled: true
    auth_mode: "hmac"
    secret: "shpss_abc123"
    signature_header: "X-Shopify-Hmac-Sha256"
    allowed_events: ["customers/create", "customers/update", "orders/create"]
  kajabi:
    enabled: true
    auth_mode: "token"
    secret: "kjb_token"
  internal:
    enabled: true
    auth_mode: "none"
log:
  level: "debug"
  pretty: true
`)
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, content, 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 12*time.Hour, cfg.JWT.Expiry)

	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Queue.BackoffCap)
	assert.Equal(t, 2*time.Minute, cfg.Queue.ClaimTimeout)

	require.Contains(t, cfg.Sources, "shopify")
	shopify := cfg.Sources["shopify"]
	assert.True(t, shopify.Enabled)
	assert.Equal(t, "hmac", shopify.AuthMode)
	assert.Equal(t, "X-Shopify-Hmac-Sha256", shopify.SignatureHeader)
	assert.Len(t, shopify.AllowedEvents, 3)

	require.Contains(t, cfg.Sources, "kajabi")
	assert.Equal(t, "token", cfg.Sources["kajabi"].AuthMode)

	require.Contains(t, cfg.Sources, "internal")
	assert.Equal(t, "none", cfg.Sources["internal"].AuthMode)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432,
		User: "u", Password: "p", DBName: "synq", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@localhost:5432/synq?sslmode=disable", d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "10.0.0.1", Port: 6380}
	assert.Equal(t, "10.0.0.1:6380", r.Addr())
}
