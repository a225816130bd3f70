package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTHD_JWT_METHOD", "hs256")
	t.Setenv("AUTHD_JWT_SECRET", testSecret)
	t.Setenv("AUTHD_HTTP_ADDR", ":9090")
	t.Setenv("AUTHD_SESSION_REFRESH_CEILING", "4")
	t.Setenv("AUTHD_LOCKOUT_DURATION", "10m")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Session.RefreshCeiling)
	assert.Equal(t, 10*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Lockout.Threshold)
}

func TestLoadYAMLFileThenEnvironment(t *testing.T) {
	path := writeFile(t, "authd.yaml", `
http:
  addr: ":7000"
store:
  driver: sqlite
  dsn: /tmp/authd.db
jwt:
  method: hs256
  secret: `+testSecret+`
  access_ttl: 15m
audit:
  enabled: true
  topic_prefix: acme/audit
`)
	t.Setenv("AUTHD_HTTP_ADDR", ":7001")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.HTTP.Addr, "environment wins over the file")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "acme/audit", cfg.Audit.TopicPrefix)
	assert.Equal(t, "authd", cfg.Audit.ClientID, "unset keys keep their defaults")
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeFile(t, "authd.toml", `
[jwt]
method = "hs256"
secret = "`+testSecret+`"
refresh_ttl = "72h"

[lockout]
threshold = 3
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 3, cfg.Lockout.Threshold)
}

func TestLoadUsesConfigFileVariable(t *testing.T) {
	path := writeFile(t, "authd.yml", "jwt:\n  method: hs256\n  secret: "+testSecret+"\nlog:\n  level: debug\n")
	t.Setenv(FileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownFileType(t *testing.T) {
	path := writeFile(t, "authd.json", "{}")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"hs256 ok", func(c *Config) {}, ""},
		{"missing addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"missing redis", func(c *Config) { c.Redis.URL = "" }, "redis.url"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"hs256 without secret", func(c *Config) { c.JWT.Secret = "" }, "requires secret"},
		{"ed25519 without keys", func(c *Config) { c.JWT.Method = "ed25519" }, "private_key_path"},
		{"unknown method", func(c *Config) { c.JWT.Method = "rs256" }, "unknown jwt method"},
		{"bad qos", func(c *Config) { c.Audit.Enabled = true; c.Audit.QoS = 3 }, "audit.qos"},
		{"negative burst", func(c *Config) { c.HTTP.LoginBurst = -1 }, "limiter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.JWT.Method = "hs256"
			cfg.JWT.Secret = testSecret
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEngineConfigHS256(t *testing.T) {
	cfg := Default()
	cfg.JWT.Method = "hs256"
	cfg.JWT.Secret = testSecret
	cfg.Session.SweepInterval = 0
	cfg.Redis.Prefix = "test"

	out, err := cfg.EngineConfig()
	require.NoError(t, err)

	assert.Equal(t, []byte(testSecret), out.JWT.PrivateKey)
	assert.Equal(t, "test", out.Session.RedisPrefix)
	assert.False(t, out.Sweeper.Enabled)
	assert.Equal(t, 8*time.Hour, out.JWT.AccessTTL)
}

func TestEngineConfigReadsKeyFiles(t *testing.T) {
	cfg := Default()
	cfg.JWT.PrivateKeyPath = filepath.Join(t.TempDir(), "missing.pem")
	cfg.JWT.PublicKeyPath = cfg.JWT.PrivateKeyPath

	_, err := cfg.EngineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading private key")
}

func TestEngineConfigRejectsShortSecret(t *testing.T) {
	cfg := Default()
	cfg.JWT.Method = "hs256"
	cfg.JWT.Secret = "short"

	_, err := cfg.EngineConfig()
	require.Error(t, err)
}
