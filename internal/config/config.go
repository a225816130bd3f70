// Package config loads the authd server settings from an optional YAML or TOML
// file and the AUTHD_* environment. Environment variables win over the file,
// and the file wins over the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ibn-api/authcore"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AUTHD_"

// FileEnv names the variable that points at an optional config file.
const FileEnv = EnvPrefix + "CONFIG_FILE"

// Config holds the server settings.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"    toml:"http"    envPrefix:"HTTP_"`
	Redis   RedisConfig   `yaml:"redis"   toml:"redis"   envPrefix:"REDIS_"`
	Store   StoreConfig   `yaml:"store"   toml:"store"   envPrefix:"STORE_"`
	JWT     JWTConfig     `yaml:"jwt"     toml:"jwt"     envPrefix:"JWT_"`
	Session SessionConfig `yaml:"session" toml:"session" envPrefix:"SESSION_"`
	Lockout LockoutConfig `yaml:"lockout" toml:"lockout" envPrefix:"LOCKOUT_"`
	Audit   AuditConfig   `yaml:"audit"   toml:"audit"   envPrefix:"AUDIT_"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
	Log     LogConfig     `yaml:"log"     toml:"log"     envPrefix:"LOG_"`

	Bootstrap BootstrapConfig `yaml:"bootstrap" toml:"bootstrap" envPrefix:"BOOTSTRAP_"`
}

// HTTPConfig controls the listener and the per-IP login limiter.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"             toml:"addr"             env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     toml:"read_timeout"     env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    toml:"write_timeout"    env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	LoginRate       float64       `yaml:"login_rate"       toml:"login_rate"       env:"LOGIN_RATE"`
	LoginBurst      int           `yaml:"login_burst"      toml:"login_burst"      env:"LOGIN_BURST"`
}

// RedisConfig locates the session and throttle store.
type RedisConfig struct {
	URL    string `yaml:"url"    toml:"url"    env:"URL"`
	Prefix string `yaml:"prefix" toml:"prefix" env:"PREFIX"`
}

// StoreConfig selects the identity and role store.
type StoreConfig struct {
	// Driver is "memory", "postgres" or "sqlite".
	Driver  string `yaml:"driver"  toml:"driver"  env:"DRIVER"`
	DSN     string `yaml:"dsn"     toml:"dsn"     env:"DSN"`
	Migrate bool   `yaml:"migrate" toml:"migrate" env:"MIGRATE"`
}

// JWTConfig selects the signing method and key material. Key paths point at
// PEM files; Secret is used for hs256.
type JWTConfig struct {
	Method         string        `yaml:"method"           toml:"method"           env:"METHOD"`
	PrivateKeyPath string        `yaml:"private_key_path" toml:"private_key_path" env:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string        `yaml:"public_key_path"  toml:"public_key_path"  env:"PUBLIC_KEY_PATH"`
	Secret         string        `yaml:"secret"           toml:"secret"           env:"SECRET"`
	Issuer         string        `yaml:"issuer"           toml:"issuer"           env:"ISSUER"`
	Audience       string        `yaml:"audience"         toml:"audience"         env:"AUDIENCE"`
	KeyID          string        `yaml:"key_id"           toml:"key_id"           env:"KEY_ID"`
	AccessTTL      time.Duration `yaml:"access_ttl"       toml:"access_ttl"       env:"ACCESS_TTL"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl"      toml:"refresh_ttl"      env:"REFRESH_TTL"`
}

type SessionConfig struct {
	TTL            time.Duration `yaml:"ttl"             toml:"ttl"             env:"TTL"`
	RefreshCeiling int           `yaml:"refresh_ceiling" toml:"refresh_ceiling" env:"REFRESH_CEILING"`
	SweepInterval  time.Duration `yaml:"sweep_interval"  toml:"sweep_interval"  env:"SWEEP_INTERVAL"`
}

type LockoutConfig struct {
	Threshold int           `yaml:"threshold" toml:"threshold" env:"THRESHOLD"`
	Duration  time.Duration `yaml:"duration"  toml:"duration"  env:"DURATION"`
}

// AuditConfig enables the audit stream. With an empty Broker events are
// written to the log.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"      toml:"enabled"      env:"ENABLED"`
	BufferSize  int    `yaml:"buffer_size"  toml:"buffer_size"  env:"BUFFER_SIZE"`
	Broker      string `yaml:"broker"       toml:"broker"       env:"BROKER"`
	ClientID    string `yaml:"client_id"    toml:"client_id"    env:"CLIENT_ID"`
	Username    string `yaml:"username"     toml:"username"     env:"USERNAME"`
	Password    string `yaml:"password"     toml:"password"     env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         byte   `yaml:"qos"          toml:"qos"          env:"QOS"`
}

type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"    toml:"enabled"    env:"ENABLED"`
	Histograms bool `yaml:"histograms" toml:"histograms" env:"HISTOGRAMS"`
}

type LogConfig struct {
	Level  string `yaml:"level"  toml:"level"  env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// BootstrapConfig creates the first admin identity at startup when Username
// and Password are set and no identity with that login exists.
type BootstrapConfig struct {
	Username string `yaml:"username" toml:"username" env:"USERNAME"`
	Email    string `yaml:"email"    toml:"email"    env:"EMAIL"`
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
}

// Enabled reports whether an admin should be bootstrapped.
func (b BootstrapConfig) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// Default returns the settings used when neither a file nor the environment
// overrides them.
func Default() Config {
	engine := authcore.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			LoginRate:       5,
			LoginBurst:      10,
		},
		Redis: RedisConfig{
			URL:    "redis://localhost:6379/0",
			Prefix: engine.Session.RedisPrefix,
		},
		Store: StoreConfig{
			Driver:  "memory",
			Migrate: true,
		},
		JWT: JWTConfig{
			Method:     engine.JWT.SigningMethod,
			Issuer:     engine.JWT.Issuer,
			AccessTTL:  engine.JWT.AccessTTL,
			RefreshTTL: engine.JWT.RefreshTTL,
		},
		Session: SessionConfig{
			TTL:            engine.Session.TTL,
			RefreshCeiling: engine.Session.RefreshCeiling,
			SweepInterval:  engine.Sweeper.Interval,
		},
		Lockout: LockoutConfig{
			Threshold: engine.Lockout.Threshold,
			Duration:  engine.Lockout.Duration,
		},
		Audit: AuditConfig{
			BufferSize:  engine.Audit.BufferSize,
			ClientID:    "authd",
			TopicPrefix: "authcore/audit",
			QoS:         1,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Histograms: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from the defaults, the file named by
// AUTHD_CONFIG_FILE if set, and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	return nil
}

// Validate checks the server-level settings. Engine settings are validated by
// the engine builder.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.LoginRate < 0 || c.HTTP.LoginBurst < 0 {
		return errors.New("http login limiter values must be >= 0")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.JWT.Method {
	case "ed25519":
		if c.JWT.PrivateKeyPath == "" || c.JWT.PublicKeyPath == "" {
			return errors.New("jwt ed25519 requires private_key_path and public_key_path")
		}
	case "hs256":
		if c.JWT.Secret == "" {
			return errors.New("jwt hs256 requires secret")
		}
	default:
		return fmt.Errorf("unknown jwt method %q", c.JWT.Method)
	}

	if c.Audit.Enabled && c.Audit.QoS > 2 {
		return errors.New("audit.qos must be 0, 1 or 2")
	}
	return nil
}

// EngineConfig converts the settings into an engine configuration, reading
// key files as needed.
func (c *Config) EngineConfig() (authcore.Config, error) {
	out := authcore.DefaultConfig()

	out.JWT.SigningMethod = c.JWT.Method
	out.JWT.Issuer = c.JWT.Issuer
	out.JWT.Audience = c.JWT.Audience
	out.JWT.KeyID = c.JWT.KeyID
	out.JWT.AccessTTL = c.JWT.AccessTTL
	out.JWT.RefreshTTL = c.JWT.RefreshTTL
	switch c.JWT.Method {
	case "hs256":
		out.JWT.PrivateKey = []byte(c.JWT.Secret)
	case "ed25519":
		priv, err := os.ReadFile(c.JWT.PrivateKeyPath)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("config: reading private key: %w", err)
		}
		pub, err := os.ReadFile(c.JWT.PublicKeyPath)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("config: reading public key: %w", err)
		}
		out.JWT.PrivateKey = priv
		out.JWT.PublicKey = pub
	}

	out.Session.TTL = c.Session.TTL
	out.Session.RefreshCeiling = c.Session.RefreshCeiling
	out.Session.RedisPrefix = c.Redis.Prefix
	out.Sweeper.Interval = c.Session.SweepInterval
	out.Sweeper.Enabled = c.Session.SweepInterval > 0

	out.Lockout.Threshold = c.Lockout.Threshold
	out.Lockout.Duration = c.Lockout.Duration

	out.Audit.Enabled = c.Audit.Enabled
	out.Audit.BufferSize = c.Audit.BufferSize

	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.Histograms

	if err := out.Validate(); err != nil {
		return authcore.Config{}, fmt.Errorf("config: %w", err)
	}
	return out, nil
}
