package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/ibn-api/authcore/credential"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/session"
)

// Config is the complete engine configuration. Start from [DefaultConfig] and
// override the sections you need; [Builder.Build] validates the result.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Sweeper  SweeperConfig
}

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// SessionConfig controls the server-side session record.
type SessionConfig struct {
	TTL            time.Duration
	RefreshCeiling int
	// RedisPrefix namespaces session and throttle keys.
	RedisPrefix string
	// Retention keeps expired and invalidated records this long past expiry.
	Retention time.Duration
}

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	Threshold  int
	Duration   time.Duration
	MaxRetries int
}

// PasswordConfig holds argon2id parameters and the length policy.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int

	// UpgradeHashes rewrites legacy or weaker hashes on successful login.
	UpgradeHashes bool
}

// SecurityConfig controls the Redis-backed throttles.
type SecurityConfig struct {
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig toggles in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SweeperConfig controls background reclamation of expired sessions.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     8 * time.Hour,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			TTL:            session.DefaultTTL,
			RefreshCeiling: session.DefaultRefreshCeiling,
			RedisPrefix:    "ac",
			Retention:      session.DefaultRetention,
		},
		Lockout: LockoutConfig{
			Threshold:  credential.DefaultThreshold,
			Duration:   credential.DefaultLockDuration,
			MaxRetries: credential.DefaultMaxRetries,
		},
		Password: PasswordConfig{
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MinPasswordBytes: pw.MinPasswordBytes,
			MaxPasswordBytes: pw.MaxPasswordBytes,
			UpgradeHashes:    true,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:      20,
			LoginWindow:           15 * time.Minute,
			EnableIPThrottle:      true,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshWindow:         time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  session.DefaultSweepInterval,
			BatchSize: session.DefaultSweepBatch,
		},
	}
}

// DefaultConfig returns the production defaults: 8h access tokens and sessions,
// 30-day refresh tokens, a refresh ceiling of 10 and a 5-failure, 30-minute lockout.
// Signing keys must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RefreshCeiling <= 0 {
		return errors.New("Session RefreshCeiling must be > 0")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.MaxRetries <= 0 {
		return errors.New("Lockout MaxRetries must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinPasswordBytes < 1 {
		return errors.New("Password MinPasswordBytes must be >= 1")
	}
	if c.Password.MaxPasswordBytes < c.Password.MinPasswordBytes {
		return errors.New("Password MaxPasswordBytes must be >= MinPasswordBytes")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginWindow <= 0 {
		return errors.New("Security LoginWindow must be > 0 when login throttling is on")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0 when refresh throttling is on")
		}
		if c.Security.RefreshWindow <= 0 {
			return errors.New("Security RefreshWindow must be > 0 when refresh throttling is on")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	// Sweeper
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return errors.New("Sweeper Interval must be > 0")
		}
		if c.Sweeper.BatchSize <= 0 {
			return errors.New("Sweeper BatchSize must be > 0")
		}
	}

	return nil
}
