package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibn-api/authcore/credential"
	internalaudit "github.com/ibn-api/authcore/internal/audit"
	"github.com/ibn-api/authcore/internal/flows"
	"github.com/ibn-api/authcore/internal/logging"
	"github.com/ibn-api/authcore/internal/rate"
	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/session"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// [Builder.Build] once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityStore
	roles      RoleStore
	registry   *permission.Registry

	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions and throttles. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets identity persistence. Required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithRoleStore sets role and permission persistence. Required.
func (b *Builder) WithRoleStore(store RoleStore) *Builder {
	b.roles = store
	return b
}

// WithCapabilityRegistry overrides the built-in capability table. The registry
// must be frozen.
func (b *Builder) WithCapabilityRegistry(r *permission.Registry) *Builder {
	b.registry = r
	return b
}

// WithAuditSink sets the audit destination. Events are only dispatched when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for best-effort failures. The default writes
// warnings and errors to stderr.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component the engine owns.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every component and starts the
// session sweeper when enabled. A Builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if b.roles == nil {
		return nil, errors.New("role store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logging.New(logging.Options{Level: "warn", Format: "text", Output: "stderr"})
	}

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		now:        now,
		identities: b.identities,
		roles:      b.roles,
		metrics:    NewMetrics(cfg.Metrics),
	}

	// -------- PASSWORDS & CREDENTIALS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinPasswordBytes,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	verifier, err := credential.NewVerifier(b.identities, hasher, credential.Config{
		Threshold:     cfg.Lockout.Threshold,
		LockDuration:  cfg.Lockout.Duration,
		MaxRetries:    cfg.Lockout.MaxRetries,
		UpgradeHashes: cfg.Password.UpgradeHashes,
		OnRehash: func(string) {
			engine.metricInc(MetricPasswordRehashed)
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}
	engine.verifier = verifier

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- SESSIONS --------
	store := session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.Retention)
	sessions, err := session.NewManager(store, session.Config{
		TTL:            cfg.Session.TTL,
		RefreshCeiling: cfg.Session.RefreshCeiling,
		SweepBatch:     cfg.Sweeper.BatchSize,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	engine.sessions = sessions

	// -------- PERMISSIONS --------
	resolver, err := permission.NewResolver(b.identities, b.roles, b.registry, nil)
	if err != nil {
		return nil, err
	}
	engine.resolver = resolver

	// -------- THROTTLES & AUDIT --------
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Prefix:                cfg.Session.RedisPrefix,
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginWindow:           cfg.Security.LoginWindow,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
		RefreshWindow:         cfg.Security.RefreshWindow,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
		OnDrop: func(ev AuditEvent) {
			logger.Warn("audit event dropped", "event_type", ev.EventType)
		},
	}, b.auditSink)

	engine.flowDeps = engine.buildFlowDeps()

	if cfg.Sweeper.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopSweeper = cancel
		engine.sweeperDone = make(chan struct{})
		sweeper := session.NewSweeper(sessions, cfg.Sweeper.Interval, logger, engine.observeSweep)
		go func() {
			defer close(engine.sweeperDone)
			sweeper.Run(ctx)
		}()
	}

	b.built = true

	return engine, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	warn := e.logger.Warn
	return flows.Deps{
		Login: flows.LoginDeps{
			RateLimiter: e.rateLimiter,
			Verifier:    e.verifier,
			Tokens:      e.jwtManager,
			Sessions:    e.sessions,
			RoleName:    e.roleName,
			RateLimited: rate.ErrRateLimited,
			Warn:        warn,
		},
		Refresh: flows.RefreshDeps{
			VerifyRefresh: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.Verify(token, jwt.KindRefresh)
			},
			LoadSubject: e.loadSubject,
			Tokens:      e.jwtManager,
			Sessions:    e.sessions,
			RateLimiter: e.rateLimiter,
			RateLimited: rate.ErrRateLimited,
			Warn:        warn,
		},
		Logout: flows.LogoutDeps{
			VerifyAccess: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.VerifyIgnoringExpiry(token, jwt.KindAccess)
			},
			Sessions: e.sessions,
		},
		Validate: flows.ValidateDeps{
			VerifyAccess: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.Verify(token, jwt.KindAccess)
			},
			Sessions: e.sessions,
			Warn:     warn,
		},
		Authorize: flows.AuthorizeDeps{
			Resolve:  e.resolver.Resolve,
			Registry: e.resolver.Registry(),
		},
	}
}
