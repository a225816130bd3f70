// Command authd serves the authentication engine over HTTP.
//
// Settings come from AUTHD_* environment variables and an optional YAML or TOML
// file named by AUTHD_CONFIG_FILE. See internal/config for the full list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ibn-api/authcore"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/internal/audit"
	"github.com/ibn-api/authcore/internal/config"
	"github.com/ibn-api/authcore/internal/logging"
	"github.com/ibn-api/authcore/metrics/export/prometheus"
	"github.com/ibn-api/authcore/middleware"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/store/memory"
	"github.com/ibn-api/authcore/store/postgres"
	"github.com/ibn-api/authcore/store/sqlite"
)

var version = "dev"

// backingStore is what every store driver provides.
type backingStore interface {
	identity.Store
	permission.Store
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "authd",
		Version: version,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := permission.Seed(ctx, store)
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	logger.Info("role catalog seeded",
		"permissions_created", report.PermissionsCreated,
		"roles_created", report.RolesCreated,
	)

	if cfg.Bootstrap.Enabled() {
		if err := bootstrapAdmin(ctx, store, cfg.Bootstrap, engineCfg.Password, logger); err != nil {
			return err
		}
	}

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithRoleStore(store).
		WithLogger(logger)

	if cfg.Audit.Enabled {
		sink, closeSink, err := openAuditSink(cfg.Audit, logger)
		if err != nil {
			return err
		}
		defer closeSink()
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics, err = prometheus.Handler(engine)
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
	}

	var login func(http.Handler) http.Handler
	if cfg.HTTP.LoginRate > 0 {
		login = middleware.RateLimit(ctx, cfg.HTTP.LoginRate, cfg.HTTP.LoginBurst)
	}

	srv := &server{engine: engine, logger: logger}
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.routes(login, metrics),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backingStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Migrate {
			if err := postgres.Migrate(cfg.DSN, logger); err != nil {
				return nil, nil, err
			}
		}
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(db, nil)
		return s, func() { _ = s.Close() }, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		logger.Warn("using in-memory store; identities are lost on restart")
		return memory.New(nil), func() {}, nil
	}
}

func openAuditSink(cfg config.AuditConfig, logger *slog.Logger) (authcore.AuditSink, func(), error) {
	if cfg.Broker == "" {
		return authcore.NewSlogSink(logger), func() {}, nil
	}
	mqttCfg := audit.MQTTConfig{
		BrokerURL:   cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         cfg.QoS,
	}
	client, err := audit.DialMQTT(mqttCfg)
	if err != nil {
		return nil, nil, err
	}
	sink := audit.NewMQTTSink(client, mqttCfg, func(err error) {
		logger.Warn("audit publish failed", "error", err)
	})
	return sink, func() { audit.CloseMQTT(client) }, nil
}

// bootstrapAdmin creates the configured admin identity unless the login is
// already taken.
func bootstrapAdmin(ctx context.Context, store backingStore, cfg config.BootstrapConfig, pw authcore.PasswordConfig, logger *slog.Logger) error {
	if _, err := store.GetByLogin(ctx, cfg.Username); err == nil {
		return nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup: %w", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:           pw.Memory,
		Time:             pw.Time,
		Parallelism:      pw.Parallelism,
		SaltLength:       pw.SaltLength,
		KeyLength:        pw.KeyLength,
		MinPasswordBytes: pw.MinPasswordBytes,
		MaxPasswordBytes: pw.MaxPasswordBytes,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.Password)
	if err != nil {
		return fmt.Errorf("bootstrap password: %w", err)
	}
	role, err := store.GetRoleByName(ctx, permission.RoleAdmin)
	if err != nil {
		return fmt.Errorf("bootstrap role: %w", err)
	}

	rec, err := store.Create(ctx, identity.Identity{
		Username:     cfg.Username,
		Email:        cfg.Email,
		PasswordHash: hash,
		Status:       identity.StatusActive,
		RoleID:       role.ID,
	})
	if err != nil {
		if errors.Is(err, identity.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("bootstrap create: %w", err)
	}
	logger.Info("admin identity bootstrapped", "identity_id", rec.ID, "username", rec.Username)
	return nil
}
