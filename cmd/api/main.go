package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hatchup.org/internal/audit"
	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/cache"
	"hatchup.org/internal/config"
	"hatchup.org/internal/document"
	"hatchup.org/internal/httpapi"
	"hatchup.org/internal/mail"
	"hatchup.org/internal/obs"
	"hatchup.org/internal/otp"
	"hatchup.org/internal/store/pg"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger("production", "info", "hatchup-api").Fatal("load config", zap.Error(err))
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}

	logger := obs.NewLogger(cfg.Environment, cfg.Obs.LogLevel, cfg.Obs.ServiceName)
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (метрики, build info, трейсы)
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		Endpoint:       cfg.Obs.OTelEndpoint,
		Insecure:       cfg.Obs.OTelInsecure,
		ServiceName:    cfg.Obs.ServiceName,
		ServiceVersion: cfg.Version,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	if cfg.Postgres.DSN == "" {
		logger.Fatal("missing HATCHUP_PG_DSN")
	}
	store, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	probe := httpapi.ReadyProbe{DB: store.DB()}
	var shared cache.Cache
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer rc.Close()
		shared = rc
		probe.Cache = rc
	} else {
		mc, err := cache.NewMemory(cfg.Cache.MemoryEntries)
		if err != nil {
			logger.Fatal("memory cache", zap.Error(err))
		}
		logger.Warn("HATCHUP_REDIS_URL not set, using in-process cache")
		shared = mc
	}

	issuer, err := newIssuer(cfg.Auth)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}

	roles := authz.NewRoleStore(shared, store,
		authz.WithRoleTTL(cfg.Cache.RoleTTL),
		authz.WithRoleLogger(logger.Named("roles")),
	)
	objects := authz.NewObjectPermissions(store)
	gate := authz.NewGate(roles, objects)

	if cfg.BootstrapRoles {
		if err := bootstrapRoles(ctx, store, cfg.RolesFile); err != nil {
			logger.Fatal("bootstrap roles", zap.Error(err))
		}
		logger.Info("roles bootstrapped")
	}

	authSvc := auth.NewService(store, roles, issuer, auth.WithLogger(logger.Named("auth")))

	sender, closeSender, err := newSender(cfg.Mail, logger.Named("mail"))
	if err != nil {
		logger.Fatal("mail transport", zap.Error(err))
	}
	var async *mail.Async
	if cfg.Mail.Async {
		async = mail.NewAsync(sender, cfg.Mail.Concurrency, cfg.Mail.SendTimeout, logger.Named("mail"))
		sender = async
	}

	otpSvc := otp.NewService(shared, store, sender, authSvc,
		otp.WithCodeTTL(cfg.OTP.CodeTTL),
		otp.WithVerificationTTL(cfg.OTP.VerificationTTL),
		otp.WithHiddenAccounts(cfg.OTP.HideUnknownAccounts),
		otp.WithMaxAttempts(cfg.OTP.MaxAttempts),
		otp.WithLogger(logger.Named("otp")),
	)
	docs := document.NewService(store, gate, objects, logger.Named("documents"))

	proxies, err := httpapi.ParseProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}

	api := httpapi.New(probe, cfg.Version, httpapi.Services{
		Auth:      authSvc,
		OTP:       otpSvc,
		Roles:     roles,
		Gate:      gate,
		Documents: docs,
		Audit:     audit.New(logger.Named("audit")),
	},
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithTrustedProxies(proxies),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	logger.Info("starting hatchup-api", zap.String("version", cfg.Version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if async != nil {
		if err := async.Wait(shutdownCtx); err != nil {
			logger.Warn("pending mail dropped", zap.Error(err))
		}
	}
	if err := closeSender(); err != nil {
		logger.Warn("close mail transport", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func newIssuer(cfg config.AuthConfig) (*auth.Issuer, error) {
	opts := []auth.IssuerOption{
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	}
	if cfg.PrivateKeyPEM != "" {
		opts = append(opts, auth.WithRS256Keys(cfg.PrivateKeyPEM, cfg.PublicKeyPEM))
	} else {
		opts = append(opts, auth.WithHMACSecret(cfg.Secret))
	}
	return auth.NewIssuer(opts...)
}

// newSender returns the configured transport and a function releasing it.
func newSender(cfg config.MailConfig, logger *zap.Logger) (mail.Sender, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Transport {
	case "smtp":
		s, err := mail.NewSMTPSender(mail.SMTPConfig{
			Addr: cfg.SMTPAddr,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.From,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "amqp":
		q, err := mail.DialQueue(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return mail.NewLogSender(logger), noop, nil
	}
}

func bootstrapRoles(ctx context.Context, catalog authz.RoleCatalog, rolesFile string) error {
	specs, err := authz.LoadSpecs(rolesFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = authz.EnsureRoles(ctx, catalog, specs)
	return err
}
