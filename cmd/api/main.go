package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit"
	auditrepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/auth"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device"
	devicerepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant"
	restaurantrepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/router"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/token"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

func main() {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar().With("service", cfg.App.ServiceName, "env", cfg.App.Environment)
	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("service stopped with error", "err", err)
		lg.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, sugar *zap.SugaredLogger) error {
	sugar.Info("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer sqlDB.Close()

	if cfg.Database.RunMigrations {
		if err := migrations.Up(ctx, sqlDB, sugar); err != nil {
			return err
		}
	}
	db := database.NewSqlx(sqlDB, cfg.Database.Driver)

	ids, err := utilities.NewIDGenerator(cfg.App.SnowflakeNode)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hasher := auth.BcryptHasher{Cost: cfg.Security.BcryptCost}
	restaurants := restaurantrepo.NewRestaurantRepo(db)

	auditSvc := audit.NewService(auditrepo.NewAuditRepo(db), sugar, audit.WithObserver(m))
	restaurantSvc := restaurant.NewService(restaurants, hasher, sugar,
		restaurant.WithPasswordMinLength(cfg.Security.PasswordMinLength),
		restaurant.WithObserver(m))
	deviceSvc := device.NewService(devicerepo.NewDeviceRepo(db), ids, sugar, device.WithObserver(m))

	authOpts := []auth.Option{auth.WithLockout(cfg.Security.LockoutThreshold, cfg.Security.LockoutDuration)}
	var sessionHandler *token.Handler
	if cfg.Token.Secret != "" {
		tokens, err := token.NewService(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
		if err != nil {
			return err
		}
		authOpts = append(authOpts, auth.WithTokenIssuer(tokens))
		sessionHandler = token.NewHandler(tokens, sugar)
	} else {
		sugar.Info("no token secret configured, logins return no session token")
	}
	authSvc := auth.NewService(restaurants, auditSvc, hasher, sugar, authOpts...)

	limiter, closeLimiter := newLoginLimiter(ctx, cfg.RateLimit, sugar)
	defer closeLimiter()

	if cfg.App.OperatorKey == "" {
		sugar.Warn("no operator key configured, operator endpoints are disabled")
	}

	handler := router.New(router.Deps{
		Logger:         sugar,
		DB:             db,
		Restaurants:    restaurant.NewHandler(restaurantSvc, sugar),
		Devices:        device.NewHandler(deviceSvc, sugar),
		Auth:           auth.NewHandler(authSvc, sugar),
		Audit:          audit.NewHandler(auditSvc, sugar),
		Session:        sessionHandler,
		Metrics:        m,
		LoginLimit:     ratelimit.Middleware(limiter, time.Minute, sugar),
		OperatorKey:    cfg.App.OperatorKey,
		OnboardingKey:  cfg.App.OnboardingKey,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	if cfg.Device.StaleAfter > 0 {
		sweeper := device.NewSweeper(deviceSvc, cfg.Device.StaleAfter, cfg.Device.SweepInterval, sugar)
		go sweeper.Run(ctx)
		sugar.Infow("device sweeper started", "stale_after", cfg.Device.StaleAfter, "interval", cfg.Device.SweepInterval)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
	return nil
}

// newLoginLimiter prefers a Redis limiter shared by all instances and falls
// back to a per-process limiter when Redis is not configured or unreachable.
func newLoginLimiter(ctx context.Context, cfg config.RateLimitConfig, sugar *zap.SugaredLogger) (ratelimit.Limiter, func()) {
	local := ratelimit.NewLocalLimiter(cfg.LoginPerMinute)
	if cfg.RedisAddr == "" {
		return local, func() {}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	client, err := ratelimit.NewRedisClient(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		sugar.Warnw("redis unavailable, using local login rate limit", "err", err)
		return local, func() {}
	}
	redisLimiter := ratelimit.NewRedisLimiter(client, cfg.Namespace, cfg.LoginPerMinute, time.Minute)
	return ratelimit.NewFailover(redisLimiter, local, sugar), func() { _ = client.Close() }
}
