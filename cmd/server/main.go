package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"kasir/backoffice/internal/config"
	"kasir/backoffice/internal/httpapi"
	"kasir/backoffice/internal/logger"
	"kasir/backoffice/internal/service"
	"kasir/backoffice/internal/store"
	"kasir/backoffice/internal/store/memory"
	"kasir/backoffice/internal/store/sqlstore"
	"kasir/backoffice/internal/throttle"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	location, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.ReportTimezone).Msg("invalid REPORT_TIMEZONE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		db, err := sqlstore.New(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, sqlstore.Options{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: 30 * time.Minute,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).
				Msg("database unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("schema migration failed")
			}
		}
		repo = db
		closers = append(closers, db.Close)
		log.Info().Str("driver", cfg.DatabaseDriver).Msg("repository: sql")
	} else {
		repo = memory.NewSeeded(log)
		log.Info().Msg("repository: in-memory")
	}

	loginLimiter, closeLimiter := newLoginLimiter(ctx, cfg, log)
	if closeLimiter != nil {
		closers = append(closers, closeLimiter)
	}

	svc := service.New(repo, log, service.Options{
		BcryptCost:     cfg.BcryptCost,
		ReportLocation: location,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, log, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		MaxListLimit:   cfg.ListMaxLimit,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		LoginLimiter:   loginLimiter,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("backoffice API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// newLoginLimiter picks the login throttle backend. Redis is used when it
// answers a ping, the in-process window otherwise. The returned close func
// is nil when there is nothing to release.
func newLoginLimiter(ctx context.Context, cfg config.Config, log zerolog.Logger) (throttle.Limiter, func() error) {
	if cfg.LoginMaxAttempts == 0 {
		log.Warn().Msg("login throttle disabled by LOGIN_MAX_ATTEMPTS=0")
		return throttle.NoopLimiter{}, nil
	}
	if cfg.RedisAddr != "" {
		redisLimiter := throttle.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LoginMaxAttempts, time.Minute)
		if err := redisLimiter.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, login throttle stays in process")
			_ = redisLimiter.Close()
		} else {
			log.Info().Msg("login throttle: redis")
			return redisLimiter, redisLimiter.Close
		}
	}
	return throttle.NewWindowLimiter(cfg.LoginMaxAttempts, time.Minute), nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch cfg.DatabaseDriver {
	case sqlstore.DriverPostgres, sqlstore.DriverMySQL:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", sqlstore.DriverPostgres, sqlstore.DriverMySQL, cfg.DatabaseDriver)
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cfg.BcryptCost)
	}
	return nil
}
