package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"finitefield.org/hanko-signin/internal/signin/config"
	"finitefield.org/hanko-signin/internal/signin/forms"
	"finitefield.org/hanko-signin/internal/signin/httpserver"
	"finitefield.org/hanko-signin/internal/signin/httpserver/middleware"
	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/observability"
	"finitefield.org/hanko-signin/internal/signin/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap, err := observability.NewLogger(os.Getenv(config.EnvPrefix + "LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = bootstrap.Sync()
	}()
	logger := bootstrap.Named("signin")

	cfg, err := config.Load(ctx, config.WithLogger(logger))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return err
	}
	logger = logger.With(zap.String("env", cfg.Environment))

	connectOpts := []identity.Option{identity.WithLogger(logger)}
	if cfg.IsLocal() && cfg.Firebase.APIKey == "" {
		static, err := identity.NewStaticProvider()
		if err != nil {
			return err
		}
		connectOpts = append(connectOpts, identity.WithStaticProvider(static))
	}
	client, err := identity.Connect(ctx, cfg.Identity(), connectOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("identity client close error", zap.Error(err))
		}
	}()

	sessions, err := session.NewManager(session.Config{
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.CookieSecure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		return err
	}

	guard, closeGuard := buildGuard(ctx, cfg.Guard, logger)
	defer closeGuard()

	srv := httpserver.New(httpserver.Config{
		Address:       cfg.HTTPAddr,
		Logger:        logger,
		Provider:      client.Provider(),
		Authenticator: middleware.NewTokenAuthenticator(client.Verifier()),
		Refresher:     client.Refresher(),
		Sessions:      sessions,
		Guard:         guard,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("signin server listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("static_identity", client.Static()),
		zap.Bool("ephemeral_session_keys", cfg.Session.Ephemeral),
	)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("signin server stopped")
	return nil
}

// buildGuard returns a Redis-backed guard when an address is configured and
// the server is reachable, otherwise the in-process guard.
func buildGuard(ctx context.Context, cfg config.Guard, logger *zap.Logger) (forms.Guard, func()) {
	if cfg.RedisAddr == "" {
		return forms.NewMemoryGuard(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable; using in-process submission guard",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return forms.NewMemoryGuard(), func() {}
	}
	logger.Info("redis submission guard enabled", zap.String("addr", cfg.RedisAddr))
	return forms.NewRedisGuard(rdb, cfg.TTL), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}
