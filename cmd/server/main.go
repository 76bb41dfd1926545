package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/internal/keyring"
	"github.com/harborlock/harborlock/internal/server"
	"github.com/harborlock/harborlock/pkg/authz"
	"github.com/harborlock/harborlock/pkg/ratelimit"
)

func main() {
	_ = godotenv.Load()

	log := newLogger()
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "development" {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, server.DBDSNFromEnv())
	if err != nil {
		return err
	}
	defer pool.Close()

	keysPath := os.Getenv("KEYRING_PATH")
	if keysPath == "" {
		keysPath = "keyring.yaml"
	}
	keys, err := keyring.Load(keysPath)
	if err != nil {
		return err
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return err
	}
	// Without explicit policy files the server seeds its built-in role
	// grants.
	var authorizer *authz.Authorizer
	modelPath, policyPath := os.Getenv("AUTHZ_MODEL_PATH"), os.Getenv("AUTHZ_POLICY_PATH")
	if modelPath != "" && policyPath != "" {
		authorizer, err = authz.NewAuthorizer(modelPath, policyPath, mode)
		if err != nil {
			return err
		}
	}

	limiterCfg := ratelimit.Config{Window: time.Minute, Max: 10}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(limiterCfg)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		limiter = ratelimit.NewFallbackLimiter(
			ratelimit.NewRedisLimiter(client, limiterCfg),
			ratelimit.NewMemoryLimiter(limiterCfg),
			log)
	}

	auditWriter := audit.NewWriter(pool, log)
	defer auditWriter.Close()

	srv, err := server.NewServer(server.Options{
		Log:         log,
		DB:          pool,
		Limiter:     limiter,
		Audit:       auditWriter,
		Authorizer:  authorizer,
		Keys:        keys,
		LoginWindow: limiterCfg.Window,
	})
	if err != nil {
		return err
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
