package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"

	"chatapp/internal/broker"
	"chatapp/internal/config"
	"chatapp/internal/domain"
	"chatapp/internal/httpserver"
	"chatapp/internal/observability"
	"chatapp/internal/ratelimit"
	"chatapp/internal/security"
	"chatapp/internal/service"
	"chatapp/internal/store/postgres"
	"chatapp/internal/store/sqlite"
	"chatapp/internal/ws"
)

// @title           Chat API
// @version         1.0
// @description     Direct messaging with live delivery, read receipts and presence.

// @host            localhost:5000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logs.GetLoggerFromString(cfg.LogLevel).With("service", cfg.AppName, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, users, messages, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	logger.Info("store ready", "driver", cfg.DBDriver)

	shutdownTracing := func(context.Context) error { return nil }
	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err = observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.AppName, cfg.Env)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		}
	}

	publisher := broker.NewPublisher(logger, cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	events := broker.NewEmitter(publisher, cfg.AppName, cfg.Env, logger)

	limiter, closeLimiter, err := ratelimit.New(ctx, logger, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SendRateLimit, cfg.SendRateWindow)
	if err != nil {
		logger.Warn("send rate limiting disabled", "error", err)
		limiter, closeLimiter = ratelimit.Noop{}, func() error { return nil }
	}
	defer closeLimiter()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	passwordHasher := security.NewPasswordHasher(cfg.BcryptCost)

	hub := ws.NewHub(logger)

	authSvc := service.NewAuthService(users, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(users, hub, events, logger)
	msgSvc := service.NewMessageService(messages, users, hub, limiter, events, logger, cfg.HistoryPageSize)
	receiptSvc := service.NewReceiptService(messages, hub, events, logger)
	presenceSvc := service.NewPresenceService(users, hub, events, logger)

	live := ws.MakeHandler(ws.Deps{
		Hub:            hub,
		Auth:           authSvc,
		Messages:       msgSvc,
		Receipts:       receiptSvc,
		Presence:       presenceSvc,
		Log:            logger,
		AllowedOrigins: cfg.CORSOrigins,
		BufferSize:     cfg.SessionBufferSize,
	})

	router := httpserver.NewRouter(httpserver.Deps{
		Log:         logger,
		CORSOrigins: cfg.CORSOrigins,
		Auth:        authSvc,
		Users:       userSvc,
		Messages:    msgSvc,
		Receipts:    receiptSvc,
		Live:        live,
		Sessions:    hub,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting chat server", "addr", cfg.HTTPAddr(), "broker", broker.Mode(publisher))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}
}

func openStore(cfg *config.Config) (*sql.DB, domain.UserRepository, domain.MessageRepository, error) {
	if cfg.DBDriver == "postgres" {
		db, err := postgres.Open(cfg.DatabaseURL())
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return db, postgres.NewUserRepo(db), postgres.NewMessageRepo(db), nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := sqlite.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return db, sqlite.NewUserRepo(db), sqlite.NewMessageRepo(db), nil
}
