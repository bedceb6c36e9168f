package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/broker"
	"github.com/stagedoor/handoff-server-go/internal/config"
	"github.com/stagedoor/handoff-server-go/internal/database"
	"github.com/stagedoor/handoff-server-go/internal/handler"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/redis"
	"github.com/stagedoor/handoff-server-go/internal/repository"
	"github.com/stagedoor/handoff-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if len(cfg.InteractionInstances) == 0 {
		log.Fatal().Msg("INTERACTION_INSTANCES must list at least one interaction instance")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	stageRepo := repository.NewStageRepository(db.DB)

	refreshStore := service.NewRedisRefreshStore(redisClient)
	tokenService := service.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, refreshStore, isProduction)
	// Ticket redemption lives on the interaction tier; this tier only
	// serves credential login and token lifecycle.
	authService := service.NewAuthService(userRepo, tokenService, nil, nil)

	actionRouter := broker.NewRouter(cfg.InstanceID, broker.NewRedisTransport(redisClient), cfg.ActionTimeout())
	if err := actionRouter.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start action router")
	}
	defer actionRouter.Stop()
	log.Info().Str("instance", cfg.InstanceID).Msg("action router subscribed")

	authMiddleware := middleware.NewAuthMiddleware(authService)
	loginLimiter := middleware.NewLoginRateLimiter()
	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	stageRateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, "stages", 60)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	authHandler := handler.NewAuthHandler(authService, tokenService, authMiddleware)
	stageHandler := handler.NewStageHandler(actionRouter, stageRepo, cfg.InteractionInstances, authMiddleware)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(middleware.EnsureClientID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(csrfMiddleware.Handler)
		r.Mount("/", authHandler.Routes(loginLimiter))
	})

	r.Route("/stages", func(r chi.Router) {
		r.Use(csrfMiddleware.Handler)
		r.Use(stageRateLimitMiddleware.Handler)
		r.Mount("/", stageHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("instance", cfg.InstanceID).Msg("starting control server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
