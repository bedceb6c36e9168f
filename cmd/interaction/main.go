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
	"github.com/stagedoor/handoff-server-go/internal/jobs"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/pairing"
	"github.com/stagedoor/handoff-server-go/internal/redis"
	"github.com/stagedoor/handoff-server-go/internal/repository"
	"github.com/stagedoor/handoff-server-go/internal/service"
	"github.com/stagedoor/handoff-server-go/internal/ws"
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

	tickets := service.NewTicketStore()
	pairingManager := pairing.NewManager(tickets, cfg.PairingTTL())
	wsManager := ws.NewManager(pairingManager, cfg.HeartbeatInterval(), cfg.IdleTimeout())

	refreshStore := service.NewRedisRefreshStore(redisClient)
	tokenService := service.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, refreshStore, isProduction)
	authService := service.NewAuthService(userRepo, tokenService, tickets, pairingManager)
	stageService := service.NewStageService(stageRepo, tokenService, cfg.InstanceID)

	actionRouter := broker.NewRouter(cfg.InstanceID, broker.NewRedisTransport(redisClient), cfg.ActionTimeout())
	stageService.RegisterHandlers(actionRouter)
	if err := actionRouter.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start action router")
	}
	defer actionRouter.Stop()
	log.Info().Str("instance", cfg.InstanceID).Msg("action router subscribed")

	authMiddleware := middleware.NewAuthMiddleware(authService)
	rateLimiter := service.NewRateLimiter(redisClient.Client)
	fpRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, 30, time.Minute, "fp")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	fpHandler := handler.NewFingerprintHandler(pairingManager, authService, tokenService, authMiddleware)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(middleware.EnsureClientID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": wsManager.ConnCount(),
			"timestamp":   time.Now().UnixMilli(),
		})
	})

	// The socket outlives any request timeout; only the HTTP surface below
	// runs under chimiddleware.Timeout.
	r.Get("/ws", wsManager.HandleConnect)

	r.Route("/auth/fp", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(fpRateLimitMiddleware.Handler)
		r.Mount("/", fpHandler.Routes())
	})

	expiryJob := jobs.NewExpiryJob(pairingManager, stageRepo, config.PairingSweepInterval)
	expiryJob.Start()
	defer expiryJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("instance", cfg.InstanceID).Msg("starting interaction server")
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
	wsManager.Shutdown()

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
