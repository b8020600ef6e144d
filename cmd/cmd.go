package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phone-bridge-backend/internal/config"
	"phone-bridge-backend/internal/handlers"
	"phone-bridge-backend/internal/middleware"
	"phone-bridge-backend/internal/repository"
	"phone-bridge-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	deviceRepo := repository.NewDeviceRepository(db)
	commandRepo := repository.NewCommandRepository(db)

	// Initialize services
	verifier := services.NewTokenVerifier(cfg.JWT.Secret)
	notifier := services.NewCommandNotifier()
	wsHub := services.NewWSHub()

	var pushService *services.PushService
	if cfg.APNS.CertFile != "" {
		pushService, err = services.NewPushService(cfg.APNS.CertFile, cfg.APNS.CertPassword, cfg.APNS.Topic, cfg.APNS.Production)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push service")
		}
	} else {
		log.Warn().Msg("APNs not configured, offline agents will not be woken")
	}

	var blobStore *services.BlobStore
	if cfg.AWS.S3Bucket != "" {
		blobStore, err = services.NewBlobStore(
			context.Background(),
			cfg.AWS.Region,
			cfg.AWS.S3Bucket,
			cfg.AWS.AccessKey,
			cfg.AWS.SecretKey,
			cfg.AWS.Endpoint,
			cfg.Command.OffloadBytes,
			time.Duration(cfg.Command.OffloadURLMinutes)*time.Minute,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create blob store")
		}
	} else {
		log.Warn().Msg("S3 not configured, large download payloads stay inline")
	}

	commandService := services.NewCommandService(commandRepo, deviceRepo, notifier, wsHub, pushService, blobStore, cfg.CommandTimeout())
	streamService := services.NewStreamService(commandService)
	pairingService := services.NewPairingService(deviceRepo, streamService, cfg.PairCodeTTL())
	presenceService := services.NewPresenceService(cfg.OnlineWindow())

	// Initialize handlers
	deviceHandler := handlers.NewDeviceHandler(pairingService, deviceRepo, presenceService)
	commandHandler := handlers.NewCommandHandler(commandService)
	streamHandler := handlers.NewStreamHandler(streamService, wsHub)
	dashboardWS := handlers.NewDashboardWSHandler(wsHub, verifier)
	agentWS := handlers.NewAgentWSHandler(wsHub, verifier, deviceRepo, commandService, streamService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(verifier))

			r.Post("/pair/code", deviceHandler.IssuePairCode)
			r.With(middleware.RateLimit(rate.Every(time.Second), 5)).
				Post("/pair/redeem", deviceHandler.RedeemPairCode)
			r.Delete("/pair", deviceHandler.Unpair)

			r.Get("/device", deviceHandler.GetDevice)
			r.Put("/device/push-token", deviceHandler.UpdatePushToken)

			r.Post("/commands", commandHandler.SubmitCommand)

			r.Post("/stream/start", streamHandler.StartStream)
			r.Post("/stream/stop", streamHandler.StopStream)
		})
	})

	// WebSocket routes
	r.Get("/ws", dashboardWS.HandleWebSocket)
	r.Get("/ws/agent", agentWS.HandleWebSocket)

	// Create HTTP server. Submissions long-poll up to the command timeout,
	// so the write deadline leaves headroom above it.
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CommandTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
