package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"market-chat/internal/auth"
	"market-chat/internal/cache"
	"market-chat/internal/chat"
	"market-chat/internal/config"
	"market-chat/internal/db"
	"market-chat/internal/feed"
	grpcserver "market-chat/internal/grpc"
	"market-chat/internal/handlers"
	"market-chat/internal/logging"
	"market-chat/internal/middleware"
	"market-chat/internal/observability"
	"market-chat/internal/rabbitmq"
	"market-chat/internal/repositories"
	"market-chat/internal/telemetry"
	"market-chat/internal/ws"
)

const serviceName = "market-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.Env, serviceName)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "chat.audit", serviceName, cfg.Env, logger)

	conversationRepo := repositories.NewConversationRepo(database)
	participantRepo := repositories.NewParticipantRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileRepo := repositories.NewProfileRepo(database)

	var profiles repositories.ProfileLookup = profileRepo
	var invalidator rabbitmq.ProfileInvalidator
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, profile cache disabled")
		} else {
			defer rdb.Close()
			profileCache := cache.NewProfileCache(rdb, profileRepo, cfg.ProfileCacheTTL, logger)
			profiles = profileCache
			invalidator = profileCache
		}
	}

	broker := feed.NewBroker()
	var primary feed.Publisher = feed.NewLocal(broker)
	if cfg.FeedMode == config.FeedModePostgres {
		primary = feed.NewPGNotifier(database)
		listener := feed.NewPGListener(cfg.DatabaseDSN, broker, messageRepo, logger)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("feed listener stopped")
			}
		}()
	}
	events := feed.NewFanout(logger, primary, rabbitmq.NewEventPublisher(publisher))

	if cfg.AMQPURL != "" {
		consumer := rabbitmq.NewProfileConsumer(cfg.AMQPURL, cfg.ProfileExchange, cfg.ProfileQueue, profileRepo, invalidator, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("profile consumer stopped")
			}
		}()
	}

	service := chat.NewService(chat.Options{
		Conversations: conversationRepo,
		Participants:  participantRepo,
		Messages:      messageRepo,
		Profiles:      profiles,
		Events:        events,
		Audit:         audit,
		Logger:        logger,
	})
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	hub := ws.NewHub(broker, publisher, logger)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestContext(),
		middleware.Logger(logger),
		otelgin.Middleware(serviceName),
		observability.HTTPMetricsMiddleware(),
		cors.New(corsConfig(cfg.CORSOrigins)),
	)

	router.GET("/healthz", healthHandler(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", middleware.AuthMiddleware(verifier), middleware.Timeout(cfg.RequestTimeout))
	handlers.NewConversationHandler(service, logger).Register(api)
	handlers.RegisterDebugRoutes(api, audit, broker, hub, cfg.DebugRoutes)

	conversationWS := ws.NewConversationWebSocketHandler(hub, service, logger)
	router.GET("/ws/conversations/:conversation_id", middleware.WebSocketAuthMiddleware(verifier), conversationWS.Handle)

	if cfg.GRPCPort != "" {
		startGRPC(ctx, cfg.GRPCPort, database, logger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("feed_mode", cfg.FeedMode).
			Str("amqp", rabbitmq.PublisherMode(publisher)).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown")
	}
}

func startGRPC(ctx context.Context, port string, database *sqlx.DB, logger zerolog.Logger) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Fatal().Err(err).Str("port", port).Msg("failed to listen for grpc")
	}
	srv := grpcserver.NewServer(database, 15*time.Second, logger)
	go func() {
		if err := srv.Serve(ctx, lis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()
}

func healthHandler(database *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", observability.RequestIDHeader, "X-Device-Id"},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
