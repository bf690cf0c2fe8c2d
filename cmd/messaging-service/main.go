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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	chatHandler "marketchat-backend/internal/handler/http/chat"
	conversationHandler "marketchat-backend/internal/handler/http/conversation"
	presenceHandler "marketchat-backend/internal/handler/http/presence"
	pushHandler "marketchat-backend/internal/handler/http/push"
	statusHandler "marketchat-backend/internal/handler/http/status"
	wsHandler "marketchat-backend/internal/handler/ws"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cassandra"
	"marketchat-backend/internal/repository/cockroach"
	redisRepo "marketchat-backend/internal/repository/redis"
	chatService "marketchat-backend/internal/service/chat"
	conversationService "marketchat-backend/internal/service/conversation"
	notificationService "marketchat-backend/internal/service/notification"
	statusService "marketchat-backend/internal/service/status"
	"marketchat-backend/pkg/audit"
	"marketchat-backend/pkg/cache"
	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/constants"
	"marketchat-backend/pkg/jwt"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/push"
)

const serviceName = "messaging-service"

func main() {
	// .env is optional; real deployments inject the environment
	_ = godotenv.Load()

	cfg, err := config.Load(serviceName, 8082)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.RequireJWT(); err != nil {
		logger.Fatal("Invalid JWT configuration", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. JWT
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, 15*time.Minute)

	// 2. CockroachDB: conversations, summaries, statuses, profiles
	cockroachDB, err := database.ConnectCockroachWithRetry(ctx, cfg.Database, 5)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	go cockroachDB.ReportPoolStats(ctx, 15*time.Second)
	logger.Info("Connected to CockroachDB")

	// 3. Cassandra: message history
	cassandraDB, err := database.NewCassandraDB(cfg.Cassandra)
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// 4. Redis: broker, typing leases, presence, push tokens, audit
	redisDB, err := database.NewRedisDB(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	var broker realtime.Broker
	if cfg.Realtime.Broker == "memory" {
		logger.Warn("Using in-process realtime broker; changes are not shared between instances")
		broker = realtime.NewMemoryBroker()
	} else {
		broker = realtime.NewRedisBroker(redisDB)
	}

	// 5. Repositories
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	statusRepo := cockroach.NewStatusRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB)
	typingRepo := redisRepo.NewTypingRepository(redisDB)
	viewingRepo := redisRepo.NewViewingRepository(redisDB, cfg.Realtime.ViewingTTL)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	auditLogger := audit.NewAuditLogger(redisDB.Client)
	profiles := cache.NewProfileCache(5*time.Minute, 10000)
	stopProfileCleanup := profiles.StartCleanup(time.Minute)
	defer stopProfileCleanup()

	// 6. Push provider
	pushProvider, err := push.NewProvider(ctx, cfg.Push)
	if err != nil {
		if cfg.IsProduction() {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		logger.Warn("Push provider unavailable, using mock provider", zap.Error(err))
		pushProvider = &push.MockProvider{}
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 7. Services
	conversationSvc := conversationService.NewService(conversationRepo, userRepo, typingRepo, broker, auditLogger)
	notificationSvc := notificationService.NewService(conversationSvc, viewingRepo, presenceRepo, pushSvc)
	chatSvc := chatService.NewService(messageRepo, conversationRepo, typingRepo, broker, notificationSvc, auditLogger, chatService.Config{
		TypingLeaseTTL:    cfg.Realtime.TypingLeaseTTL,
		ReadReceiptWindow: cfg.Realtime.ReadReceiptWindow,
	})
	statusSvc := statusService.NewService(statusRepo, userRepo, profiles, broker, auditLogger, cfg.Status.TTL)

	// 8. Metrics
	appMetrics := metrics.NewMetrics(serviceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 9. Handlers
	hub := wsHandler.NewHub(conversationSvc, chatSvc, statusSvc, notificationSvc, appMetrics, wsHandler.Config{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	sendLimiter := middleware.NewRateLimiter("send_message", redisDB, appMetrics, 60, time.Minute)
	apiLimiter := middleware.NewRateLimiter("api", redisDB, appMetrics, 600, time.Minute)

	// 10. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to configure trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":  "healthy",
			"service": serviceName,
			"time":    time.Now().UTC(),
			"redis":   "ok",
		}
		if redisDB.IsDegraded() {
			body["redis"] = "degraded"
		}
		if err := cockroachDB.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		c.JSON(status, body)
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	authMiddleware := middleware.AuthMiddleware(jwtManager, middleware.NewRedisRevocationChecker(redisDB))

	// The socket outlives any request timeout
	router.GET("/v1/ws", authMiddleware, hub.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(authMiddleware)
	v1.Use(apiLimiter.Middleware())
	v1.Use(middleware.NewTimeoutMiddleware(nil).Middleware())
	{
		conversationHandler.NewHandler(conversationSvc).RegisterRoutes(v1)
		chatHandler.NewHandler(chatSvc).RegisterRoutes(v1, sendLimiter.Middleware())
		statusHandler.NewHandler(statusSvc).RegisterRoutes(v1)
		presenceHandler.NewHandler(notificationSvc).RegisterRoutes(v1)
		pushHandler.NewHandler(pushSvc).RegisterRoutes(v1)
	}

	// 11. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Messaging service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.String("broker", cfg.Realtime.Broker))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 12. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	logger.Info("Server exited")
}
