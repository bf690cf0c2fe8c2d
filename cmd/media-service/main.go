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
	mediaHandler "marketchat-backend/internal/handler/http/media"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/internal/repository/cockroach"
	mediaService "marketchat-backend/internal/service/media"
	"marketchat-backend/pkg/audit"
	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/constants"
	"marketchat-backend/pkg/jwt"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

const serviceName = "media-service"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(serviceName, 8084)
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

	// 2. MinIO
	minioClient, err := mediaService.NewMinioClient(cfg.MinIO)
	if err != nil {
		logger.Fatal("Failed to initialize MinIO client", zap.Error(err))
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 30*time.Second)
	err = minioClient.EnsureBucket(bucketCtx)
	cancelBucket()
	if err != nil {
		logger.Fatal("Failed to prepare media bucket",
			zap.String("bucket", cfg.MinIO.Bucket),
			zap.Error(err))
	}
	logger.Info("Connected to MinIO", zap.String("bucket", cfg.MinIO.Bucket))

	// 3. CockroachDB for upload records
	cockroachDB, err := database.ConnectCockroachWithRetry(ctx, cfg.Database, 5)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	go cockroachDB.ReportPoolStats(ctx, 15*time.Second)

	// 4. Redis for revocation, rate limits and audit
	redisDB, err := database.NewRedisDB(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 5. Service
	mediaSvc := mediaService.NewService(
		minioClient,
		cockroach.NewMediaRepository(cockroachDB.Pool),
		audit.NewAuditLogger(redisDB.Client),
		mediaService.Config{
			PublicBaseURL: cfg.Media.PublicBaseURL,
			URLExpiry:     cfg.Media.URLExpiry,
		},
	)

	appMetrics := metrics.NewMetrics(serviceName)
	uploadLimiter := middleware.NewRateLimiter("media_upload", redisDB, appMetrics, 30, time.Minute)
	timeouts := middleware.NewTimeoutMiddleware(nil)

	// 6. Router
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
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":  "healthy",
			"service": serviceName,
			"time":    time.Now().UTC(),
		}
		if !minioClient.Healthy() {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		c.JSON(status, body)
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, middleware.NewRedisRevocationChecker(redisDB)))
	mediaHandler.NewHandler(mediaSvc).RegisterRoutes(v1,
		uploadLimiter.Middleware(),
		timeouts.For(constants.UploadTimeout),
	)

	// 7. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Media service starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

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
