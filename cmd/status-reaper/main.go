// Command status-reaper periodically deletes expired statuses and prunes the
// message summary ledger. Listing hides expired statuses on its own, so
// running it is optional.
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
	"marketchat-backend/internal/middleware"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cockroach"
	statusService "marketchat-backend/internal/service/status"
	"marketchat-backend/pkg/audit"
	"marketchat-backend/pkg/cache"
	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/constants"
	appCtx "marketchat-backend/pkg/context"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

const (
	serviceName     = "status-reaper"
	defaultInterval = 15 * time.Minute
	// Retries of a send arrive within minutes; a week is generous
	ledgerRetention = 7 * 24 * time.Hour
)

// LedgerPruner drops old summary idempotency records
type LedgerPruner interface {
	PurgeAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(serviceName, 8086)
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

	interval := cfg.Status.ReaperInterval
	if interval <= 0 {
		interval = defaultInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cockroachDB, err := database.ConnectCockroachWithRetry(ctx, cfg.Database, 5)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()

	redisDB, err := database.NewRedisDB(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisDB.Close()

	// Purging never changes what listeners see, so no shared broker is needed
	statusSvc := statusService.NewService(
		cockroach.NewStatusRepository(cockroachDB.Pool),
		cockroach.NewUserRepository(cockroachDB.Pool),
		cache.NewProfileCache(time.Minute, 100),
		realtime.NewMemoryBroker(),
		audit.NewAuditLogger(redisDB.Client),
		cfg.Status.TTL,
	)

	// Metrics endpoint for scraping
	appMetrics := metrics.NewMetrics(serviceName)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Status reaper started",
		zap.Duration("interval", interval),
		zap.Duration("grace", cfg.Status.ReaperGrace))

	run(ctx, statusSvc, cockroach.NewConversationRepository(cockroachDB.Pool), interval, cfg.Status.ReaperGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}
	logger.Info("Status reaper exited")
}

func run(ctx context.Context, svc *statusService.Service, ledger LedgerPruner, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purge(ctx, svc, grace)
		pruneLedger(ctx, ledger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func purge(ctx context.Context, svc *statusService.Service, grace time.Duration) {
	ctx, cancel := appCtx.WithLongTimeout(ctx)
	defer cancel()

	cutoff := time.Now().Add(-grace)
	removed, err := svc.PurgeExpired(ctx, cutoff)
	if err != nil {
		logger.Error("Status purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("Purged expired statuses", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	}
}

func pruneLedger(ctx context.Context, ledger LedgerPruner) {
	ctx, cancel := appCtx.WithLongTimeout(ctx)
	defer cancel()

	cutoff := time.Now().Add(-ledgerRetention)
	removed, err := ledger.PurgeAppliedBefore(ctx, cutoff)
	if err != nil {
		logger.Error("Ledger prune failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("Pruned summary ledger", zap.Int64("removed", removed))
	}
}
