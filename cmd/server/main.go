package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/adapter/handler"
	"github.com/rl1809/storefront-settlement/internal/adapter/storage"
	"github.com/rl1809/storefront-settlement/internal/config"
	"github.com/rl1809/storefront-settlement/internal/core/service"
	"github.com/rl1809/storefront-settlement/internal/port"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	var ledger port.InventoryLedger = mysqlAdapter
	if cfg.LedgerBackend == "redis" {
		// The cache ledger serves reservations; seed its counters from the
		// catalog's current quantities.
		quantities, err := mysqlAdapter.ListQuantities(ctx)
		if err != nil {
			logger.Fatal("failed to load quantities", zap.Error(err))
		}
		for key, qty := range quantities {
			if err := redisAdapter.SetStock(ctx, key, qty); err != nil {
				logger.Fatal("failed to seed stock", zap.String("product", key.String()), zap.Error(err))
			}
		}
		ledger = redisAdapter
		logger.Info("redis ledger seeded", zap.Int("products", len(quantities)))
	}

	coordinator := service.NewCoordinator(
		ledger,
		mysqlAdapter,
		mysqlAdapter,
		mysqlAdapter,
		redisAdapter,
		logger,
		cfg.StoreTimeout,
	)

	// Background reconciler retries releases that failed during settlement.
	reconciler := service.NewReconciler(redisAdapter, ledger, logger, cfg.ReconcileInterval)
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(reconcilerCtx)
	}()

	httpHandler := handler.NewHTTPHandler(coordinator, logger)
	router := chi.NewRouter()
	router.Get("/health", httpHandler.HealthCheck)
	router.Post("/api/purchase", httpHandler.Purchase)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	stopReconciler()
	wg.Wait()
	logger.Info("reconciler stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
