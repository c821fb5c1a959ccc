package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/adapter/storage"
	"github.com/rl1809/storefront-settlement/internal/config"
	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/core/service"
)

// loadgen fires concurrent purchases at one product and checks the no-oversell
// property end to end: successes must equal initial stock exactly.
const (
	companyName   = "loadgen-co"
	productName   = "loadgen-widget"
	buyerID       = "loadgen-buyer"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := zap.NewNop()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Seed a known buyer and product, clear prior runs.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO buyers (id, name) VALUES (?, 'Load Gen')
		ON DUPLICATE KEY UPDATE name = 'Load Gen'`, buyerID); err != nil {
		log.Fatalf("failed to seed buyer: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO products (company_name, name, image, price, `+"`rank`"+`, quantity)
		VALUES (?, ?, '', 9.99, 1, ?)
		ON DUPLICATE KEY UPDATE quantity = ?`,
		companyName, productName, initialStock, initialStock); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		DELETE FROM orders WHERE company_name = ? AND product_name = ?`,
		companyName, productName); err != nil {
		log.Fatalf("failed to clear orders: %v", err)
	}

	key := domain.ProductKey{Company: companyName, Name: productName}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)
	if err := redisAdapter.SetStock(ctx, key, initialStock); err != nil {
		log.Fatalf("failed to seed redis stock: %v", err)
	}

	coordinator := service.NewCoordinator(
		redisAdapter, mysqlAdapter, mysqlAdapter, mysqlAdapter, redisAdapter,
		logger, 5*time.Second,
	)

	var successCount, conflictCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := coordinator.SettlePurchase(ctx, service.SettleRequest{
				IdempotencyKey: uuid.New().String(),
				BuyerID:        buyerID,
				ProductKey:     key,
				Quantity:       1,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				conflictCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	conflict := conflictCount.Load()

	fmt.Println("========== LOADGEN RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Settled:          %d\n", success)
	fmt.Printf("Insufficient:     %d\n", conflict)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=====================================")

	if success == initialStock && conflict == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d settled, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d settled/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, conflict)
	}

	var orderCount int
	db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE company_name = ? AND product_name = ?`,
		companyName, productName).Scan(&orderCount)
	fmt.Printf("Orders recorded:  %d\n", orderCount)

	if orderCount == initialStock {
		fmt.Println("PASS: order count matches stock sold")
	} else {
		fmt.Printf("FAIL: expected %d orders, got %d\n", initialStock, orderCount)
	}
}
