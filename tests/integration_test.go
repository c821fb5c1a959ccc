package tests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/adapter/storage"
	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/core/service"
	"github.com/rl1809/storefront-settlement/internal/port"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	cache   *storage.RedisAdapter
	db      *storage.MySQLAdapter
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb),
		db:    storage.NewMySQLAdapter(db),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

func (env *testEnv) seed(t *testing.T, key domain.ProductKey, qty int, buyerID string) {
	t.Helper()
	ctx := context.Background()

	if _, err := env.mysql.ExecContext(ctx, `
		INSERT INTO buyers (id, name) VALUES (?, 'Integration Buyer')
		ON DUPLICATE KEY UPDATE name = 'Integration Buyer'`, buyerID); err != nil {
		t.Fatalf("seed buyer failed: %v", err)
	}
	if _, err := env.mysql.ExecContext(ctx, `
		INSERT INTO products (company_name, name, image, price, `+"`rank`"+`, quantity)
		VALUES (?, ?, '', 19.99, 1, ?)
		ON DUPLICATE KEY UPDATE quantity = ?`,
		key.Company, key.Name, qty, qty); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
	if _, err := env.mysql.ExecContext(ctx, `
		DELETE FROM orders WHERE company_name = ? AND product_name = ?`,
		key.Company, key.Name); err != nil {
		t.Fatalf("clear orders failed: %v", err)
	}
}

func (env *testEnv) coordinator(ledger port.InventoryLedger) *service.Coordinator {
	return service.NewCoordinator(
		ledger, env.db, env.db, env.db, env.cache,
		zap.NewNop(), 5*time.Second,
	)
}

func (env *testEnv) orderCount(t *testing.T, key domain.ProductKey) int {
	t.Helper()
	var count int
	err := env.mysql.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM orders WHERE company_name = ? AND product_name = ?`,
		key.Company, key.Name).Scan(&count)
	if err != nil {
		t.Fatalf("count orders failed: %v", err)
	}
	return count
}

func (env *testEnv) quantity(t *testing.T, key domain.ProductKey) int {
	t.Helper()
	var qty int
	err := env.mysql.QueryRowContext(context.Background(), `
		SELECT quantity FROM products WHERE company_name = ? AND name = ?`,
		key.Company, key.Name).Scan(&qty)
	if err != nil {
		t.Fatalf("read quantity failed: %v", err)
	}
	return qty
}

func TestIntegration_ConcurrentSettlementNoOversell(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	key := domain.ProductKey{Company: "integration-co", Name: "flash-item"}
	buyerID := "integration-buyer"
	initialStock := 10
	totalRequests := 20

	env.seed(t, key, initialStock, buyerID)
	coord := env.coordinator(env.db)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.SettlePurchase(ctx, service.SettleRequest{
				IdempotencyKey: uuid.New().String(),
				BuyerID:        buyerID,
				ProductKey:     key,
				Quantity:       1,
			})
			if err == nil {
				successCount.Add(1)
			} else if !errors.Is(err, service.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful settlements, got %d", initialStock, successCount.Load())
	}
	if qty := env.quantity(t, key); qty != 0 {
		t.Errorf("expected quantity 0, got %d", qty)
	}
	if count := env.orderCount(t, key); count != initialStock {
		t.Errorf("expected %d orders, got %d", initialStock, count)
	}
}

func TestIntegration_WidgetScenario(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	key := domain.ProductKey{Company: "integration-co", Name: "widget"}
	buyerID := "integration-buyer"

	env.seed(t, key, 5, buyerID)
	coord := env.coordinator(env.db)

	// Buyer A takes 3 of 5.
	result, err := coord.SettlePurchase(ctx, service.SettleRequest{
		IdempotencyKey: uuid.New().String(),
		BuyerID:        buyerID,
		ProductKey:     key,
		Quantity:       3,
	})
	if err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}
	if result.Order.Quantity != 3 {
		t.Errorf("expected order quantity 3, got %d", result.Order.Quantity)
	}
	if qty := env.quantity(t, key); qty != 2 {
		t.Errorf("expected quantity 2, got %d", qty)
	}

	// Buyer B wants 3 but only 2 remain.
	_, err = coord.SettlePurchase(ctx, service.SettleRequest{
		IdempotencyKey: uuid.New().String(),
		BuyerID:        buyerID,
		ProductKey:     key,
		Quantity:       3,
	})
	if !errors.Is(err, service.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
	if qty := env.quantity(t, key); qty != 2 {
		t.Errorf("expected quantity unchanged at 2, got %d", qty)
	}
	if count := env.orderCount(t, key); count != 1 {
		t.Errorf("expected 1 order, got %d", count)
	}
}

func TestIntegration_IdempotentReplay(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	key := domain.ProductKey{Company: "integration-co", Name: "replay-item"}
	buyerID := "integration-buyer"

	env.seed(t, key, 10, buyerID)
	coord := env.coordinator(env.db)

	req := service.SettleRequest{
		IdempotencyKey: "replay-" + uuid.New().String(),
		BuyerID:        buyerID,
		ProductKey:     key,
		Quantity:       2,
	}

	first, err := coord.SettlePurchase(ctx, req)
	if err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}

	second, err := coord.SettlePurchase(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.AlreadySettled {
		t.Error("expected replay to report AlreadySettled")
	}
	if second.Order.ID != first.Order.ID {
		t.Errorf("expected replay to return order %s, got %s", first.Order.ID, second.Order.ID)
	}

	if qty := env.quantity(t, key); qty != 8 {
		t.Errorf("expected quantity 8 (decremented once), got %d", qty)
	}
	if count := env.orderCount(t, key); count != 1 {
		t.Errorf("expected 1 order, got %d", count)
	}
}

func TestIntegration_RollbackOnRecordFailure(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	key := domain.ProductKey{Company: "integration-co", Name: "rollback-item"}
	buyerID := "integration-buyer"
	initialStock := 5

	env.seed(t, key, initialStock, buyerID)
	coord := env.coordinator(env.db)

	// An idempotency key longer than the column forces the insert to fail
	// after the reservation succeeded; the release must restore the stock.
	_, err := coord.SettlePurchase(ctx, service.SettleRequest{
		IdempotencyKey: strings.Repeat("x", 300),
		BuyerID:        buyerID,
		ProductKey:     key,
		Quantity:       2,
	})
	if err == nil {
		t.Fatal("expected settlement to fail")
	}
	if errors.Is(err, service.ErrInsufficientStock) || errors.Is(err, service.ErrCompensationFailed) {
		t.Fatalf("expected a transient record failure, got: %v", err)
	}

	if qty := env.quantity(t, key); qty != initialStock {
		t.Errorf("expected quantity restored to %d, got %d", initialStock, qty)
	}
	if count := env.orderCount(t, key); count != 0 {
		t.Errorf("expected no orders, got %d", count)
	}
}

func TestIntegration_RedisLedgerBackend(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	key := domain.ProductKey{Company: "integration-co", Name: "redis-ledger-item"}
	buyerID := "integration-buyer"
	initialStock := 10
	totalRequests := 20

	env.seed(t, key, initialStock, buyerID)
	if err := env.cache.SetStock(ctx, key, initialStock); err != nil {
		t.Fatalf("seed redis stock failed: %v", err)
	}

	coord := env.coordinator(env.cache)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := coord.SettlePurchase(ctx, service.SettleRequest{
				IdempotencyKey: fmt.Sprintf("redis-ledger-%s-%d", uuid.New().String(), n),
				BuyerID:        buyerID,
				ProductKey:     key,
				Quantity:       1,
			})
			if err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful settlements, got %d", initialStock, successCount.Load())
	}

	redisStock, _ := env.redis.Get(ctx, "stock:"+key.Company+":"+key.Name).Int()
	if redisStock != 0 {
		t.Errorf("expected redis stock 0, got %d", redisStock)
	}
	if count := env.orderCount(t, key); count != initialStock {
		t.Errorf("expected %d orders, got %d", initialStock, count)
	}
}
