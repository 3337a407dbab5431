// Package integration runs the inventory service, the order service and the
// gateway against a real PostgreSQL container.
package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"orderhub/internal/auth"
	"orderhub/internal/config"
	"orderhub/internal/database"
	"orderhub/internal/enrichment"
	"orderhub/internal/gateway"
	"orderhub/internal/handler"
	"orderhub/internal/idempotency"
	"orderhub/internal/ledger"
	"orderhub/internal/notify"
	"orderhub/internal/repository"
	"orderhub/internal/router"
	"orderhub/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAPIKey    = "test-api-key"
	testJWTSecret = "test-jwt-secret"
)

// Stack is a running set of services wired the way the binaries wire them.
type Stack struct {
	Pool      *pgxpool.Pool
	Ledger    *ledger.Client
	Hub       *notify.Hub
	Inventory *httptest.Server
	Orders    *httptest.Server
	Gateway   *httptest.Server
}

// SetupTestDB creates a PostgreSQL test container with both service schemas applied.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	logger := zerolog.Nop()
	require.NoError(t, database.Migrate(ctx, pool, database.InventorySchema, logger))
	require.NoError(t, database.Migrate(ctx, pool, database.OrdersSchema, logger))

	return pool
}

// SetupStack starts the inventory service, the order service and the gateway
// in front of them. Both services share one database; their tables do not overlap.
func SetupStack(t *testing.T) *Stack {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := SetupTestDB(t)
	logger := zerolog.Nop()

	productRepo := repository.NewProductRepository(pool, logger)
	inventoryHandler := handler.NewInventoryHandler(service.NewInventoryService(productRepo, logger), logger)
	inventory := httptest.NewServer(router.NewInventoryRouter(inventoryHandler, testAPIKey, logger))
	t.Cleanup(inventory.Close)

	ledgerClient := ledger.NewClient(config.InventoryClientConfig{
		BaseURL:       inventory.URL,
		APIKey:        testAPIKey,
		Timeout:       5 * time.Second,
		MaxRetries:    1,
		RetryInterval: 10 * time.Millisecond,
	}, logger)
	t.Cleanup(ledgerClient.Close)

	orderRepo := repository.NewOrderRepository(pool, logger)

	queue := enrichment.NewQueue(config.EnrichmentConfig{
		Workers:    1,
		QueueSize:  16,
		JobTimeout: 5 * time.Second,
	}, orderRepo, enrichment.NewLogSink(logger), logger)
	queue.Start(context.Background())
	t.Cleanup(queue.Close)

	hub := notify.NewHub(logger)
	t.Cleanup(hub.Close)

	orderService := service.NewOrderService(orderRepo, ledgerClient, queue, hub, service.OrderOptions{
		PartialFailurePolicy: service.PolicyHold,
		EnforceTransitions:   true,
		Retry:                service.RetryOptions{MaxRetries: 1, Interval: 10 * time.Millisecond},
	}, logger)
	store := idempotency.NewPostgresStore(repository.NewIdempotencyRepository(pool, logger))
	orderHandler := handler.NewOrderHandler(orderService, store, logger)
	t.Cleanup(orderHandler.Wait)

	orders := httptest.NewServer(router.NewOrderRouter(orderHandler, hub, auth.NewJWTResolver(testJWTSecret), logger))
	t.Cleanup(orders.Close)

	routes := map[string]string{
		"inventory": inventory.URL,
		"orders":    orders.URL,
	}
	gw := httptest.NewServer(router.NewGatewayRouter(
		routes,
		"ws"+orders.URL[len("http"):],
		gateway.NewProxy(10*time.Second, logger),
		gateway.NewTunnel(5*time.Second, logger),
		logger,
	))
	t.Cleanup(gw.Close)

	return &Stack{
		Pool:      pool,
		Ledger:    ledgerClient,
		Hub:       hub,
		Inventory: inventory,
		Orders:    orders,
		Gateway:   gw,
	}
}

// Token signs an access token the way the auth service does.
func Token(t *testing.T, userID int64, email string, superuser bool) string {
	t.Helper()

	claims := auth.Claims{
		ID:          &userID,
		IsSuperuser: superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}
