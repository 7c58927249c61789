package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// WarehouseImage is the stock PostgreSQL image used as a stand-in warehouse.
const WarehouseImage = "postgres:16-alpine"

// warehouseSchema mirrors the ecommerce fixture model, with column comments
// so catalog descriptions can be read back.
const warehouseSchema = `
CREATE SCHEMA IF NOT EXISTS ecommerce;
CREATE TABLE IF NOT EXISTS ecommerce.users (
	id bigint PRIMARY KEY,
	first_name text,
	last_name text,
	age integer,
	country text,
	traffic_source text,
	email text
);
CREATE TABLE IF NOT EXISTS ecommerce.distribution_centers (
	id bigint PRIMARY KEY,
	name text
);
CREATE TABLE IF NOT EXISTS ecommerce.products (
	id bigint PRIMARY KEY,
	category text,
	brand text,
	cost double precision,
	distribution_center_id bigint
);
CREATE TABLE IF NOT EXISTS ecommerce.order_items (
	id bigint PRIMARY KEY,
	order_id bigint,
	user_id bigint,
	product_id bigint,
	status text,
	sale_price double precision,
	created_at timestamp
);
COMMENT ON COLUMN ecommerce.users.country IS 'Country of residence';
COMMENT ON COLUMN ecommerce.order_items.status IS 'Current status code';
`

// TestDB holds a shared warehouse container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container seeded with the ecommerce
// schema. The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        WarehouseImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "warehouse",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/warehouse?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, warehouseSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to seed warehouse schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}
