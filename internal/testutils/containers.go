// Package testutils 提供整合測試用的測試容器
//
// Redis、PostgreSQL 與 NATS 容器在測試結束時自動清理；
// -short 模式下直接跳過，不需要 Docker。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/type-or-die/internal/sentence/migrations"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient    *redis.Client
	PostgresPool   *pgxpool.Pool
	NATSConn       *nats.Conn
	RedisContainer tc.Container
	PgContainer    tc.Container
	NATSContainer  tc.Container
	PostgresDSN    string
	NATSURL        string
	Logger         *slog.Logger
}

func newEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	env := &TestEnvironment{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	t.Cleanup(env.Cleanup)
	return env
}

// SetupRedis 只啟動 Redis 容器
func SetupRedis(t testing.TB) *TestEnvironment {
	t.Helper()

	env := newEnvironment(t)
	env.setupRedis(t)
	return env
}

// SetupPostgres 啟動 PostgreSQL 容器並執行遷移
func SetupPostgres(t testing.TB) *TestEnvironment {
	t.Helper()

	env := newEnvironment(t)
	env.setupPostgreSQL(t)
	return env
}

// SetupNATS 只啟動 NATS 容器
func SetupNATS(t testing.TB) *TestEnvironment {
	t.Helper()

	env := newEnvironment(t)
	env.setupNATS(t)
	return env
}

// setupRedis 啟動 Redis 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupPostgreSQL 啟動 PostgreSQL 測試容器並執行遷移
func (env *TestEnvironment) setupPostgreSQL(t testing.TB) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("typeordie"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.PgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	m, err := migrations.New(dsn, env.Logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	_ = m.Close()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
}

// setupNATS 啟動 NATS 測試容器
func (env *TestEnvironment) setupNATS(t testing.TB) {
	t.Helper()

	ctx := context.Background()

	natsContainer, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	env.NATSContainer = natsContainer

	endpoint, err := natsContainer.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("failed to get nats endpoint: %v", err)
	}
	env.NATSURL = endpoint

	env.NATSConn, err = nats.Connect(endpoint, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("failed to connect nats: %v", err)
	}
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}
	if env.NATSConn != nil {
		env.NATSConn.Close()
	}
	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(ctx)
	}
	if env.PgContainer != nil {
		_ = env.PgContainer.Terminate(ctx)
	}
	if env.NATSContainer != nil {
		_ = env.NATSContainer.Terminate(ctx)
	}
}

// FlushRedis 清空 Redis 資料
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}
