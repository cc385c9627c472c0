package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/type-or-die/internal/config"
	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/ratelimit"
	"github.com/koopa0/type-or-die/internal/sentence"
	"github.com/koopa0/type-or-die/internal/sentence/migrations"
	"github.com/koopa0/type-or-die/internal/store"
	"github.com/koopa0/type-or-die/internal/transport"
	"github.com/koopa0/type-or-die/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑 (YAML)")
		driver     = flag.String("store", "", "覆蓋 store.driver (redis, memory)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *driver != "" {
		cfg.Store.Driver = *driver
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// closer 關閉時依相反順序執行
type closer func()

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 房間存儲
	st, storeCheck, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rs, ok := st.(interface{ Close() error }); ok {
		closers = append(closers, func() { _ = rs.Close() })
	}

	// 句子題庫
	provider, pool, err := openSentences(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		closers = append(closers, pool.Close)
	}

	// 廣播：單實例用 Hub，多實例經 NATS 轉發
	hub := transport.NewHub(cfg.Server.AllowedOrigins, log)
	var bus game.Broadcaster = hub
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(
			cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.PingInterval(20*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		closers = append(closers, nc.Close)

		nb, err := transport.NewNATSBus(nc, cfg.NATS.SubjectPrefix, hub, log)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = nb.Close() })
		bus = nb
		log.Info("nats bus enabled", "url", cfg.NATS.URL, "instance", nb.Instance())
	}

	svc := game.New(cfg.Game, st, provider, bus, log)
	svc.Start(ctx)
	closers = append(closers, svc.Close)

	limiter := ratelimit.NewHandshakeLimiter(cfg.Server.HandshakeRate, cfg.Server.HandshakeBurst)
	opts := []transport.Option{
		transport.WithHandshakeLimiter(limiter),
		transport.WithHealthCheck("store", storeCheck),
	}
	if pg, ok := provider.(*sentence.Postgres); ok {
		opts = append(opts,
			transport.WithHealthCheck("postgres", pg.Ping),
			transport.WithStats("sentences", func(ctx context.Context) (any, error) {
				return pg.Stats(ctx)
			}),
		)
	}
	handler := transport.NewHandler(svc, hub, log, opts...)

	pruneCtx, stopPrune := context.WithCancel(ctx)
	closers = append(closers, closer(stopPrune))
	go pruneHandshakes(pruneCtx, limiter, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"port", cfg.Server.Port,
			"store", cfg.Store.Driver,
			"postgres", cfg.Postgres.Enabled,
			"nats", cfg.NATS.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接，再關閉 WebSocket
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	hub.Close()

	log.Info("server stopped")
	return nil
}

// openStore 依 store.driver 建立房間存儲
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (game.Store, transport.HealthCheck, error) {
	opts := store.OptionsFromConfig(cfg.Game)

	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store, rooms are not shared between instances")
		mem := store.NewMemory(opts)
		return mem, mem.Ping, nil
	}

	var ro *redis.Options
	if cfg.Redis.URL != "" {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}
	ro.PoolSize = cfg.Redis.PoolSize
	ro.MinIdleConns = cfg.Redis.MinIdleConns
	ro.MaxRetries = cfg.Redis.MaxRetries
	ro.ReadTimeout = cfg.Redis.ReadTimeout
	ro.WriteTimeout = cfg.Redis.WriteTimeout

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	rs := store.NewRedis(client, opts, log)
	return redisStore{Redis: rs, client: client}, rs.Ping, nil
}

// redisStore 讓關閉時一併釋放 Redis 連線
type redisStore struct {
	*store.Redis
	client *redis.Client
}

func (r redisStore) Close() error { return r.client.Close() }

// openSentences 啟用 PostgreSQL 時使用資料庫題庫，否則使用內建句子
func openSentences(ctx context.Context, cfg *config.Config, log *slog.Logger) (sentence.Provider, *pgxpool.Pool, error) {
	if !cfg.Postgres.Enabled {
		return sentence.NewStatic(), nil, nil
	}

	dsn := cfg.PostgresDSN()

	if cfg.Postgres.Migrate {
		m, err := migrations.New(dsn, log)
		if err != nil {
			return nil, nil, err
		}
		upErr := m.Up()
		if err := m.Close(); err != nil {
			log.Warn("close migrator failed", "error", err)
		}
		if upErr != nil {
			return nil, nil, upErr
		}
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		pc.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		pc.MinConns = cfg.Postgres.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	return sentence.NewPostgres(pool, log), pool, nil
}

// pruneHandshakes 定期清掉閒置來源位址的握手限流器
func pruneHandshakes(ctx context.Context, l *ratelimit.HandshakeLimiter, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(10 * time.Minute); n > 0 {
				log.Debug("pruned handshake limiters", "count", n)
			}
		}
	}
}
