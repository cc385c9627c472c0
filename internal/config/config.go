// Package config 載入服務配置
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		// 每個來源位址每秒允許的 WebSocket 握手次數
		HandshakeRate  float64 `yaml:"handshake_rate"`
		HandshakeBurst int     `yaml:"handshake_burst"`
	} `yaml:"server"`

	Store struct {
		// "redis" 或 "memory"（本機開發）
		Driver string `yaml:"driver"`
	} `yaml:"store"`

	Redis struct {
		URL          string        `yaml:"url"`
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		// 關閉時改用內建句子集
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"postgres"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Game Game `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Game 遊戲規則與資源限制
type Game struct {
	MaxPlayers          int           `yaml:"max_players"`
	MaxRoomsPerIP       int           `yaml:"max_rooms_per_ip"`
	MaxGlobalRooms      int           `yaml:"max_global_rooms"`
	RoomTTL             time.Duration `yaml:"room_ttl"`
	LockTTL             time.Duration `yaml:"lock_ttl"`
	LockRetries         int           `yaml:"lock_retries"`
	LockRetryDelay      time.Duration `yaml:"lock_retry_delay"`
	RateLimitEvents     int           `yaml:"rate_limit_events"`
	RateLimitWindow     time.Duration `yaml:"rate_limit_window"`
	Countdown           time.Duration `yaml:"countdown"`
	SentenceTimeLimit   time.Duration `yaml:"sentence_time_limit"`
	DeathDelay          time.Duration `yaml:"death_delay"`
	RouletteResumeDelay time.Duration `yaml:"roulette_resume_delay"`
	DisconnectGrace     time.Duration `yaml:"disconnect_grace"`
	InactiveAfter       time.Duration `yaml:"inactive_after"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	InitialOdds         int           `yaml:"initial_odds"`
	MaxStrikes          int           `yaml:"max_strikes"`
	// 排程器時間輪刻度
	SchedulerTick time.Duration `yaml:"scheduler_tick"`
}

// DefaultGame 返回預設遊戲參數
func DefaultGame() Game {
	return Game{
		MaxPlayers:          16,
		MaxRoomsPerIP:       4,
		MaxGlobalRooms:      200,
		RoomTTL:             24 * time.Hour,
		LockTTL:             5 * time.Second,
		LockRetries:         3,
		LockRetryDelay:      50 * time.Millisecond,
		RateLimitEvents:     100,
		RateLimitWindow:     time.Second,
		Countdown:           3 * time.Second,
		SentenceTimeLimit:   20 * time.Second,
		DeathDelay:          5 * time.Second,
		RouletteResumeDelay: 5 * time.Second,
		DisconnectGrace:     30 * time.Second,
		InactiveAfter:       time.Hour,
		CleanupInterval:     5 * time.Minute,
		InitialOdds:         6,
		MaxStrikes:          3,
		SchedulerTick:       50 * time.Millisecond,
	}
}

// Default 返回預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 3001
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.HandshakeRate = 5
	cfg.Server.HandshakeBurst = 10

	cfg.Store.Driver = "redis"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 50
	cfg.Redis.MinIdleConns = 5
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.DBName = "typeordie"
	cfg.Postgres.MaxConns = 20
	cfg.Postgres.MinConns = 2
	cfg.Postgres.Migrate = true

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.SubjectPrefix = "typeordie"

	cfg.Game = DefaultGame()

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// Load 從 YAML 檔案載入配置
//
// 空路徑只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - 路徑來自命令列參數
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 套用環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"PORT", &c.Server.Port},
		{"MAX_ROOMS_PER_IP", &c.Game.MaxRoomsPerIP},
		{"MAX_GLOBAL_ROOMS", &c.Game.MaxGlobalRooms},
	}
	for _, it := range ints {
		v := os.Getenv(it.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", it.env, err)
		}
		*it.dst = n
	}

	if v := os.Getenv("ROOM_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ROOM_TTL_SECONDS: %w", err)
		}
		c.Game.RoomTTL = time.Duration(n) * time.Second
	}

	return nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Store.Driver != "redis" && c.Store.Driver != "memory" {
		errs = append(errs, fmt.Errorf("store.driver must be redis or memory, got %q", c.Store.Driver))
	}

	g := c.Game
	if g.MaxPlayers < 1 {
		errs = append(errs, errors.New("game.max_players must be positive"))
	}
	if g.MaxRoomsPerIP < 1 || g.MaxGlobalRooms < 1 {
		errs = append(errs, errors.New("room quotas must be positive"))
	}
	if g.InitialOdds < 2 {
		errs = append(errs, errors.New("game.initial_odds must be at least 2"))
	}
	if g.MaxStrikes < 1 {
		errs = append(errs, errors.New("game.max_strikes must be positive"))
	}
	if g.LockTTL <= 0 || g.LockRetries < 1 {
		errs = append(errs, errors.New("lock settings must be positive"))
	}
	if g.RateLimitEvents < 1 || g.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit settings must be positive"))
	}
	if g.SchedulerTick <= 0 {
		errs = append(errs, errors.New("game.scheduler_tick must be positive"))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"game.room_ttl", g.RoomTTL},
		{"game.lock_retry_delay", g.LockRetryDelay},
		{"game.countdown", g.Countdown},
		{"game.sentence_time_limit", g.SentenceTimeLimit},
		{"game.death_delay", g.DeathDelay},
		{"game.disconnect_grace", g.DisconnectGrace},
		{"game.inactive_after", g.InactiveAfter},
		{"game.cleanup_interval", g.CleanupInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if g.RouletteResumeDelay < 0 {
		errs = append(errs, fmt.Errorf("game.roulette_resume_delay must not be negative, got %s", g.RouletteResumeDelay))
	}

	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
