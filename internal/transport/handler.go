package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/ratelimit"
	"github.com/koopa0/type-or-die/internal/room"
)

// requestTimeout 單一入站事件的處理時限
const requestTimeout = 10 * time.Second

// Engine 入站事件需要的遊戲引擎操作
type Engine interface {
	CreateRoom(ctx context.Context, in game.CreateRoomInput) (*game.CreateRoomResult, error)
	AddPlayer(ctx context.Context, in game.JoinInput) (*game.JoinResult, error)
	LeaveRoom(ctx context.Context, roomCode, playerID string) error
	ChangeSettings(ctx context.Context, roomCode, playerID string, sentenceCount int) (*room.Room, error)
	StartGame(ctx context.Context, roomCode, playerID string) error
	ForceReset(ctx context.Context, roomCode, playerID string) (*room.Room, error)
	RequestReplay(ctx context.Context, roomCode, playerID string) (*room.Room, error)
	ReconnectPlayer(ctx context.Context, in game.ReconnectInput) (*game.ReconnectResult, error)
	CharTyped(ctx context.Context, in game.CharInput) error
	Mistype(ctx context.Context, in game.MistypeInput) error
	SentenceTimeout(ctx context.Context, in game.TimeoutInput) error
	Disconnect(ctx context.Context, roomCode, playerID string) error
	Stats(ctx context.Context) (game.Stats, error)
}

// HealthCheck 依賴的健康檢查
type HealthCheck func(ctx context.Context) error

// StatsSource 附加到 /stats 的統計
type StatsSource func(ctx context.Context) (any, error)

// Handler HTTP 路由與 WebSocket 事件分派
type Handler struct {
	engine  Engine
	hub     *Hub
	limiter *ratelimit.HandshakeLimiter
	logger  *slog.Logger

	checks  map[string]HealthCheck
	sources map[string]StatsSource
}

// Option 設定 Handler
type Option func(*Handler)

// WithHandshakeLimiter 限制每個來源位址的 WebSocket 握手頻率
func WithHandshakeLimiter(l *ratelimit.HandshakeLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithHealthCheck 加入 /health 檢查的依賴
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// WithStats 加入 /stats 的附加統計
func WithStats(name string, source StatsSource) Option {
	return func(h *Handler) { h.sources[name] = source }
}

// NewHandler 創建 Handler
func NewHandler(engine Engine, hub *Hub, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		engine:  engine,
		hub:     hub,
		logger:  logger.With("component", "transport"),
		checks:  make(map[string]HealthCheck),
		sources: make(map[string]StatsSource),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	var ws http.Handler = http.HandlerFunc(h.ServeWS)
	if h.limiter != nil {
		ws = h.limiter.Middleware(ws)
	}

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
	mux.Handle("GET /ws", h.recoverer(ws.ServeHTTP))

	return mux
}

// ServeWS 升級連線並啟動讀寫 goroutine
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.hub.Upgrade(w, r, ratelimit.ClientIP(r))
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	go c.writePump()
	go c.readPump(
		func(msg []byte) { h.dispatch(c, msg) },
		func() { h.closed(c) },
	)

	h.logger.Debug("websocket connected", "conn_id", c.ID, "remote_addr", c.RemoteAddr)
}

// closed 連線結束；只有仍綁定該玩家的連線才觸發斷線處理
func (h *Handler) closed(c *Connection) {
	code, playerID, ok := c.Session()
	if !ok || !h.hub.Owns(code, playerID, c.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.engine.Disconnect(ctx, code, playerID); err != nil {
		h.logger.Error("disconnect handling failed",
			"room_code", code,
			"player_id", playerID,
			"conn_id", c.ID,
			"error", err)
	}
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			deps[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	h.jsonResponse(w, map[string]any{
		"status":       state,
		"time":         time.Now().Unix(),
		"dependencies": deps,
	}, status)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gs, err := h.engine.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "collect stats failed", "error", err)
		h.errorResponse(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	out := map[string]any{
		"game":        gs,
		"connections": h.hub.ConnectionCount(),
		"localRooms":  h.hub.RoomCount(),
	}
	for name, source := range h.sources {
		v, err := source(ctx)
		if err != nil {
			h.logger.WarnContext(ctx, "stats source failed", "source", name, "error", err)
			continue
		}
		out[name] = v
	}
	h.jsonResponse(w, out, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{"error": message}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)
				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
