// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// RoomCodeKey 房間代碼的上下文鍵
	RoomCodeKey contextKey = "room_code"
	// PlayerIDKey 玩家 ID 的上下文鍵
	PlayerIDKey contextKey = "player_id"
	// ConnIDKey 連接 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
)

// New 建立日誌記錄器
//
// format: "json" 或 "text"；debug 級別時附加原始碼位置。
func New(level, format string, output io.Writer) *slog.Logger {
	if output == nil {
		output = os.Stdout
	}

	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 返回丟棄所有輸出的日誌記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取房間與玩家資訊
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []contextKey{RoomCodeKey, PlayerIDKey, ConnIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持包裝
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保持包裝
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRoom 添加房間代碼到上下文
func WithRoom(ctx context.Context, roomCode string) context.Context {
	return context.WithValue(ctx, RoomCodeKey, roomCode)
}

// WithPlayer 添加玩家 ID 到上下文
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, PlayerIDKey, playerID)
}

// WithConn 添加連接 ID 到上下文
func WithConn(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// Metrics 記錄操作耗時
func Metrics(ctx context.Context, log *slog.Logger, operation string, duration time.Duration, attrs ...slog.Attr) {
	args := []any{
		slog.String("operation", operation),
		slog.Duration("duration", duration),
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	log.DebugContext(ctx, "metrics", args...)
}
