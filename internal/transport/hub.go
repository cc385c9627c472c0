// Package transport 將遊戲引擎暴露在 WebSocket 上
//
// Hub 管理本實例的所有連線與房間成員關係，並實作 game.Broadcaster；
// NATSBus 在 Hub 之外再把事件轉發到其他實例。
// Handler 負責 HTTP 路由與入站事件分派。
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// 寫入逾時
	writeWait = 10 * time.Second
	// 沒有收到任何訊息（含 Pong）多久後關閉連線
	pongWait = 60 * time.Second
	// Ping 間隔，必須小於 pongWait
	pingPeriod = 54 * time.Second
	// 單則入站訊息上限
	maxMessageSize = 4096
	// 每條連線的出站緩衝
	sendBuffer = 256
)

// Hub WebSocket 連線中心
//
// conns 以連線 ID 索引；rooms 記錄 房間 -> 玩家 -> 連線 ID。
// 一個玩家同時只綁定一條連線，重新綁定會覆蓋舊的。
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*Connection
	rooms  map[string]map[string]string
	closed bool
}

// NewHub 創建 Hub；allowedOrigins 為空時接受所有來源
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		logger: logger.With("component", "hub"),
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]string),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Upgrade 升級 HTTP 連線並註冊
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, remoteAddr string) (*Connection, error) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		hub:        h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = ws.Close()
		return nil, http.ErrServerClosed
	}
	h.conns[c.ID] = c
	return c, nil
}

// unregister 連線結束時移除；房間成員關係由引擎透過 Leave 清除
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.ID] == c {
		delete(h.conns, c.ID)
	}
	c.closeSend()
}

// Join 實現 game.Broadcaster
func (h *Hub) Join(roomCode, playerID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]string)
	}
	h.rooms[roomCode][playerID] = connID
}

// Leave 實現 game.Broadcaster
func (h *Hub) Leave(roomCode, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	delete(members, playerID)
	if len(members) == 0 {
		delete(h.rooms, roomCode)
	}
}

// Owns 連線是否仍是該玩家在房間中的綁定
func (h *Hub) Owns(roomCode, playerID, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomCode][playerID] == connID
}

// Broadcast 實現 game.Broadcaster
func (h *Hub) Broadcast(_ context.Context, roomCode, event string, payload any) {
	h.publish(route{Room: roomCode}, event, payload)
}

// BroadcastExcept 實現 game.Broadcaster
func (h *Hub) BroadcastExcept(_ context.Context, roomCode, exceptPlayerID, event string, payload any) {
	h.publish(route{Room: roomCode, Except: exceptPlayerID}, event, payload)
}

// Send 實現 game.Broadcaster
func (h *Hub) Send(_ context.Context, roomCode, playerID, event string, payload any) {
	h.publish(route{Room: roomCode, To: playerID}, event, payload)
}

func (h *Hub) publish(rt route, event string, payload any) {
	if frame, ok := h.encode(event, payload); ok {
		h.deliver(rt, frame)
	}
}

// route 一則出站訊息的目的地
//
// To 非空時只送給該玩家；Except 非空時排除該玩家。
type route struct {
	Room   string `json:"room"`
	To     string `json:"to,omitempty"`
	Except string `json:"except,omitempty"`
}

// envelope 入站與出站共用的訊息格式
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID *int64          `json:"ackId,omitempty"`
}

// outbound 出站訊息
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID *int64 `json:"ackId,omitempty"`
}

// encode 事件序列化一次，送給所有連線共用
func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}

// deliver 把已序列化的訊息送到本實例的連線
//
// 緩衝區滿的連線會被跳過，慢客戶端不拖累整個房間。
func (h *Hub) deliver(rt route, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for playerID, connID := range h.rooms[rt.Room] {
		if rt.To != "" && playerID != rt.To {
			continue
		}
		if rt.Except != "" && playerID == rt.Except {
			continue
		}
		c, ok := h.conns[connID]
		if !ok {
			continue
		}
		if !c.enqueue(frame) {
			h.logger.Warn("connection buffer full, message dropped",
				"room_code", rt.Room,
				"player_id", playerID,
				"conn_id", connID)
		}
	}
}

// ConnectionCount 本實例的連線數
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomCount 本實例有成員的房間數
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Close 關閉所有連線並拒絕新的升級
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeSend()
	}
	h.logger.Info("hub closed", "connections", len(conns))
}
