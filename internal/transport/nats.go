package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// busMessage 實例之間轉發的房間事件
type busMessage struct {
	Instance string          `json:"instance"`
	Route    route           `json:"route"`
	Frame    json.RawMessage `json:"frame"`
}

// NATSBus 在本地 Hub 之外把房間事件發佈到 NATS
//
// 每個實例訂閱 <prefix>.room.*，收到其他實例發佈的事件後
// 只投遞給本地連線；自己發佈的事件已在本地投遞過，直接忽略。
type NATSBus struct {
	hub      *Hub
	conn     *nats.Conn
	prefix   string
	instance string
	sub      *nats.Subscription
	logger   *slog.Logger
}

// NewNATSBus 訂閱房間事件並返回 Broadcaster
func NewNATSBus(conn *nats.Conn, prefix string, hub *Hub, logger *slog.Logger) (*NATSBus, error) {
	b := &NATSBus{
		hub:      hub,
		conn:     conn,
		prefix:   prefix,
		instance: uuid.NewString(),
		logger:   logger.With("component", "nats_bus"),
	}

	sub, err := conn.Subscribe(prefix+".room.*", b.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe room events: %w", err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Instance 本實例的識別碼
func (b *NATSBus) Instance() string {
	return b.instance
}

func (b *NATSBus) subject(roomCode string) string {
	return b.prefix + ".room." + roomCode
}

// receive 投遞其他實例發佈的事件
func (b *NATSBus) receive(msg *nats.Msg) {
	var m busMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.logger.Warn("decode bus message failed", "subject", msg.Subject, "error", err)
		return
	}
	if m.Instance == b.instance {
		return
	}
	b.hub.deliver(m.Route, m.Frame)
}

// Join 實現 game.Broadcaster
func (b *NATSBus) Join(roomCode, playerID, connID string) {
	b.hub.Join(roomCode, playerID, connID)
}

// Leave 實現 game.Broadcaster
func (b *NATSBus) Leave(roomCode, playerID string) {
	b.hub.Leave(roomCode, playerID)
}

// Broadcast 實現 game.Broadcaster
func (b *NATSBus) Broadcast(_ context.Context, roomCode, event string, payload any) {
	b.publish(route{Room: roomCode}, event, payload)
}

// BroadcastExcept 實現 game.Broadcaster
func (b *NATSBus) BroadcastExcept(_ context.Context, roomCode, exceptPlayerID, event string, payload any) {
	b.publish(route{Room: roomCode, Except: exceptPlayerID}, event, payload)
}

// Send 實現 game.Broadcaster
func (b *NATSBus) Send(_ context.Context, roomCode, playerID, event string, payload any) {
	b.publish(route{Room: roomCode, To: playerID}, event, payload)
}

// publish 先投遞本地連線，再轉發給其他實例
//
// 發佈失敗只影響其他實例上的連線，記錄後繼續。
func (b *NATSBus) publish(rt route, event string, payload any) {
	frame, ok := b.hub.encode(event, payload)
	if !ok {
		return
	}
	b.hub.deliver(rt, frame)

	data, err := json.Marshal(busMessage{Instance: b.instance, Route: rt, Frame: frame})
	if err != nil {
		b.logger.Error("encode bus message failed", "event", event, "error", err)
		return
	}
	if err := b.conn.Publish(b.subject(rt.Room), data); err != nil {
		b.logger.Warn("publish room event failed", "room_code", rt.Room, "event", event, "error", err)
	}
}

// Close 取消訂閱；連線本身由建立者關閉
func (b *NATSBus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
