package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/ratelimit"
	"github.com/koopa0/type-or-die/internal/sentence"
	"github.com/koopa0/type-or-die/internal/store"
	"github.com/koopa0/type-or-die/internal/testutils"
	"github.com/koopa0/type-or-die/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type server struct {
	srv *httptest.Server
	hub *transport.Hub
	mem *store.Memory
}

// newServer 以內存存儲啟動完整的 HTTP 與 WebSocket 服務
func newServer(t *testing.T, opts ...transport.Option) *server {
	t.Helper()

	cfg := testutils.FastGameConfig()
	cfg.DisconnectGrace = 2 * time.Second
	cfg.RateLimitEvents = 10000

	logger := testLogger()
	mem := store.NewMemory(store.OptionsFromConfig(cfg))
	hub := transport.NewHub(nil, logger)
	svc := game.New(cfg, mem, sentence.NewStatic(
		"a b c d e",
		"f g h i j",
		"k l m n o",
		"p q r s t",
		"u v w x y",
	), hub, logger)
	svc.Start(context.Background())

	opts = append([]transport.Option{transport.WithHealthCheck("store", mem.Ping)}, opts...)
	handler := transport.NewHandler(svc, hub, logger, opts...)
	srv := httptest.NewServer(handler.Routes())

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		svc.Close()
	})
	return &server{srv: srv, hub: hub, mem: mem}
}

func (s *server) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID *int64          `json:"ackId"`
}

// client 測試用的 WebSocket 客戶端
type client struct {
	t       *testing.T
	ws      *websocket.Conn
	nextAck int64
	pending []message
}

func dial(t *testing.T, s *server) *client {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) write(event string, data any, ackID *int64) {
	c.t.Helper()
	body := map[string]any{"event": event, "data": data}
	if ackID != nil {
		body["ackId"] = *ackID
	}
	require.NoError(c.t, c.ws.WriteJSON(body))
}

// emit 送出不需要確認的事件
func (c *client) emit(event string, data any) {
	c.t.Helper()
	c.write(event, data, nil)
}

// call 送出事件並等待對應的確認
func (c *client) call(event string, data any) map[string]any {
	c.t.Helper()
	c.nextAck++
	id := c.nextAck
	c.write(event, data, &id)

	msg := c.waitFor(func(m message) bool {
		return m.Event == "ack" && m.AckID != nil && *m.AckID == id
	})
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(msg.Data, &out))
	return out
}

// expect 等待指定事件，期間收到的其他訊息保留
func (c *client) expect(event string) json.RawMessage {
	c.t.Helper()
	return c.waitFor(func(m message) bool { return m.Event == event }).Data
}

func (c *client) waitFor(match func(message) bool) message {
	c.t.Helper()
	for i, m := range c.pending {
		if match(m) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return m
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		var m message
		err := c.ws.ReadJSON(&m)
		require.NoError(c.t, err, "no matching message before deadline")
		if match(m) {
			return m
		}
		c.pending = append(c.pending, m)
	}
}

// createRoom 建立房間並返回代碼與玩家 ID
func (c *client) createRoom() (string, string) {
	c.t.Helper()
	res := c.call(transport.InCreateRoom, map[string]any{
		"nickname": "host",
		"settings": map[string]any{"sentenceCount": 5},
	})
	require.Equal(c.t, true, res["success"], "create_room failed: %v", res)
	return res["roomCode"].(string), res["playerId"].(string)
}

func (c *client) joinRoom(code, nickname string) map[string]any {
	c.t.Helper()
	res := c.call(transport.InJoinRoom, map[string]any{"roomCode": code, "nickname": nickname})
	require.Equal(c.t, true, res["success"], "join_room failed: %v", res)
	return res
}

// TestHealth 測試健康檢查
func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		check      transport.HealthCheck
		wantStatus int
		wantState  string
	}{
		{
			name:       "all dependencies healthy",
			check:      func(context.Context) error { return nil },
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:       "dependency down",
			check:      func(context.Context) error { return errors.New("connection refused") },
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, transport.WithHealthCheck("database", tt.check))

			resp, err := http.Get(s.srv.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantState, body["status"])
			deps := body["dependencies"].(map[string]any)
			assert.Equal(t, "healthy", deps["store"])
		})
	}
}

// TestStats 測試統計資訊
func TestStats(t *testing.T) {
	s := newServer(t, transport.WithStats("sentences", func(context.Context) (any, error) {
		return map[string]int{"total": 5}, nil
	}))
	c := dial(t, s)
	c.createRoom()

	resp, err := http.Get(s.srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, float64(1), body["localRooms"])
	assert.Equal(t, float64(1), body["game"].(map[string]any)["activeRooms"])
	assert.Equal(t, float64(5), body["sentences"].(map[string]any)["total"])
}

// TestCreateAndJoin 測試建立與加入房間
func TestCreateAndJoin(t *testing.T) {
	s := newServer(t)
	host := dial(t, s)
	code, hostID := host.createRoom()
	assert.Len(t, code, 6)

	guest := dial(t, s)
	res := guest.joinRoom(strings.ToLower(code), "guest")
	assert.Equal(t, "PLAYER", res["role"])
	guestID := res["playerId"].(string)
	assert.NotEqual(t, hostID, guestID)

	var joined game.PlayerJoined
	require.NoError(t, json.Unmarshal(host.expect(game.EventPlayerJoined), &joined))
	assert.Equal(t, guestID, joined.PlayerID)
	assert.Equal(t, "guest", joined.Nickname)
	assert.Len(t, joined.Players, 2)
}

// TestAckErrors 錯誤以統一格式回覆
func TestAckErrors(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)

	tests := []struct {
		name    string
		event   string
		data    any
		wantErr string
	}{
		{"invalid room code", transport.InJoinRoom, map[string]any{"roomCode": "bad!", "nickname": "x"}, "invalid room code"},
		{"unknown room", transport.InJoinRoom, map[string]any{"roomCode": "ZZZZZZ", "nickname": "x"}, "room not found"},
		{"not in room", transport.InStartGame, map[string]any{"roomCode": "ZZZZZZ"}, "not a member of this room"},
		{"invalid sentence count", transport.InCreateRoom, map[string]any{"nickname": "x", "settings": map[string]any{"sentenceCount": 3}}, "sentence count must be between 5 and 100"},
		{"unknown event", "launch_rocket", nil, "unknown event"},
		{"invalid payload", transport.InJoinRoom, "not an object", "invalid payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.call(tt.event, tt.data)
			assert.Equal(t, false, res["success"])
			assert.Equal(t, tt.wantErr, res["error"])
		})
	}

	// 沒有 ackId 的事件以 event_error 通知
	c.emit(transport.InStartGame, map[string]any{"roomCode": "ZZZZZZ"})
	var ev game.ErrorEvent
	require.NoError(t, json.Unmarshal(c.expect(game.EventError), &ev))
	assert.Equal(t, transport.InStartGame, ev.Event)
	assert.Equal(t, "not a member of this room", ev.Error)
}

// TestHostOnlyActions 非房主的操作被拒絕
func TestHostOnlyActions(t *testing.T) {
	s := newServer(t)
	host := dial(t, s)
	code, _ := host.createRoom()
	guest := dial(t, s)
	guest.joinRoom(code, "guest")

	res := guest.call(transport.InStartGame, map[string]any{"roomCode": code})
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "only the host can do that", res["error"])

	res = guest.call(transport.InChangeSettings, map[string]any{"roomCode": code, "sentenceCount": 10})
	assert.Equal(t, false, res["success"])

	res = host.call(transport.InChangeSettings, map[string]any{"roomCode": code, "sentenceCount": 5})
	assert.Equal(t, true, res["success"])
	guest.expect(game.EventSettingsUpdated)
}

// TestGameplay 完整一局：倒數、開始、打字、結束
func TestGameplay(t *testing.T) {
	s := newServer(t)
	host := dial(t, s)
	code, hostID := host.createRoom()
	guest := dial(t, s)
	guest.joinRoom(code, "guest")

	res := host.call(transport.InStartGame, map[string]any{"roomCode": code})
	require.Equal(t, true, res["success"], "%v", res)

	var countdown game.CountdownStart
	require.NoError(t, json.Unmarshal(guest.expect(game.EventCountdownStart), &countdown))
	require.Len(t, countdown.Sentences, 5)
	guest.expect(game.EventGameStart)
	host.expect(game.EventGameStart)

	for _, words := range countdown.Sentences {
		for _, w := range words {
			for _, ch := range w {
				host.emit(transport.InCharTyped, map[string]any{"roomCode": code, "char": string(ch)})
			}
		}
	}

	var ended game.GameEnded
	require.NoError(t, json.Unmarshal(guest.expect(game.EventGameEnded), &ended))
	assert.Equal(t, "COMPLETION", string(ended.Reason))
	assert.Equal(t, hostID, ended.WinnerID)

	res = host.call(transport.InRequestReplay, map[string]any{"roomCode": code})
	assert.Equal(t, true, res["success"])
	guest.expect(game.EventReplayStarted)
}

// TestHeartbeat 測試心跳
func TestHeartbeat(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)

	before := time.Now().UnixMilli()
	c.emit(transport.InHeartbeat, nil)

	var ack game.HeartbeatAck
	require.NoError(t, json.Unmarshal(c.expect(game.EventHeartbeatAck), &ack))
	assert.GreaterOrEqual(t, ack.Timestamp, before)
}

// TestDisconnectAndReconnect 回合中斷線後以新連線恢復
func TestDisconnectAndReconnect(t *testing.T) {
	s := newServer(t)
	host := dial(t, s)
	code, _ := host.createRoom()
	guest := dial(t, s)
	guestID := guest.joinRoom(code, "guest")["playerId"].(string)

	res := host.call(transport.InStartGame, map[string]any{"roomCode": code})
	require.Equal(t, true, res["success"])
	host.expect(game.EventGameStart)

	require.NoError(t, guest.ws.Close())

	var disc game.PlayerDisconnected
	require.NoError(t, json.Unmarshal(host.expect(game.EventPlayerDisconnected), &disc))
	assert.Equal(t, guestID, disc.PlayerID)

	again := dial(t, s)
	res = again.call(transport.InReconnect, map[string]any{"roomCode": code, "playerId": guestID})
	require.Equal(t, true, res["success"], "%v", res)
	assert.Equal(t, "PLAYER", res["role"])

	var rec game.PlayerReconnected
	require.NoError(t, json.Unmarshal(host.expect(game.EventPlayerReconnected), &rec))
	assert.Equal(t, guestID, rec.PlayerID)
	again.expect(game.EventSyncGameState)
	again.expect(game.EventPlayerProgress)

	// 重連後的連線可以繼續操作
	res = again.call(transport.InMistype, map[string]any{"roomCode": code, "sentenceIndex": 0})
	assert.Equal(t, true, res["success"])
	host.expect(game.EventPlayerStrike)
}

// TestReconnectLeavesPreviousRoom 已在其他房間的連線接管玩家時先離開原房間
func TestReconnectLeavesPreviousRoom(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	host := dial(t, s)
	code, _ := host.createRoom()
	guest := dial(t, s)
	guestID := guest.joinRoom(code, "guest")["playerId"].(string)

	res := host.call(transport.InStartGame, map[string]any{"roomCode": code})
	require.Equal(t, true, res["success"])
	host.expect(game.EventGameStart)

	require.NoError(t, guest.ws.Close())
	host.expect(game.EventPlayerDisconnected)

	other := dial(t, s)
	otherCode, _ := other.createRoom()

	res = other.call(transport.InReconnect, map[string]any{"roomCode": code, "playerId": guestID})
	require.Equal(t, true, res["success"], "%v", res)
	host.expect(game.EventPlayerReconnected)

	exists, err := s.mem.Exists(ctx, otherCode)
	require.NoError(t, err)
	assert.False(t, exists, "previous room is left and, being empty, deleted")

	// 舊房間的操作不再被接受
	res = other.call(transport.InStartGame, map[string]any{"roomCode": otherCode})
	assert.Equal(t, false, res["success"])

	// 連線關閉時斷線的是接管的玩家
	require.NoError(t, other.ws.Close())
	var disc game.PlayerDisconnected
	require.NoError(t, json.Unmarshal(host.expect(game.EventPlayerDisconnected), &disc))
	assert.Equal(t, guestID, disc.PlayerID)
}

// TestLeaveRoom 離開後房間只剩房主
func TestLeaveRoom(t *testing.T) {
	s := newServer(t)
	host := dial(t, s)
	code, hostID := host.createRoom()
	guest := dial(t, s)
	guestID := guest.joinRoom(code, "guest")["playerId"].(string)

	res := guest.call(transport.InLeaveRoom, map[string]any{"roomCode": code})
	assert.Equal(t, true, res["success"])

	var left game.PlayerLeft
	require.NoError(t, json.Unmarshal(host.expect(game.EventPlayerLeft), &left))
	assert.Equal(t, guestID, left.PlayerID)
	assert.Equal(t, hostID, left.NewHostID)

	// 離開後不再是成員
	res = guest.call(transport.InStartGame, map[string]any{"roomCode": code})
	assert.Equal(t, false, res["success"])
}

// TestHandshakeLimiter 超過握手頻率返回 429
func TestHandshakeLimiter(t *testing.T) {
	s := newServer(t, transport.WithHandshakeLimiter(ratelimit.NewHandshakeLimiter(0.001, 1)))

	dial(t, s)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
