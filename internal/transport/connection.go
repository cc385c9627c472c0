package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection 一條 WebSocket 連線
//
// 連線最多綁定一個 (房間, 玩家) 會話；玩家身分只從綁定取得，
// 不信任入站訊息中自帶的 playerId。
type Connection struct {
	ID         string
	RemoteAddr string

	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.Mutex
	closed   bool
	roomCode string
	playerID string
}

// Session 目前綁定的房間與玩家
func (c *Connection) Session() (roomCode, playerID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.playerID, c.playerID != ""
}

func (c *Connection) bind(roomCode, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode, c.playerID = roomCode, playerID
}

func (c *Connection) unbind() {
	c.bind("", "")
}

// enqueue 非阻塞地放入出站緩衝，已關閉或已滿時返回 false
func (c *Connection) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend 關閉出站緩衝，writePump 隨後送出關閉訊框並結束
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump 讀取客戶端訊息直到連線結束
//
// 60 秒內沒有任何訊息（包括 Pong）視為死連線。
// 結束時先呼叫 onClose，再從 Hub 註銷。
func (c *Connection) readPump(onMessage func([]byte), onClose func()) {
	defer func() {
		onClose()
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("set read deadline failed", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			onMessage(message)
		}
	}
}

// writePump 將出站緩衝寫到連線，並定時送出 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 一併送出已排隊的訊息
			n := len(c.send)
			for range n {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Warn("websocket write failed", "conn_id", c.ID, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
