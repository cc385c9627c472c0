package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// 入站事件名稱
const (
	InCreateRoom      = "create_room"
	InJoinRoom        = "join_room"
	InLeaveRoom       = "leave_room"
	InChangeSettings  = "change_settings"
	InStartGame       = "start_game"
	InForceReset      = "force_reset_game"
	InRequestReplay   = "request_replay"
	InReconnect       = "reconnect_attempt"
	InCharTyped       = "char_typed"
	InMistype         = "mistype"
	InSentenceTimeout = "sentence_timeout"
	InHeartbeat       = "heartbeat"

	// eventAck 確認回覆的事件名稱
	eventAck = "ack"
)

type createRoomRequest struct {
	Nickname string `json:"nickname"`
	Settings struct {
		SentenceCount int `json:"sentenceCount"`
	} `json:"settings"`
}

type joinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

type roomRequest struct {
	RoomCode string `json:"roomCode"`
}

type changeSettingsRequest struct {
	RoomCode      string `json:"roomCode"`
	SentenceCount int    `json:"sentenceCount"`
}

type reconnectRequest struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

type charTypedRequest struct {
	RoomCode  string `json:"roomCode"`
	Char      string `json:"char"`
	CharIndex int    `json:"charIndex"`
}

type mistypeRequest struct {
	RoomCode      string `json:"roomCode"`
	SentenceIndex int    `json:"sentenceIndex"`
	ExpectedChar  string `json:"expectedChar"`
	TypedChar     string `json:"typedChar"`
}

type timeoutRequest struct {
	RoomCode      string `json:"roomCode"`
	SentenceIndex int    `json:"sentenceIndex"`
}

// ack 成功回覆的共同欄位
type ack map[string]any

func success(fields ack) ack {
	if fields == nil {
		fields = ack{}
	}
	fields["success"] = true
	return fields
}

// dispatch 處理一則入站訊息
//
// 任何錯誤都轉為 {success:false, error} 確認或 event_error，
// 不會中斷連線。限流丟棄的事件不回覆。
func (h *Handler) dispatch(c *Connection, raw []byte) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Debug("malformed message", "conn_id", c.ID, "error", err)
		h.reply(c, msg, nil, apperrors.Validation("malformed message"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	ctx = logger.WithConn(ctx, c.ID)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "panic while handling event", "event", msg.Event, "error", rec)
			h.reply(c, msg, nil, apperrors.New(apperrors.ErrCodeInternal, "internal error"))
		}
	}()

	result, err := h.handle(ctx, c, msg)
	if errors.Is(err, game.ErrRateLimited) {
		return
	}
	if err != nil {
		h.logger.InfoContext(ctx, "event rejected", "event", msg.Event, "error", err)
	}
	h.reply(c, msg, result, err)
}

// handle 依事件名稱呼叫引擎
func (h *Handler) handle(ctx context.Context, c *Connection, msg envelope) (ack, error) {
	switch msg.Event {
	case InHeartbeat:
		h.sendTo(c, game.EventHeartbeatAck, game.HeartbeatAck{Timestamp: time.Now().UnixMilli()})
		return nil, nil

	case InCreateRoom:
		var req createRoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		h.leaveCurrent(ctx, c)
		res, err := h.engine.CreateRoom(ctx, game.CreateRoomInput{
			Nickname:      req.Nickname,
			SentenceCount: req.Settings.SentenceCount,
			RemoteAddr:    c.RemoteAddr,
			ConnID:        c.ID,
		})
		if err != nil {
			return nil, err
		}
		c.bind(res.RoomCode, res.PlayerID)
		return success(ack{"roomCode": res.RoomCode, "playerId": res.PlayerID, "room": res.Room}), nil

	case InJoinRoom:
		var req joinRoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		h.leaveCurrent(ctx, c)
		res, err := h.engine.AddPlayer(ctx, game.JoinInput{
			RoomCode:   req.RoomCode,
			Nickname:   req.Nickname,
			RemoteAddr: c.RemoteAddr,
			ConnID:     c.ID,
		})
		if err != nil {
			return nil, err
		}
		c.bind(res.Room.RoomCode, res.PlayerID)
		return success(ack{"playerId": res.PlayerID, "role": res.Role, "room": res.Room}), nil

	case InReconnect:
		var req reconnectRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		h.leaveOtherSession(ctx, c, req.RoomCode, req.PlayerID)
		res, err := h.engine.ReconnectPlayer(ctx, game.ReconnectInput{
			RoomCode: req.RoomCode,
			PlayerID: req.PlayerID,
			ConnID:   c.ID,
		})
		if err != nil {
			return nil, err
		}
		c.bind(res.Room.RoomCode, res.PlayerID)
		return success(ack{"playerId": res.PlayerID, "role": res.Role, "room": res.Room}), nil

	case InLeaveRoom:
		var req roomRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		code, playerID, err := session(c, req.RoomCode)
		if err != nil {
			return nil, err
		}
		if err := h.engine.LeaveRoom(ctx, code, playerID); err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
		c.unbind()
		return success(nil), nil

	case InChangeSettings:
		var req changeSettingsRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		code, playerID, err := session(c, req.RoomCode)
		if err != nil {
			return nil, err
		}
		r, err := h.engine.ChangeSettings(ctx, code, playerID, req.SentenceCount)
		if err != nil {
			return nil, err
		}
		return success(ack{"settings": r.Settings}), nil

	case InStartGame:
		return h.hostAction(c, msg, func(code, playerID string) (*room.Room, error) {
			return nil, h.engine.StartGame(ctx, code, playerID)
		})

	case InForceReset:
		return h.hostAction(c, msg, func(code, playerID string) (*room.Room, error) {
			return h.engine.ForceReset(ctx, code, playerID)
		})

	case InRequestReplay:
		return h.hostAction(c, msg, func(code, playerID string) (*room.Room, error) {
			return h.engine.RequestReplay(ctx, code, playerID)
		})

	case InCharTyped:
		var req charTypedRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		code, playerID, err := session(c, req.RoomCode)
		if err != nil {
			return nil, err
		}
		return nil, h.engine.CharTyped(ctx, game.CharInput{
			RoomCode:  code,
			PlayerID:  playerID,
			Char:      req.Char,
			CharIndex: req.CharIndex,
		})

	case InMistype:
		var req mistypeRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		code, playerID, err := session(c, req.RoomCode)
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Mistype(ctx, game.MistypeInput{
			RoomCode:      code,
			PlayerID:      playerID,
			SentenceIndex: req.SentenceIndex,
			ExpectedChar:  req.ExpectedChar,
			TypedChar:     req.TypedChar,
		})

	case InSentenceTimeout:
		var req timeoutRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		code, playerID, err := session(c, req.RoomCode)
		if err != nil {
			return nil, err
		}
		return nil, h.engine.SentenceTimeout(ctx, game.TimeoutInput{
			RoomCode:      code,
			PlayerID:      playerID,
			SentenceIndex: req.SentenceIndex,
		})

	default:
		return nil, apperrors.Validation("unknown event")
	}
}

// hostAction 只帶 roomCode 的房主操作
func (h *Handler) hostAction(c *Connection, msg envelope, fn func(code, playerID string) (*room.Room, error)) (ack, error) {
	var req roomRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil, err
	}
	code, playerID, err := session(c, req.RoomCode)
	if err != nil {
		return nil, err
	}
	r, err := fn(code, playerID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return success(nil), nil
	}
	return success(ack{"room": r}), nil
}

// leaveCurrent 建立或加入新房間前離開目前的房間
func (h *Handler) leaveCurrent(ctx context.Context, c *Connection) {
	code, playerID, bound := c.Session()
	if !bound {
		return
	}
	c.unbind()
	if !h.hub.Owns(code, playerID, c.ID) {
		return
	}
	if err := h.engine.LeaveRoom(ctx, code, playerID); err != nil && !apperrors.IsNotFound(err) {
		h.logger.WarnContext(ctx, "leave previous room failed", "room_code", code, "error", err)
	}
}

// leaveOtherSession 連線綁定的不是要接管的玩家時，先離開原本的房間
func (h *Handler) leaveOtherSession(ctx context.Context, c *Connection, roomCode, playerID string) {
	code, bound, ok := c.Session()
	if !ok {
		return
	}
	if target, err := room.ValidateRoomCode(roomCode); err == nil && target == code && bound == playerID {
		return
	}
	h.leaveCurrent(ctx, c)
}

// session 取得連線綁定的玩家，並確認請求的房間就是綁定的房間
func session(c *Connection, roomCode string) (string, string, error) {
	code, err := room.ValidateRoomCode(roomCode)
	if err != nil {
		return "", "", err
	}
	bound, playerID, ok := c.Session()
	if !ok || bound != code {
		return "", "", apperrors.New(apperrors.ErrCodeAuthorization, "not a member of this room")
	}
	return code, playerID, nil
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.Validation("invalid payload")
	}
	return nil
}

// reply 有 ackId 時回覆確認；沒有時錯誤以 event_error 送出
func (h *Handler) reply(c *Connection, msg envelope, result ack, err error) {
	if msg.AckID != nil {
		if err != nil {
			result = ack{"success": false, "error": apperrors.Message(err)}
		} else if result == nil {
			result = success(nil)
		}
		h.write(c, outbound{Event: eventAck, Data: result, AckID: msg.AckID})
		return
	}
	if err != nil {
		h.sendTo(c, game.EventError, game.ErrorEvent{Event: msg.Event, Error: apperrors.Message(err)})
	}
}

func (h *Handler) sendTo(c *Connection, event string, payload any) {
	h.write(c, outbound{Event: event, Data: payload})
}

func (h *Handler) write(c *Connection, out outbound) {
	frame, err := json.Marshal(out)
	if err != nil {
		h.logger.Error("encode reply failed", "event", out.Event, "error", err)
		return
	}
	if !c.enqueue(frame) {
		h.logger.Warn("reply dropped", "conn_id", c.ID, "event", out.Event)
	}
}
