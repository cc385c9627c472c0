package game

import (
	"context"
	"time"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// Disconnect 連線中斷
//
// 回合進行中的存活玩家進入寬限期，其餘（大廳玩家、陣亡玩家、觀戰者）立即移除。
func (s *Service) Disconnect(ctx context.Context, code, playerID string) error {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var (
		grace  bool
		remove bool
	)
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		grace, remove = false, false
		p, ok := r.Players[playerID]
		if !ok {
			remove = r.IsSpectator(playerID)
			return false, nil
		}
		if p.Status == room.PlayerDisconnected {
			return false, nil
		}
		if p.Status != room.PlayerAlive || !r.Status.Active() {
			remove = true
			return false, nil
		}
		now := s.now()
		p.Disconnect(now)
		r.Touch(now)
		grace = true
		return true, nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.bus.Leave(code, playerID)
			return nil
		}
		return err
	}

	if remove {
		_, err := s.RemovePlayer(ctx, code, playerID)
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	s.bus.Leave(code, playerID)
	if !grace {
		return nil
	}

	s.timers.Schedule(graceKey(code, playerID), s.cfg.DisconnectGrace, func() {
		s.graceExpired(code, playerID)
	})

	p := r.Players[playerID]
	s.bus.Broadcast(ctx, code, EventPlayerDisconnected, PlayerDisconnected{
		PlayerID:       playerID,
		GracePeriodEnd: p.DisconnectedAt + s.cfg.DisconnectGrace.Milliseconds(),
		Players:        r.SortedPlayers(),
	})
	s.logger.InfoContext(ctx, "player disconnected, grace period started", "grace", s.cfg.DisconnectGrace)
	return nil
}

// stillDisconnected 斷線後沒有重新連線
func stillDisconnected(p *room.Player) bool {
	return p.DisconnectedAt != 0
}

// graceExpired 寬限期到期的排程任務
func (s *Service) graceExpired(code, playerID string) {
	ctx, cancel := s.detached()
	defer cancel()
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	res, err := s.removePlayer(ctx, code, playerID, stillDisconnected)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.ErrorContext(ctx, "grace expiry removal failed", "error", err)
		}
		return
	}
	if res.Removed {
		s.logger.InfoContext(ctx, "grace period expired, player removed", "room_deleted", res.Deleted)
	}
}

// ReconnectInput 重新連線的參數
type ReconnectInput struct {
	RoomCode string
	PlayerID string
	ConnID   string
}

// ReconnectResult 重新連線的結果
type ReconnectResult struct {
	PlayerID string     `json:"playerId"`
	Role     room.Role  `json:"role"`
	Room     *room.Room `json:"room"`
}

// ReconnectPlayer 寬限期內恢復玩家並綁定新連線
//
// 成功後新連線會收到完整房間狀態與其他玩家的進度。
func (s *Service) ReconnectPlayer(ctx context.Context, in ReconnectInput) (*ReconnectResult, error) {
	code, err := room.ValidateRoomCode(in.RoomCode)
	if err != nil {
		return nil, err
	}
	if err := room.ValidatePlayerID(in.PlayerID); err != nil {
		return nil, err
	}
	ctx = logger.WithRoom(logger.WithPlayer(ctx, in.PlayerID), code)

	var expired bool
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		expired = false
		p, ok := r.Players[in.PlayerID]
		if !ok {
			return false, apperrors.ErrPlayerNotFound
		}
		if p.Status != room.PlayerDisconnected {
			return false, apperrors.Validation("player is already active or dead")
		}
		now := s.now()
		if now.Sub(time.UnixMilli(p.DisconnectedAt)) > s.cfg.DisconnectGrace {
			expired = true
			return false, nil
		}
		p.Reconnect(in.ConnID)
		r.Touch(now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		if _, err := s.removePlayer(ctx, code, in.PlayerID, stillDisconnected); err != nil && !apperrors.IsNotFound(err) {
			s.logger.WarnContext(ctx, "expired session removal failed", "error", err)
		}
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "grace period expired")
	}

	s.timers.Cancel(graceKey(code, in.PlayerID))
	s.bus.Join(code, in.PlayerID, in.ConnID)
	s.bus.BroadcastExcept(ctx, code, in.PlayerID, EventPlayerReconnected, PlayerReconnected{
		PlayerID:     in.PlayerID,
		ResumedState: r.Players[in.PlayerID],
	})
	s.syncConnection(ctx, r, in.PlayerID)

	s.logger.InfoContext(ctx, "player reconnected")
	return &ReconnectResult{PlayerID: in.PlayerID, Role: roleOf(r, in.PlayerID), Room: r}, nil
}
