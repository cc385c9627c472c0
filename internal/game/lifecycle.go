package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// maxCodeAttempts 房間代碼碰撞時的最大重試次數
const maxCodeAttempts = 10

// CreateRoomInput 建立房間的參數
type CreateRoomInput struct {
	Nickname      string
	SentenceCount int
	RemoteAddr    string
	ConnID        string
}

// CreateRoomResult 建立房間的結果
type CreateRoomResult struct {
	RoomCode string     `json:"roomCode"`
	PlayerID string     `json:"playerId"`
	Role     room.Role  `json:"role"`
	Room     *room.Room `json:"room"`
}

// CreateRoom 建立房間並讓建立者成為房主
//
// 配額在寫入房間之前原子地登記，失敗時不會留下任何房間。
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (*CreateRoomResult, error) {
	if err := room.ValidateSentenceCount(in.SentenceCount, false); err != nil {
		return nil, err
	}

	nickname := room.SanitizeNickname(in.Nickname)
	ipHash := room.HashIP(in.RemoteAddr)
	playerID := uuid.NewString()

	code, err := s.allocateCode(ctx)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	if err := s.store.RegisterRoom(ctx, ipHash, code); err != nil {
		s.logger.InfoContext(ctx, "room creation rejected", "error", err)
		return nil, err
	}

	now := s.now()
	host := room.NewPlayer(playerID, nickname, ipHash, s.cfg.InitialOdds, now)
	host.ConnectionID = in.ConnID
	settings := room.Settings{
		SentenceCount:   in.SentenceCount,
		TimePerSentence: int(s.cfg.SentenceTimeLimit / time.Second),
	}
	r := room.New(code, host, settings, ipHash, now)

	if err := s.store.Put(ctx, r); err != nil {
		s.releaseQuota(ctx, ipHash, code)
		return nil, err
	}

	s.bus.Join(code, playerID, in.ConnID)
	s.logger.InfoContext(ctx, "room created", "nickname", nickname)

	return &CreateRoomResult{RoomCode: code, PlayerID: playerID, Role: room.RolePlayer, Room: r}, nil
}

// allocateCode 產生未被使用的房間代碼
func (s *Service) allocateCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code, err := room.GenerateCode()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate room code")
		}
		exists, err := s.store.Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperrors.ErrCodeExhausted
}

// JoinInput 加入房間的參數
type JoinInput struct {
	RoomCode   string
	Nickname   string
	RemoteAddr string
	ConnID     string
}

// JoinResult 加入房間的結果
type JoinResult struct {
	PlayerID  string     `json:"playerId"`
	Role      room.Role  `json:"role"`
	Room      *room.Room `json:"room"`
	Sentences [][]string `json:"sentences"`
}

// AddPlayer 加入房間
//
// 回合進行中（倒數或遊戲中）只能以觀戰者身分加入，
// 不影響任何玩家的狀態。
func (s *Service) AddPlayer(ctx context.Context, in JoinInput) (*JoinResult, error) {
	code, err := room.ValidateRoomCode(in.RoomCode)
	if err != nil {
		return nil, err
	}

	nickname := room.SanitizeNickname(in.Nickname)
	ipHash := room.HashIP(in.RemoteAddr)
	playerID := uuid.NewString()
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var role room.Role
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		now := s.now()
		if r.Status.Active() {
			role = room.RoleSpectator
			r.AddSpectator(room.Spectator{ID: playerID, Nickname: nickname, IPHash: ipHash})
			r.Touch(now)
			return true, nil
		}

		if len(r.Players) >= s.cfg.MaxPlayers {
			return false, apperrors.ErrRoomFull
		}
		role = room.RolePlayer
		p := room.NewPlayer(playerID, nickname, ipHash, s.cfg.InitialOdds, now)
		p.ConnectionID = in.ConnID
		r.Players[playerID] = p
		r.Touch(now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Join(code, playerID, in.ConnID)
	s.bus.BroadcastExcept(ctx, code, playerID, EventPlayerJoined, PlayerJoined{
		PlayerID: playerID,
		Nickname: nickname,
		Role:     role,
		Players:  r.SortedPlayers(),
	})
	if role == room.RoleSpectator {
		s.syncConnection(ctx, r, playerID)
	}

	s.logger.InfoContext(ctx, "player joined", "role", role, "nickname", nickname)
	return &JoinResult{PlayerID: playerID, Role: role, Room: r, Sentences: r.Sentences}, nil
}

// syncConnection 把完整房間與每位玩家的進度送給單一連線
func (s *Service) syncConnection(ctx context.Context, r *room.Room, playerID string) {
	if !r.Status.Active() {
		return
	}
	s.bus.Send(ctx, r.RoomCode, playerID, EventSyncGameState, r)
	for _, p := range r.SortedPlayers() {
		if p.ID == playerID {
			continue
		}
		s.bus.Send(ctx, r.RoomCode, playerID, EventPlayerProgress, p.Progress())
	}
}

// LeaveRoom 玩家主動離開，立即移除
func (s *Service) LeaveRoom(ctx context.Context, roomCode, playerID string) error {
	code, err := room.ValidateRoomCode(roomCode)
	if err != nil {
		return err
	}
	_, err = s.RemovePlayer(ctx, code, playerID)
	return err
}

// RemoveResult 移除玩家的結果
type RemoveResult struct {
	Removed   bool
	Deleted   bool
	NewHostID string
	Room      *room.Room
}

// RemovePlayer 從房間移除玩家或觀戰者
//
// 房間清空時連帶刪除房間；房主離開時轉移給最早加入的玩家。
// 回合中移除後若沒有存活玩家，回合以 ALL_DEAD 結束。
func (s *Service) RemovePlayer(ctx context.Context, code, playerID string) (*RemoveResult, error) {
	return s.removePlayer(ctx, code, playerID, nil)
}

// removePlayer guard 在鎖內檢查玩家狀態，返回 false 時不移除
func (s *Service) removePlayer(ctx context.Context, code, playerID string, guard func(*room.Player) bool) (*RemoveResult, error) {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var (
		skipped bool
		newHost string
		ended   bool
	)
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		skipped, newHost, ended = false, "", false
		if guard != nil {
			p, ok := r.Players[playerID]
			if !ok || !guard(p) {
				skipped = true
				return false, nil
			}
		}

		removed, host := r.RemovePlayer(playerID)
		if !removed {
			return false, apperrors.ErrPlayerNotFound
		}
		newHost = host

		now := s.now()
		if !r.IsEmpty() {
			_, ended = r.CheckAllDead(now)
		}
		r.Touch(now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return &RemoveResult{Room: r}, nil
	}

	s.forgetPlayer(code, playerID)

	if r.IsEmpty() {
		if err := s.DeleteRoom(ctx, r); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "last member left, room deleted")
		return &RemoveResult{Removed: true, Deleted: true}, nil
	}

	if newHost != "" {
		s.logger.InfoContext(ctx, "host migrated", "new_host", newHost)
	}
	s.bus.Broadcast(ctx, code, EventPlayerLeft, PlayerLeft{
		PlayerID:  playerID,
		NewHostID: r.HostID,
		Players:   r.SortedPlayers(),
	})
	if ended {
		s.endRound(code)
		s.bus.Broadcast(ctx, code, EventGameEnded, gameEnded(r, room.EndAllDead))
	}

	return &RemoveResult{Removed: true, NewHostID: newHost, Room: r}, nil
}

// DeleteRoom 刪除房間與其配額
//
// 三個步驟並行且互不影響：釋放來源位址配額、遞減全域計數、刪除房間。
// 只有刪除房間的失敗會返回，其餘只記錄日誌。
func (s *Service) DeleteRoom(ctx context.Context, r *room.Room) error {
	code := r.RoomCode
	ctx = logger.WithRoom(ctx, code)
	s.forgetRoom(code)

	var g errgroup.Group
	g.Go(func() error {
		if err := s.store.ReleaseIP(ctx, r.CreatorIP, code); err != nil {
			s.logger.WarnContext(ctx, "release ip quota failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.store.DecrGlobal(ctx); err != nil {
			s.logger.WarnContext(ctx, "decrement global count failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.store.Delete(ctx, code); err != nil {
			s.logger.ErrorContext(ctx, "delete room failed", "error", err)
			return err
		}
		return nil
	})
	return g.Wait()
}

// releaseQuota 房間寫入失敗時歸還配額
func (s *Service) releaseQuota(ctx context.Context, ipHash, code string) {
	if err := s.store.ReleaseIP(ctx, ipHash, code); err != nil {
		s.logger.WarnContext(ctx, "release ip quota failed", "error", err)
	}
	if err := s.store.DecrGlobal(ctx); err != nil {
		s.logger.WarnContext(ctx, "decrement global count failed", "error", err)
	}
}

// ChangeSettings 房主在大廳變更句數
func (s *Service) ChangeSettings(ctx context.Context, roomCode, playerID string, sentenceCount int) (*room.Room, error) {
	code, err := room.ValidateRoomCode(roomCode)
	if err != nil {
		return nil, err
	}
	if err := room.ValidateSentenceCount(sentenceCount, true); err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		if r.HostID != playerID {
			return false, apperrors.ErrNotHost
		}
		if r.Status != room.StatusLobby {
			return false, apperrors.Validation("settings can only change in the lobby")
		}
		r.Settings.SentenceCount = sentenceCount
		r.Touch(s.now())
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Broadcast(ctx, code, EventSettingsUpdated, SettingsUpdated{Settings: r.Settings})
	return r, nil
}
