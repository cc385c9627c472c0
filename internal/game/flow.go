package game

import (
	"context"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// StartGame 房主開始倒數
//
// 句子在取鎖前抽取，鎖內再次檢查房主與大廳狀態。
// 倒數結束由排程任務切換到 PLAYING。
func (s *Service) StartGame(ctx context.Context, roomCode, playerID string) error {
	code, err := room.ValidateRoomCode(roomCode)
	if err != nil {
		return err
	}
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	current, err := s.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := checkCanStart(current, playerID); err != nil {
		return err
	}

	texts, err := s.sentences.Sentences(ctx, current.Settings.SentenceCount)
	if err != nil {
		s.logger.ErrorContext(ctx, "select sentences failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "sentence pool unavailable")
	}
	words := make([][]string, len(texts))
	for i, t := range texts {
		words[i] = room.SplitSentence(t)
	}

	s.timers.Cancel(countdownKey(code))

	var startedAt int64
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		if err := checkCanStart(r, playerID); err != nil {
			return false, err
		}
		now := s.now()
		startedAt = now.UnixMilli()
		r.StartCountdown(words, s.cfg.InitialOdds, s.cfg.Countdown, now)
		return true, nil
	})
	if err != nil {
		return err
	}

	s.timers.Schedule(countdownKey(code), s.cfg.Countdown, func() {
		s.beginPlaying(code)
	})

	s.bus.Broadcast(ctx, code, EventCountdownStart, CountdownStart{
		Sentences: r.Sentences,
		StartTime: startedAt,
		Duration:  s.cfg.Countdown.Milliseconds(),
	})
	s.logger.InfoContext(ctx, "countdown started", "players", len(r.Players), "sentences", len(r.Sentences))
	return nil
}

func checkCanStart(r *room.Room, playerID string) error {
	if r.HostID != playerID {
		return apperrors.ErrNotHost
	}
	if r.Status != room.StatusLobby {
		return apperrors.Validation("game already started")
	}
	if len(r.Players) < 1 {
		return apperrors.Validation("need at least 1 player")
	}
	return nil
}

// beginPlaying 倒數結束的排程任務
func (s *Service) beginPlaying(code string) {
	ctx, cancel := s.detached()
	defer cancel()
	ctx = logger.WithRoom(ctx, code)

	var started, ended bool
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		started, ended = false, false
		if r.Status != room.StatusCountdown {
			return false, nil
		}
		now := s.now()
		r.BeginPlaying(now)
		started = true
		if len(r.Players) == 0 {
			_, ended = r.CheckAllDead(now)
		}
		return true, nil
	})
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.ErrorContext(ctx, "begin playing failed", "error", err)
		}
		return
	}
	if !started {
		return
	}

	first := []string{}
	if len(r.Sentences) > 0 {
		first = r.Sentences[0]
	}
	s.bus.Broadcast(ctx, code, EventGameStart, GameStart{FirstSentence: first, GameStartTime: r.GameStartedAt})
	if ended {
		s.bus.Broadcast(ctx, code, EventGameEnded, gameEnded(r, room.EndAllDead))
	}
	s.logger.InfoContext(ctx, "game started")
}

// ForceReset 房主在回合任何階段強制回到大廳
func (s *Service) ForceReset(ctx context.Context, roomCode, playerID string) (*room.Room, error) {
	return s.resetRoom(ctx, roomCode, playerID, EventGameForceReset, func(st room.Status) error {
		if st == room.StatusLobby {
			return apperrors.Validation("room is already in the lobby")
		}
		return nil
	})
}

// RequestReplay 房主在回合結束後開始新一局
func (s *Service) RequestReplay(ctx context.Context, roomCode, playerID string) (*room.Room, error) {
	return s.resetRoom(ctx, roomCode, playerID, EventReplayStarted, func(st room.Status) error {
		if st != room.StatusFinished {
			return apperrors.Validation("game has not finished")
		}
		return nil
	})
}

// resetRoom 回到大廳並取消房間所有排程
//
// 觀戰者在容量允許時升為玩家，斷線中的玩家被移除。
func (s *Service) resetRoom(ctx context.Context, roomCode, playerID, event string, allowed func(room.Status) error) (*room.Room, error) {
	code, err := room.ValidateRoomCode(roomCode)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var dropped []string
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		dropped = nil
		if r.HostID != playerID {
			return false, apperrors.ErrNotHost
		}
		if err := allowed(r.Status); err != nil {
			return false, err
		}
		dropped = r.ResetToLobby(s.cfg.MaxPlayers, s.cfg.InitialOdds, s.now())
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.forgetRoom(code)
	for id := range r.Players {
		s.queue.Discard(id)
	}
	for _, id := range dropped {
		s.forgetPlayer(code, id)
	}

	s.bus.Broadcast(ctx, code, event, RoomReset{Room: r})
	s.logger.InfoContext(ctx, "room reset to lobby", "event", event, "dropped", len(dropped))
	return r, nil
}
