package game

import (
	"context"
	"time"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// MistypeInput 客戶端回報打錯
type MistypeInput struct {
	RoomCode      string
	PlayerID      string
	SentenceIndex int
	ExpectedChar  string
	TypedChar     string
}

// Mistype 驗證並排入玩家佇列
func (s *Service) Mistype(ctx context.Context, in MistypeInput) error {
	code, err := room.ValidateRoomCode(in.RoomCode)
	if err != nil {
		return err
	}
	if err := room.ValidateIndex("sentenceIndex", in.SentenceIndex); err != nil {
		return err
	}

	return s.submit(in.PlayerID, func(ctx context.Context) error {
		return s.applyMistype(ctx, code, in)
	})
}

// TimeoutInput 客戶端回報句子逾時
type TimeoutInput struct {
	RoomCode      string
	PlayerID      string
	SentenceIndex int
}

// SentenceTimeout 驗證並排入玩家佇列
func (s *Service) SentenceTimeout(ctx context.Context, in TimeoutInput) error {
	code, err := room.ValidateRoomCode(in.RoomCode)
	if err != nil {
		return err
	}
	if err := room.ValidateIndex("sentenceIndex", in.SentenceIndex); err != nil {
		return err
	}

	return s.submit(in.PlayerID, func(ctx context.Context) error {
		return s.applyTimeout(ctx, code, in.PlayerID, in.SentenceIndex)
	})
}

// eligible 回合進行中、玩家可操作且回報的是目前的句子
//
// 過期的回報（例如句子已完成後才到達的逾時）直接忽略。
func eligible(r *room.Room, playerID string, sentenceIndex int) (*room.Player, bool) {
	if r.Status != room.StatusPlaying {
		return nil, false
	}
	p, ok := r.Players[playerID]
	if !ok || !p.Playable() {
		return nil, false
	}
	if p.CurrentSentenceIndex != sentenceIndex {
		return nil, false
	}
	return p, true
}

// spin 轉輪盤；存活時本句延後重新開始，陣亡時標記等待
func (s *Service) spin(p *room.Player, reason room.DeathReason, now time.Time) room.RollOutcome {
	out := p.SpinRoulette(s.roller, p.CurrentSentenceIndex, now)
	if out.Survived {
		p.ResetAttempt(now.Add(s.cfg.RouletteResumeDelay).UnixMilli())
	} else {
		p.PendingDeath = reason
	}
	return out
}

// applyMistype 記錄警告，達到上限立即轉輪盤
func (s *Service) applyMistype(ctx context.Context, code string, in MistypeInput) error {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, in.PlayerID), code)

	var (
		player  *room.Player
		strike  room.StrikeResult
		outcome *room.RollOutcome
	)
	_, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		player, strike, outcome = nil, room.StrikeResult{}, nil
		p, ok := eligible(r, in.PlayerID, in.SentenceIndex)
		if !ok {
			return false, nil
		}

		now := s.now()
		strike = p.RecordStrike(s.cfg.MaxStrikes, now)
		if strike.RollTriggered {
			o := s.spin(p, room.DeathMistype, now)
			outcome = &o
		}
		r.Touch(now)
		player = p
		return true, nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if player == nil {
		s.logger.DebugContext(ctx, "mistype ignored", "sentence_index", in.SentenceIndex)
		return nil
	}

	s.bus.Broadcast(ctx, code, EventPlayerStrike, PlayerStrike{
		PlayerID:          in.PlayerID,
		Strikes:           strike.Strikes,
		MaxStrikes:        s.cfg.MaxStrikes,
		SentenceStartTime: player.SentenceStartTime,
		RouletteTriggered: strike.RollTriggered,
	})
	if outcome == nil {
		s.bus.Broadcast(ctx, code, EventPlayerProgress, player.Progress())
		return nil
	}
	s.announceRoll(ctx, code, player, *outcome, room.DeathMistype)
	return nil
}

// applyTimeout 逾時直接轉輪盤，不經過警告計數
func (s *Service) applyTimeout(ctx context.Context, code, playerID string, sentenceIndex int) error {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var (
		player  *room.Player
		outcome room.RollOutcome
	)
	_, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		player = nil
		p, ok := eligible(r, playerID, sentenceIndex)
		if !ok {
			return false, nil
		}
		now := s.now()
		outcome = s.spin(p, room.DeathTimeout, now)
		r.Touch(now)
		player = p
		return true, nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if player == nil {
		s.logger.DebugContext(ctx, "timeout ignored", "sentence_index", sentenceIndex)
		return nil
	}

	s.announceRoll(ctx, code, player, outcome, room.DeathTimeout)
	return nil
}

// announceRoll 廣播輪盤結果；陣亡時排程延遲生效
func (s *Service) announceRoll(ctx context.Context, code string, p *room.Player, out room.RollOutcome, reason room.DeathReason) {
	s.bus.Broadcast(ctx, code, EventRouletteResult, RouletteResult{
		PlayerID:     p.ID,
		Survived:     out.Survived,
		NewOdds:      out.NewOdds,
		PreviousOdds: out.PreviousOdds,
		Roll:         out.Roll,
	})

	if out.Survived {
		s.bus.Broadcast(ctx, code, EventPlayerProgress, p.Progress())
		s.logger.InfoContext(ctx, "survived roulette", "roll", out.Roll, "odds", out.PreviousOdds)
		return
	}

	s.logger.InfoContext(ctx, "fatal roulette, death pending", "roll", out.Roll, "reason", reason)
	playerID := p.ID
	s.timers.Schedule(deathKey(code, playerID), s.cfg.DeathDelay, func() {
		err := s.queue.Enqueue(playerID, func(ctx context.Context) error {
			return s.applyDeath(ctx, code, playerID, reason)
		})
		if err != nil {
			s.logger.Warn("deferred death dropped", "room_code", code, "player_id", playerID, "error", err)
		}
	})
}

// applyDeath 延遲陣亡的排程任務
//
// 期間房間可能已刪除、回合已結束或玩家已離開，
// 只有仍在等待同一原因陣亡的玩家才會被標記為 DEAD。
func (s *Service) applyDeath(ctx context.Context, code, playerID string, reason room.DeathReason) error {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)

	var (
		died  bool
		ended bool
	)
	r, err := s.mutate(ctx, code, func(r *room.Room) (bool, error) {
		died, ended = false, false
		if r.Status != room.StatusPlaying {
			return false, nil
		}
		p, ok := r.Players[playerID]
		if !ok || p.Status == room.PlayerDead || p.PendingDeath != reason {
			return false, nil
		}

		now := s.now()
		timeUsed := s.cfg.SentenceTimeLimit.Seconds()
		if reason == room.DeathMistype {
			timeUsed = max(0, float64(now.UnixMilli()-p.SentenceStartTime)/1000)
		}
		p.Kill(reason, timeUsed)
		died = true
		_, ended = r.CheckAllDead(now)
		r.Touch(now)
		return true, nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !died {
		s.logger.DebugContext(ctx, "deferred death no longer applies")
		return nil
	}

	s.bus.Broadcast(ctx, code, EventPlayerDied, PlayerDied{PlayerID: playerID, DeathReason: reason})
	if ended {
		s.endRound(code)
		s.bus.Broadcast(ctx, code, EventGameEnded, gameEnded(r, room.EndAllDead))
		s.logger.InfoContext(ctx, "all players dead", "winner", r.WinnerID)
	}
	return nil
}
