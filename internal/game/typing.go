package game

import (
	"context"
	"time"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// CharInput 一次按鍵
type CharInput struct {
	RoomCode string
	PlayerID string
	Char     string
	// 客戶端回報的位置，只用於比對
	CharIndex int
}

// CharTyped 驗證並排入玩家佇列
func (s *Service) CharTyped(ctx context.Context, in CharInput) error {
	code, err := room.ValidateRoomCode(in.RoomCode)
	if err != nil {
		return err
	}
	if err := room.ValidateChar(in.Char); err != nil {
		return err
	}
	if err := room.ValidateIndex("charIndex", in.CharIndex); err != nil {
		return err
	}

	return s.submit(in.PlayerID, func(ctx context.Context) error {
		return s.applyChar(ctx, code, in.PlayerID, in.Char, in.CharIndex)
	})
}

// applyChar 按鍵的原子轉換
func (s *Service) applyChar(ctx context.Context, code, playerID, ch string, clientIndex int) error {
	ctx = logger.WithRoom(logger.WithPlayer(ctx, playerID), code)
	start := time.Now()

	var (
		res      room.KeystrokeResult
		expected int
		ended    bool
	)
	r, err := s.store.Update(ctx, code, func(r *room.Room) (bool, error) {
		res, expected, ended = room.KeystrokeResult{}, -1, false
		if p, ok := r.Players[playerID]; ok {
			expected = p.ExpectedCharIndex(r)
		}

		now := s.now()
		res = room.ApplyKeystroke(r, playerID, ch, now)
		if !res.Transition.Mutated() {
			return false, nil
		}
		if res.Transition == room.TransitionSentenceComplete {
			ended = r.CheckCompletion(playerID, now)
		}
		return true, nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	logger.Metrics(ctx, s.logger, "char_typed", time.Since(start))

	if expected >= 0 && expected != clientIndex {
		s.logger.DebugContext(ctx, "client cursor disagrees", "client", clientIndex, "server", expected)
	}

	switch res.Transition {
	case room.TransitionNone:
		return nil
	case room.TransitionMismatch:
		s.logger.DebugContext(ctx, "keystroke mismatch", "char", ch)
		return nil
	}

	s.bus.Broadcast(ctx, code, EventPlayerProgress, res.Player.Progress())

	if res.Completed != nil {
		s.bus.Broadcast(ctx, code, EventSentenceCompleted, SentenceCompleted{
			PlayerID:      playerID,
			SentenceIndex: res.Completed.SentenceIndex,
			TimeUsed:      res.Completed.TimeUsed,
			WPM:           res.Completed.WPM,
		})
	}
	if ended {
		s.endRound(code)
		s.bus.Broadcast(ctx, code, EventGameEnded, gameEnded(r, room.EndCompletion))
		s.logger.InfoContext(ctx, "game finished by completion")
	}
	return nil
}
