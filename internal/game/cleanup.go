package game

import (
	"context"
	"errors"
	"time"

	"github.com/koopa0/type-or-die/internal/room"
	"github.com/koopa0/type-or-die/internal/store"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
	"github.com/koopa0/type-or-die/pkg/logger"
)

// rateIdle 限流計數閒置多久後清除
const rateIdle = time.Minute

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.CleanupInactiveRooms(ctx); err != nil {
				s.logger.WarnContext(ctx, "inactive room cleanup failed", "error", err)
			}
		}
	}
}

// CleanupInactiveRooms 刪除超過閒置時間的房間，並清除閒置的限流計數
//
// 返回刪除的房間數。單一房間失敗不影響其他房間。
func (s *Service) CleanupInactiveRooms(ctx context.Context) (int, error) {
	start := time.Now()
	pruned := s.limiter.Prune(rateIdle)

	codes, err := s.store.Codes(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.cfg.InactiveAfter).UnixMilli()
	deleted := 0
	for _, code := range codes {
		ok, err := s.cleanupRoom(ctx, code, cutoff)
		if err != nil {
			s.logger.WarnContext(logger.WithRoom(ctx, code), "delete inactive room failed", "error", err)
			continue
		}
		if ok {
			deleted++
		}
	}

	if deleted > 0 || pruned > 0 {
		s.logger.InfoContext(ctx, "cleanup finished",
			"rooms_scanned", len(codes),
			"rooms_deleted", deleted,
			"rate_entries_pruned", pruned,
			"duration", time.Since(start))
	}
	return deleted, nil
}

// cleanupRoom 在房間鎖內重新確認閒置後刪除；無法解碼的快照直接移除
func (s *Service) cleanupRoom(ctx context.Context, code string, cutoff int64) (bool, error) {
	r, err := s.store.Get(ctx, code)
	switch {
	case errors.Is(err, store.ErrCorruptRoom):
		ctx := logger.WithRoom(ctx, code)
		s.logger.WarnContext(ctx, "removing undecodable room snapshot", "error", err)
		if err := s.store.Delete(ctx, code); err != nil {
			return false, err
		}
		// 建立者位址在快照內無法取得，來源配額留給集合 TTL
		if err := s.store.DecrGlobal(ctx); err != nil {
			s.logger.WarnContext(ctx, "decrement global count failed", "error", err)
		}
		s.forgetRoom(code)
		return true, nil
	case err != nil:
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	case r.LastActivity >= cutoff:
		return false, nil
	}

	var victim *room.Room
	err = store.WithLock(ctx, s.store, code, func(ctx context.Context) error {
		// 取鎖前的快照可能已過時
		r, err := s.store.Get(ctx, code)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		if r.LastActivity >= cutoff {
			return nil
		}
		if err := s.DeleteRoom(ctx, r); err != nil {
			return err
		}
		victim = r
		return nil
	})
	if err != nil || victim == nil {
		return false, err
	}

	for id := range victim.Players {
		s.forgetPlayer(code, id)
	}
	for _, sp := range victim.Spectators {
		s.forgetPlayer(code, sp.ID)
	}
	return true, nil
}
