package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
)

// Redis 以 Redis 為後端的 RoomStore、Locker 與 Quota
type Redis struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRedis 創建 Redis 存儲
func NewRedis(client *redis.Client, opts Options, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		opts:   opts,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
}

// Get 讀取房間快照
func (s *Redis) Get(ctx context.Context, code string) (*room.Room, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrRoomNotFound
	}
	if err != nil {
		return nil, apperrors.Unavailable(err, "get room")
	}
	return decodeRoom(data)
}

// Put 覆寫整個快照並刷新 TTL
func (s *Redis) Put(ctx context.Context, r *room.Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	if err := s.client.Set(ctx, roomKey(r.RoomCode), data, expiryFor(r, s.opts.RoomTTL, s.now())).Err(); err != nil {
		return apperrors.Unavailable(err, "put room")
	}
	return nil
}

// Exists 檢查房間是否存在
func (s *Redis) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return false, apperrors.Unavailable(err, "exists")
	}
	return n > 0, nil
}

// Delete 刪除房間快照
func (s *Redis) Delete(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, roomKey(code)).Err(); err != nil {
		return apperrors.Unavailable(err, "delete room")
	}
	return nil
}

// maxUpdateBackoff 樂觀鎖衝突後單次退避的上限
const maxUpdateBackoff = 20 * time.Millisecond

// Update 以 WATCH/MULTI/EXEC 原子地讀取-修改-寫回
//
// 快照在讀取後被其他寫入者修改時，EXEC 失敗並以最新快照重試；
// 兩個並發更新永遠不會基於同一份舊狀態同時提交。
// 重試沒有次數上限，只受 ctx 的期限約束。
func (s *Redis) Update(ctx context.Context, code string, fn UpdateFunc) (*room.Room, error) {
	key := roomKey(code)
	var (
		result *room.Room
		fnErr  error
	)

	txf := func(tx *redis.Tx) error {
		fnErr = nil
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperrors.ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		r, err := decodeRoom(data)
		if err != nil {
			fnErr = err
			return err
		}

		write, err := fn(r)
		if err != nil {
			fnErr = err
			return err
		}
		result = r
		if !write {
			return nil
		}

		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, expiryFor(r, s.opts.RoomTTL, s.now()))
			return nil
		})
		return err
	}

	for attempt := 1; ; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, redis.TxFailedErr) {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, apperrors.Unavailable(err, "update room")
		}

		// 衝突代表其他寫入者已經提交；退避後以最新快照重試，直到 ctx 結束
		select {
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "room update abandoned under contention",
				"room_code", code,
				"attempts", attempt,
				"error", ctx.Err())
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeLockTimeout, "room update contention")
		case <-time.After(updateBackoff(attempt)):
		}
	}
}

// updateBackoff 隨機退避，上限 maxUpdateBackoff
func updateBackoff(attempt int) time.Duration {
	limit := time.Duration(attempt) * time.Millisecond
	if limit > maxUpdateBackoff {
		limit = maxUpdateBackoff
	}
	return time.Duration(rand.Int64N(int64(limit))) + 1
}

// Codes 掃描所有房間代碼
func (s *Redis) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	iter := s.client.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		codes = append(codes, strings.TrimPrefix(iter.Val(), roomKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.Unavailable(err, "scan rooms")
	}
	return codes, nil
}

// Acquire 取得房間鎖
//
// 以 SET NX EX 寫入隨機 token，失敗時固定間隔重試。
func (s *Redis) Acquire(ctx context.Context, code string) (string, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < s.opts.LockRetries; attempt++ {
		ok, err := s.client.SetNX(ctx, lockKey(code), token, s.opts.LockTTL).Result()
		if err != nil {
			return "", apperrors.Unavailable(err, "acquire lock")
		}
		if ok {
			return token, nil
		}

		if attempt == s.opts.LockRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.opts.LockRetryDelay):
		}
	}

	return "", apperrors.ErrLockTimeout.WithDetails(code)
}

// Release 比對 token 後釋放鎖
func (s *Redis) Release(ctx context.Context, code, token string) error {
	n, err := releaseLockScript.Run(ctx, s.client, []string{lockKey(code)}, token).Int()
	if err != nil {
		return apperrors.Unavailable(err, "release lock")
	}
	if n == 0 {
		s.logger.WarnContext(ctx, "lock expired before release", "room_code", code)
	}
	return nil
}

// RegisterRoom 原子地檢查配額並登記房間
func (s *Redis) RegisterRoom(ctx context.Context, ipHash, code string) error {
	res, err := registerRoomScript.Run(ctx, s.client,
		[]string{ipKey(ipHash), globalKey},
		code, s.opts.MaxRoomsPerIP, s.opts.MaxGlobalRooms, int(s.opts.RoomTTL.Seconds()),
	).Int()
	if err != nil {
		return apperrors.Unavailable(err, "register room")
	}

	switch res {
	case 1:
		return nil
	case -1:
		return apperrors.ErrIPQuota
	default:
		return apperrors.ErrGlobalCapacity
	}
}

// ReleaseIP 從來源位址的集合移除房間
func (s *Redis) ReleaseIP(ctx context.Context, ipHash, code string) error {
	if err := s.client.SRem(ctx, ipKey(ipHash), code).Err(); err != nil {
		return apperrors.Unavailable(err, "release ip")
	}
	return nil
}

// DecrGlobal 遞減全域房間數
func (s *Redis) DecrGlobal(ctx context.Context) error {
	if err := decrGlobalScript.Run(ctx, s.client, []string{globalKey}).Err(); err != nil {
		return apperrors.Unavailable(err, "decrement global")
	}
	return nil
}

// GlobalCount 目前的全域房間數
func (s *Redis) GlobalCount(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, globalKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Unavailable(err, "global count")
	}
	return n, nil
}

// Ping 健康檢查
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeRoom(data []byte) (*room.Room, error) {
	var r room.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w: %v", ErrCorruptRoom, err)
	}
	if r.Players == nil {
		r.Players = make(map[string]*room.Player)
	}
	if r.Spectators == nil {
		r.Spectators = []room.Spectator{}
	}
	return &r, nil
}
