// Package store 實作房間快照的共享存儲、分散式鎖與房間配額
//
// Redis 是唯一的權威狀態來源：
//
//	room:<code>            房間 JSON 快照（TTL 24 小時，每次寫入刷新）
//	lock:room:<code>       房間互斥鎖（SET NX EX，值為隨機 token）
//	ip:<sha256>:rooms      來源位址建立的房間集合
//	global:room_count      全域房間計數
//
// Memory 提供相同語義的單機實作，用於單元測試與本機開發。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/koopa0/type-or-die/internal/config"
	"github.com/koopa0/type-or-die/internal/room"
)

// ErrCorruptRoom 房間快照無法解碼
var ErrCorruptRoom = errors.New("corrupt room snapshot")

// UpdateFunc 在原子更新中修改房間
//
// 返回 false 表示不需要寫回。函數可能因衝突被重試多次，
// 每次都會拿到最新的快照，因此不可在函數外累積副作用。
type UpdateFunc func(r *room.Room) (bool, error)

// RoomStore 房間快照存取
type RoomStore interface {
	Get(ctx context.Context, code string) (*room.Room, error)
	Put(ctx context.Context, r *room.Room) error
	Exists(ctx context.Context, code string) (bool, error)
	Delete(ctx context.Context, code string) error
	Update(ctx context.Context, code string, fn UpdateFunc) (*room.Room, error)
	Codes(ctx context.Context) ([]string, error)
}

// Locker 房間互斥鎖
type Locker interface {
	Acquire(ctx context.Context, code string) (string, error)
	Release(ctx context.Context, code, token string) error
}

// Quota 來源位址與全域的房間配額
type Quota interface {
	RegisterRoom(ctx context.Context, ipHash, code string) error
	ReleaseIP(ctx context.Context, ipHash, code string) error
	DecrGlobal(ctx context.Context) error
	GlobalCount(ctx context.Context) (int64, error)
}

// Options 存儲參數
type Options struct {
	RoomTTL        time.Duration
	LockTTL        time.Duration
	LockRetries    int
	LockRetryDelay time.Duration
	MaxRoomsPerIP  int
	MaxGlobalRooms int
}

// DefaultOptions 返回預設參數
func DefaultOptions() Options {
	return Options{
		RoomTTL:        24 * time.Hour,
		LockTTL:        5 * time.Second,
		LockRetries:    3,
		LockRetryDelay: 50 * time.Millisecond,
		MaxRoomsPerIP:  4,
		MaxGlobalRooms: 200,
	}
}

// OptionsFromConfig 由遊戲配置取得存儲參數
func OptionsFromConfig(g config.Game) Options {
	opts := DefaultOptions()
	opts.RoomTTL = g.RoomTTL
	opts.LockTTL = g.LockTTL
	opts.LockRetries = g.LockRetries
	opts.LockRetryDelay = g.LockRetryDelay
	opts.MaxRoomsPerIP = g.MaxRoomsPerIP
	opts.MaxGlobalRooms = g.MaxGlobalRooms
	return opts
}

const (
	roomKeyPrefix = "room:"
	lockKeyPrefix = "lock:room:"
	globalKey     = "global:room_count"
)

func roomKey(code string) string { return roomKeyPrefix + code }
func lockKey(code string) string { return lockKeyPrefix + code }
func ipKey(ipHash string) string { return "ip:" + ipHash + ":rooms" }

// expiryFor 從最後活動時間計算剩餘 TTL
func expiryFor(r *room.Room, ttl time.Duration, now time.Time) time.Duration {
	if r.LastActivity == 0 {
		return ttl
	}
	left := ttl - now.Sub(time.UnixMilli(r.LastActivity))
	if left < time.Second {
		return time.Second
	}
	return left
}

// WithLock 取得鎖後執行 fn，無論成功與否都會釋放
func WithLock(ctx context.Context, l Locker, code string, fn func(ctx context.Context) error) (err error) {
	token, err := l.Acquire(ctx, code)
	if err != nil {
		return err
	}
	defer func() {
		// 釋放不受呼叫者取消影響
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if relErr := l.Release(relCtx, code, token); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ctx)
}
