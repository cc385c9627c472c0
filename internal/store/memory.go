package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/type-or-die/internal/room"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
)

// Memory 單機內存實作
//
// 快照以 JSON 保存，讀寫都會複製，行為與 Redis 版本一致；
// 只適用於單一實例。
type Memory struct {
	mu      sync.Mutex
	opts    Options
	rooms   map[string]memEntry
	locks   map[string]memLock
	ipRooms map[string]map[string]struct{}
	global  int64
	now     func() time.Time
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

type memLock struct {
	token     string
	expiresAt time.Time
}

// NewMemory 創建內存存儲
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts,
		rooms:   make(map[string]memEntry),
		locks:   make(map[string]memLock),
		ipRooms: make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock 替換時間來源（測試用）
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// getLocked 呼叫者需持有 mu
func (m *Memory) getLocked(code string) (*room.Room, error) {
	e, ok := m.rooms[code]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.rooms, code)
		return nil, apperrors.ErrRoomNotFound
	}
	return decodeRoom(e.data)
}

// putLocked 呼叫者需持有 mu
func (m *Memory) putLocked(r *room.Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	now := m.now()
	m.rooms[r.RoomCode] = memEntry{data: data, expiresAt: now.Add(expiryFor(r, m.opts.RoomTTL, now))}
	return nil
}

// Get 讀取房間快照
func (m *Memory) Get(ctx context.Context, code string) (*room.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(code)
}

// Put 覆寫整個快照
func (m *Memory) Put(ctx context.Context, r *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(r)
}

// Exists 檢查房間是否存在
func (m *Memory) Exists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.getLocked(code)
	return err == nil, nil
}

// Delete 刪除房間
func (m *Memory) Delete(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
	return nil
}

// Update 在互斥鎖內讀取-修改-寫回
func (m *Memory) Update(ctx context.Context, code string, fn UpdateFunc) (*room.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.getLocked(code)
	if err != nil {
		return nil, err
	}
	write, err := fn(r)
	if err != nil {
		return nil, err
	}
	if write {
		if err := m.putLocked(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Codes 所有未過期的房間代碼（已排序）
func (m *Memory) Codes(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	codes := make([]string, 0, len(m.rooms))
	for code, e := range m.rooms {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Acquire 取得房間鎖
func (m *Memory) Acquire(ctx context.Context, code string) (string, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < m.opts.LockRetries; attempt++ {
		if m.tryLock(code, token) {
			return token, nil
		}
		if attempt == m.opts.LockRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.opts.LockRetryDelay):
		}
	}
	return "", apperrors.ErrLockTimeout.WithDetails(code)
}

func (m *Memory) tryLock(code, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, held := m.locks[code]; held && now.Before(l.expiresAt) {
		return false
	}
	m.locks[code] = memLock{token: token, expiresAt: now.Add(m.opts.LockTTL)}
	return true
}

// Release 比對 token 後釋放
func (m *Memory) Release(ctx context.Context, code, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, held := m.locks[code]; held && l.token == token {
		delete(m.locks, code)
	}
	return nil
}

// RegisterRoom 檢查配額並登記房間
func (m *Memory) RegisterRoom(ctx context.Context, ipHash, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global >= int64(m.opts.MaxGlobalRooms) {
		return apperrors.ErrGlobalCapacity
	}
	set := m.ipRooms[ipHash]
	if set == nil {
		set = make(map[string]struct{})
		m.ipRooms[ipHash] = set
	}
	if _, ok := set[code]; !ok {
		if len(set) >= m.opts.MaxRoomsPerIP {
			return apperrors.ErrIPQuota
		}
		set[code] = struct{}{}
	}
	m.global++
	return nil
}

// ReleaseIP 從來源位址集合移除房間
func (m *Memory) ReleaseIP(ctx context.Context, ipHash, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set := m.ipRooms[ipHash]; set != nil {
		delete(set, code)
		if len(set) == 0 {
			delete(m.ipRooms, ipHash)
		}
	}
	return nil
}

// DecrGlobal 遞減全域房間數
func (m *Memory) DecrGlobal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global > 0 {
		m.global--
	}
	return nil
}

// GlobalCount 目前的全域房間數
func (m *Memory) GlobalCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global, nil
}

// Ping 健康檢查
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
