// Package ratelimit 實作本地限流
//
// 兩個維度：
//   - 玩家事件：滑動視窗，每位玩家每秒最多 N 個遊戲事件
//   - WebSocket 握手：每個來源位址一個令牌桶
//
// 限流狀態只存在本機記憶體，不跨實例共享。
package ratelimit

import (
	"sync"
	"time"
)

// window 單一 key 的請求時間記錄
type window struct {
	requests []time.Time
	lastSeen time.Time
}

// PlayerLimiter 以玩家為 key 的滑動視窗限流器
type PlayerLimiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewPlayerLimiter 建立限流器
//
// limit: 視窗內允許的最大事件數
// windowSize: 視窗大小
func NewPlayerLimiter(limit int, windowSize time.Duration) *PlayerLimiter {
	return &PlayerLimiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// SetClock 替換時間來源（測試用）
func (l *PlayerLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow 檢查事件是否允許通過
func (l *PlayerLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{requests: make([]time.Time, 0, 16)}
		l.windows[key] = w
	}
	w.lastSeen = now

	// 清理視窗外的請求
	windowStart := now.Add(-l.window)
	valid := len(w.requests)
	for i, t := range w.requests {
		if t.After(windowStart) {
			valid = i
			break
		}
	}
	if valid > 0 {
		w.requests = w.requests[valid:]
	}

	if len(w.requests) < l.limit {
		w.requests = append(w.requests, now)
		return true
	}
	return false
}

// Forget 移除玩家的限流狀態
func (l *PlayerLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Prune 清除閒置超過 idle 的 key，返回清除數量
func (l *PlayerLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, w := range l.windows {
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len 追蹤中的 key 數量
func (l *PlayerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
