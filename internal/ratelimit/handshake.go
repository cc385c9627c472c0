package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HandshakeLimiter 以來源位址為 key 的令牌桶
type HandshakeLimiter struct {
	rate    rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewHandshakeLimiter 每個位址每秒 perSecond 次，允許 burst 次突發
func NewHandshakeLimiter(perSecond float64, burst int) *HandshakeLimiter {
	return &HandshakeLimiter{
		rate:    rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow 檢查位址是否還有令牌
func (h *HandshakeLimiter) Allow(addr string) bool {
	h.mu.Lock()
	b, ok := h.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(h.rate, h.burst)}
		h.buckets[addr] = b
	}
	b.lastSeen = time.Now()
	h.mu.Unlock()

	return b.limiter.Allow()
}

// Prune 清除閒置的位址
func (h *HandshakeLimiter) Prune(idle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for addr, b := range h.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(h.buckets, addr)
			removed++
		}
	}
	return removed
}

// Middleware 超過限制時返回 429
func (h *HandshakeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Allow(ClientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP 取得來源位址
//
// 優先使用反向代理設定的 X-Forwarded-For 第一個位址。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
