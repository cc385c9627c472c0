package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/koopa0/type-or-die/internal/config"
)

// FastGameConfig 返回縮短所有計時的遊戲配置
//
// 倒數、陣亡延遲與斷線寬限都縮到毫秒級，
// 排程相關的測試可以在一秒內完成。
func FastGameConfig() config.Game {
	g := config.DefaultGame()
	g.Countdown = 30 * time.Millisecond
	g.DeathDelay = 30 * time.Millisecond
	g.RouletteResumeDelay = 0
	g.DisconnectGrace = 60 * time.Millisecond
	g.LockRetryDelay = 5 * time.Millisecond
	g.SchedulerTick = 5 * time.Millisecond
	g.CleanupInterval = time.Hour
	return g
}

// WaitForCondition 輪詢直到條件成立或逾時
func WaitForCondition(t testing.TB, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// RunConcurrently 同時啟動 n 個 goroutine 並等待全部結束
func RunConcurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
}
