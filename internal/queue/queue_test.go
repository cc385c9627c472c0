package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/type-or-die/internal/queue"
	"github.com/koopa0/type-or-die/internal/testutils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestQueue_Order 測試同一 key 依序執行
func TestQueue_Order(t *testing.T) {
	q := queue.New(queue.DefaultConfig(), testLogger())
	defer q.Close()

	var (
		mu      sync.Mutex
		order   []int
		busy    atomic.Int32
		overlap atomic.Bool
	)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
			if busy.Add(1) > 1 {
				overlap.Store(true)
			}
			defer busy.Add(-1)

			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	testutils.WaitForCondition(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == n
	}, "all tasks run")

	assert.False(t, overlap.Load(), "tasks for one key never overlap")
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

// TestQueue_FailureDoesNotStop 測試失敗與 panic 不影響後續任務
func TestQueue_FailureDoesNotStop(t *testing.T) {
	q := queue.New(queue.DefaultConfig(), testLogger())
	defer q.Close()

	var ran atomic.Int32
	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error { panic("kaboom") }))
	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))

	testutils.WaitForCondition(t, time.Second, func() bool { return ran.Load() == 1 }, "third task runs")
}

// TestQueue_Independent 測試不同 key 互不阻塞
func TestQueue_Independent(t *testing.T) {
	q := queue.New(queue.DefaultConfig(), testLogger())
	defer q.Close()

	release := make(chan struct{})
	require.NoError(t, q.Enqueue("slow", func(ctx context.Context) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	require.NoError(t, q.Enqueue("fast", func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast key blocked by slow key")
	}
	close(release)
}

// TestQueue_Discard 測試丟棄待處理任務
func TestQueue_Discard(t *testing.T) {
	q := queue.New(queue.DefaultConfig(), testLogger())
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32

	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	<-started
	q.Discard("p1")
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ran.Load(), "pending tasks are dropped")
	assert.Zero(t, q.Len())

	// 之後的任務會建立新的 worker
	done := make(chan struct{})
	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
		close(done)
		return nil
	}))
	<-done
}

// TestQueue_FullAndClosed 測試容量與關閉
func TestQueue_FullAndClosed(t *testing.T) {
	q := queue.New(queue.Config{Buffer: 1, IdleTimeout: time.Minute}, testLogger())

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, q.Enqueue("p1", func(ctx context.Context) error { return nil }), queue.ErrFull)

	close(block)
	q.Close()
	assert.ErrorIs(t, q.Enqueue("p1", func(ctx context.Context) error { return nil }), queue.ErrClosed)
}

// TestQueue_IdleWorkerExits 測試閒置 worker 退出
func TestQueue_IdleWorkerExits(t *testing.T) {
	q := queue.New(queue.Config{Buffer: 4, IdleTimeout: 20 * time.Millisecond}, testLogger())
	defer q.Close()

	require.NoError(t, q.Enqueue("p1", func(ctx context.Context) error { return nil }))
	testutils.WaitForCondition(t, time.Second, func() bool { return q.Len() == 0 }, "idle worker exits")
}
