// Package queue 實作每位玩家的事件序列化佇列
//
// 每個 key 一個緩衝 channel 與一個 worker goroutine：
// 同一位玩家的任務依到達順序逐一執行，不同玩家之間完全獨立。
// 任務失敗只記錄日誌，不影響後續任務。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/type-or-die/pkg/logger"
)

// Task 佇列中的一個任務
type Task func(ctx context.Context) error

var (
	// ErrFull 該玩家的待處理任務已滿
	ErrFull = errors.New("queue: player queue is full")
	// ErrClosed 佇列已關閉
	ErrClosed = errors.New("queue: closed")
)

// Config 佇列參數
type Config struct {
	// 每位玩家最多排隊的任務數
	Buffer int
	// worker 閒置多久後退出
	IdleTimeout time.Duration
}

// DefaultConfig 返回預設參數
func DefaultConfig() Config {
	return Config{
		Buffer:      256,
		IdleTimeout: time.Minute,
	}
}

type worker struct {
	tasks chan Task
	stop  chan struct{}
}

// Queue 以 key 分隔的序列化佇列
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 創建佇列
func New(cfg Config, log *slog.Logger) *Queue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:     cfg,
		logger:  log.With("component", "queue"),
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue 將任務加入 key 的佇列尾端
func (q *Queue) Enqueue(key string, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	w, ok := q.workers[key]
	if !ok {
		w = &worker{
			tasks: make(chan Task, q.cfg.Buffer),
			stop:  make(chan struct{}),
		}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(key, w)
	}

	select {
	case w.tasks <- task:
		return nil
	default:
		return ErrFull
	}
}

// run worker 主循環
func (q *Queue) run(key string, w *worker) {
	defer q.wg.Done()

	idle := time.NewTimer(q.cfg.IdleTimeout)
	defer idle.Stop()

	ctx := logger.WithPlayer(q.ctx, key)

	for {
		select {
		case <-w.stop:
			return
		case <-q.ctx.Done():
			return
		case task := <-w.tasks:
			// 被丟棄後不再執行剩餘任務
			select {
			case <-w.stop:
				return
			default:
			}
			q.execute(ctx, key, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.cfg.IdleTimeout)
		case <-idle.C:
			q.mu.Lock()
			if len(w.tasks) == 0 && q.workers[key] == w {
				delete(q.workers, key)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(q.cfg.IdleTimeout)
		}
	}
}

// execute 執行單一任務，panic 也只記錄日誌
func (q *Queue) execute(ctx context.Context, key string, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.ErrorContext(ctx, "queued task panicked", "key", key, "panic", fmt.Sprint(rec))
		}
	}()

	if err := task(ctx); err != nil {
		q.logger.WarnContext(ctx, "queued task failed", "key", key, "error", err)
	}
}

// Discard 丟棄 key 的所有待處理任務並停止 worker
//
// 正在執行的任務會跑完。
func (q *Queue) Discard(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w, ok := q.workers[key]; ok {
		delete(q.workers, key)
		close(w.stop)
	}
}

// Len 目前的 worker 數量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close 停止所有 worker 並等待結束
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
