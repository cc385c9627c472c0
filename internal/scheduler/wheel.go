// Package scheduler 實現以 key 管理的時間輪
//
// 時間輪：
//
//	Slot 0   →  [grace:AB3K7Q:p1]
//	Slot 1   →  []
//	Slot 2   →  [death:AB3K7Q:p2, countdown:AB3K7Q]
//	...
//	            ↑ 當前指針，每個 tick 前進一格
//
// 插入與取消都是 O(1)；同一個 key 再次排程會取代舊任務。
// 回調在獨立的 goroutine 執行，不阻塞時間輪；回調 panic 只記錄日誌。
package scheduler

import (
	"container/list"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultSlotCount 預設槽位數量
	DefaultSlotCount = 1024
	// DefaultTick 預設指針轉動間隔
	DefaultTick = 50 * time.Millisecond
)

// entry 時間輪中的一個任務
type entry struct {
	key   string
	fn    func()
	round int
	slot  int
	elem  *list.Element
}

// TimingWheel 時間輪
type TimingWheel struct {
	tick        time.Duration
	slots       []*list.List
	currentSlot int
	index       map[string]*entry
	mu          sync.Mutex
	started     bool
	stopped     bool
	logger      *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	running  sync.WaitGroup
}

// New 創建時間輪
func New(tick time.Duration, slotCount int, logger *slog.Logger) *TimingWheel {
	if tick <= 0 {
		tick = DefaultTick
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	tw := &TimingWheel{
		tick:   tick,
		slots:  make([]*list.List, slotCount),
		index:  make(map[string]*entry),
		logger: logger.With("component", "scheduler"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range tw.slots {
		tw.slots[i] = list.New()
	}
	return tw
}

// Start 啟動時間輪；重複呼叫或 Stop 之後呼叫都無效
func (tw *TimingWheel) Start() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.started || tw.stopped {
		return
	}
	tw.started = true
	go tw.run()
}

// run 時間輪主循環
func (tw *TimingWheel) run() {
	defer close(tw.done)

	ticker := time.NewTicker(tw.tick)
	defer ticker.Stop()

	for {
		select {
		case <-tw.stop:
			return
		case <-ticker.C:
			tw.advance()
		}
	}
}

// Schedule 在 delay 後執行 fn，取代同 key 的舊任務
//
// 算法：
//
//	ticks = ceil(delay / tick) + 1（下一個 tick 可能馬上到來，多等一格才不會提早）
//	slot  = (currentSlot + ticks) % slotCount
//	round = (ticks - 1) / slotCount
func (tw *TimingWheel) Schedule(key string, delay time.Duration, fn func()) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.removeLocked(key)

	ticks := 1
	if delay > 0 {
		ticks = int((delay+tw.tick-1)/tw.tick) + 1
	}
	n := len(tw.slots)

	e := &entry{
		key:   key,
		fn:    fn,
		round: (ticks - 1) / n,
		slot:  (tw.currentSlot + ticks) % n,
	}
	e.elem = tw.slots[e.slot].PushBack(e)
	tw.index[key] = e
}

// Cancel 取消任務，返回是否存在
func (tw *TimingWheel) Cancel(key string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.removeLocked(key)
}

// CancelPrefix 取消所有以 prefix 開頭的任務
func (tw *TimingWheel) CancelPrefix(prefix string) int {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	n := 0
	for key := range tw.index {
		if strings.HasPrefix(key, prefix) {
			tw.removeLocked(key)
			n++
		}
	}
	return n
}

// Pending 任務是否仍在等待
func (tw *TimingWheel) Pending(key string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	_, ok := tw.index[key]
	return ok
}

// Size 等待中的任務數
func (tw *TimingWheel) Size() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}

// removeLocked 呼叫者需持有 mu
func (tw *TimingWheel) removeLocked(key string) bool {
	e, ok := tw.index[key]
	if !ok {
		return false
	}
	tw.slots[e.slot].Remove(e.elem)
	delete(tw.index, key)
	return true
}

// advance 指針轉動一格並觸發到期任務
func (tw *TimingWheel) advance() {
	tw.mu.Lock()

	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	slot := tw.slots[tw.currentSlot]

	var due []*entry
	var next *list.Element
	for el := slot.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry)
		if e.round > 0 {
			e.round--
			continue
		}
		slot.Remove(el)
		delete(tw.index, e.key)
		due = append(due, e)
	}

	tw.mu.Unlock()

	for _, e := range due {
		tw.running.Add(1)
		go tw.fire(e.key, e.fn)
	}
}

// fire 執行一個到期任務
func (tw *TimingWheel) fire(key string, fn func()) {
	defer tw.running.Done()
	defer func() {
		if rec := recover(); rec != nil {
			tw.logger.Error("scheduled task panicked", "key", key, "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}

// Stop 停止時間輪，等待執行中的回調結束
//
// 尚未到期的任務被丟棄。未啟動的時間輪直接返回。
func (tw *TimingWheel) Stop() {
	tw.mu.Lock()
	started := tw.started
	tw.stopped = true
	tw.mu.Unlock()

	tw.stopOnce.Do(func() {
		close(tw.stop)
	})
	if started {
		<-tw.done
	}
	tw.running.Wait()
}
