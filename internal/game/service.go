// Package game 實作房間同步引擎
//
// Service 是唯一長期存在的協調者，持有所有本地登記表：
// 玩家事件佇列、限流計數與排程中的延遲任務。
// 遊戲狀態本身只存在共享存儲中，任何實例都能處理任何房間。
//
// 兩種寫入路徑：
//
//	按鍵：RoomStore.Update 的樂觀交易，不取鎖
//	其他：房間鎖內再以 Update 提交，多步驟操作彼此互斥，
//	      同時不會覆蓋期間提交的按鍵
package game

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/type-or-die/internal/config"
	"github.com/koopa0/type-or-die/internal/queue"
	"github.com/koopa0/type-or-die/internal/ratelimit"
	"github.com/koopa0/type-or-die/internal/room"
	"github.com/koopa0/type-or-die/internal/scheduler"
	"github.com/koopa0/type-or-die/internal/sentence"
	"github.com/koopa0/type-or-die/internal/store"
)

// ErrRateLimited 玩家事件過於頻繁，事件被丟棄
var ErrRateLimited = errors.New("game: event rate limited")

// Store 服務需要的存儲能力
type Store interface {
	store.RoomStore
	store.Locker
	store.Quota
}

// Broadcaster 將事件送到房間內的連線
//
// Join 與 Leave 維護本實例的房間成員關係；
// 送出的事件由實作決定是否同時轉發到其他實例。
type Broadcaster interface {
	Join(roomCode, playerID, connID string)
	Leave(roomCode, playerID string)
	Broadcast(ctx context.Context, roomCode, event string, payload any)
	BroadcastExcept(ctx context.Context, roomCode, exceptPlayerID, event string, payload any)
	Send(ctx context.Context, roomCode, playerID, event string, payload any)
}

// Service 遊戲引擎
type Service struct {
	cfg       config.Game
	store     Store
	sentences sentence.Provider
	bus       Broadcaster
	roller    room.Roller
	logger    *slog.Logger
	now       func() time.Time

	limiter *ratelimit.PlayerLimiter
	queue   *queue.Queue
	timers  *scheduler.TimingWheel

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New 建立遊戲引擎
func New(cfg config.Game, st Store, provider sentence.Provider, bus Broadcaster, logger *slog.Logger) *Service {
	logger = logger.With("component", "game")
	return &Service{
		cfg:       cfg,
		store:     st,
		sentences: provider,
		bus:       bus,
		roller:    room.CryptoRoller{},
		logger:    logger,
		now:       time.Now,
		limiter:   ratelimit.NewPlayerLimiter(cfg.RateLimitEvents, cfg.RateLimitWindow),
		queue:     queue.New(queue.DefaultConfig(), logger),
		timers:    scheduler.New(cfg.SchedulerTick, scheduler.DefaultSlotCount, logger),
		stop:      make(chan struct{}),
	}
}

// SetRoller 替換輪盤亂數來源
func (s *Service) SetRoller(r room.Roller) {
	s.roller = r
}

// SetClock 替換時間來源
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start 啟動排程器與閒置房間清理
func (s *Service) Start(ctx context.Context) {
	s.timers.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanupLoop(ctx)
	}()
}

// Close 停止背景工作；排程中與佇列中的任務會被丟棄
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.timers.Stop()
		s.queue.Close()
	})
}

// mutate 在房間鎖內原子地修改房間
//
// fn 可能因按鍵衝突被重試，必須只依賴傳入的快照。
func (s *Service) mutate(ctx context.Context, code string, fn store.UpdateFunc) (*room.Room, error) {
	var out *room.Room
	err := store.WithLock(ctx, s.store, code, func(ctx context.Context) error {
		r, err := s.store.Update(ctx, code, fn)
		out = r
		return err
	})
	return out, err
}

// submit 限流後放入玩家的序列化佇列
func (s *Service) submit(playerID string, task queue.Task) error {
	if !s.limiter.Allow(playerID) {
		return ErrRateLimited
	}
	return s.queue.Enqueue(playerID, task)
}

// forgetPlayer 清除本地關於該玩家的所有登記
func (s *Service) forgetPlayer(code, playerID string) {
	s.timers.Cancel(graceKey(code, playerID))
	s.timers.Cancel(deathKey(code, playerID))
	s.queue.Discard(playerID)
	s.limiter.Forget(playerID)
	s.bus.Leave(code, playerID)
}

// forgetRoom 取消房間所有排程中的任務
func (s *Service) forgetRoom(code string) {
	s.endRound(code)
	s.timers.CancelPrefix(graceKey(code, ""))
}

// endRound 回合結束後倒數與延遲陣亡都不再需要；斷線寬限仍然有效
func (s *Service) endRound(code string) {
	s.timers.Cancel(countdownKey(code))
	s.timers.CancelPrefix(deathKey(code, ""))
}

func countdownKey(code string) string       { return "countdown:" + code }
func deathKey(code, playerID string) string { return "death:" + code + ":" + playerID }
func graceKey(code, playerID string) string { return "grace:" + code + ":" + playerID }

// detached 延遲任務使用的上下文，不跟隨原請求取消
func (s *Service) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// Stats 執行狀態
type Stats struct {
	ActiveRooms   int   `json:"activeRooms"`
	GlobalRooms   int64 `json:"globalRooms"`
	PendingTimers int   `json:"pendingTimers"`
	PlayerQueues  int   `json:"playerQueues"`
	TrackedRates  int   `json:"trackedRates"`
}

// Stats 返回房間數與本地登記表大小
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	codes, err := s.store.Codes(ctx)
	if err != nil {
		return Stats{}, err
	}
	global, err := s.store.GlobalCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ActiveRooms:   len(codes),
		GlobalRooms:   global,
		PendingTimers: s.timers.Size(),
		PlayerQueues:  s.queue.Len(),
		TrackedRates:  s.limiter.Len(),
	}, nil
}

func roleOf(r *room.Room, playerID string) room.Role {
	if r.IsSpectator(playerID) {
		return room.RoleSpectator
	}
	return room.RolePlayer
}
