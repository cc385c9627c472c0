package game_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/type-or-die/internal/config"
	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/room"
	"github.com/koopa0/type-or-die/internal/sentence"
	"github.com/koopa0/type-or-die/internal/store"
	"github.com/koopa0/type-or-die/internal/testutils"
)

// 每句 5 個單字、每個單字 1 個字元
var shortSentences = []string{
	"a b c d e",
	"f g h i j",
	"k l m n o",
	"p q r s t",
	"u v w x y",
	"z a b c d",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type event struct {
	Room    string
	Name    string
	To      string
	Except  string
	Payload any
}

// recorder 記錄所有送出的事件
type recorder struct {
	mu      sync.Mutex
	events  []event
	members map[string]map[string]string
}

func newRecorder() *recorder {
	return &recorder{members: make(map[string]map[string]string)}
}

func (r *recorder) Join(roomCode, playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roomCode] == nil {
		r.members[roomCode] = make(map[string]string)
	}
	r.members[roomCode][playerID] = connID
}

func (r *recorder) Leave(roomCode, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roomCode], playerID)
}

func (r *recorder) Broadcast(_ context.Context, roomCode, name string, payload any) {
	r.add(event{Room: roomCode, Name: name, Payload: payload})
}

func (r *recorder) BroadcastExcept(_ context.Context, roomCode, except, name string, payload any) {
	r.add(event{Room: roomCode, Name: name, Except: except, Payload: payload})
}

func (r *recorder) Send(_ context.Context, roomCode, playerID, name string, payload any) {
	r.add(event{Room: roomCode, Name: name, To: playerID, Payload: payload})
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) named(name string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(name string) int {
	return len(r.named(name))
}

// index 事件第一次出現的位置，沒有時返回 -1
func (r *recorder) index(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.Name == name {
			return i
		}
	}
	return -1
}

func (r *recorder) isMember(roomCode, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[roomCode][playerID]
	return ok
}

type harness struct {
	svc    *game.Service
	store  *store.Memory
	bus    *recorder
	cfg    config.Game
	offset *atomic.Int64
}

// newHarness 以內存存儲與短計時建立服務
func newHarness(t *testing.T, tweak func(*config.Game)) *harness {
	t.Helper()
	return newHarnessWith(t, sentence.NewStatic(shortSentences...), tweak)
}

// newHarnessWith 指定句子來源；預設輪盤永遠存活
func newHarnessWith(t *testing.T, provider sentence.Provider, tweak func(*config.Game)) *harness {
	t.Helper()
	return newHarnessOn(t, provider, nil, tweak)
}

// newHarnessOn 允許以 wrap 包裝內存存儲
func newHarnessOn(t *testing.T, provider sentence.Provider, wrap func(*store.Memory) game.Store, tweak func(*config.Game)) *harness {
	t.Helper()

	cfg := testutils.FastGameConfig()
	cfg.RateLimitEvents = 10000
	if tweak != nil {
		tweak(&cfg)
	}

	offset := new(atomic.Int64)
	mem := store.NewMemory(store.OptionsFromConfig(cfg))
	bus := newRecorder()
	var st game.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	svc := game.New(cfg, st, provider, bus, testLogger())
	svc.SetRoller(room.RollerFunc(func(odds int) int { return odds }))
	svc.SetClock(func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	})
	svc.Start(context.Background())
	t.Cleanup(svc.Close)

	return &harness{svc: svc, store: mem, bus: bus, cfg: cfg, offset: offset}
}

// advance 將服務的時鐘往前撥
func (h *harness) advance(d time.Duration) {
	h.offset.Add(int64(d))
}

func (h *harness) room(t *testing.T, code string) *room.Room {
	t.Helper()
	r, err := h.store.Get(context.Background(), code)
	require.NoError(t, err)
	return r
}

// createRoom 建立房間並讓其他玩家加入，返回代碼與依加入順序的玩家 ID
func (h *harness) createRoom(t *testing.T, sentenceCount int, others ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	created, err := h.svc.CreateRoom(ctx, game.CreateRoomInput{
		Nickname:      "host",
		SentenceCount: sentenceCount,
		RemoteAddr:    "10.0.0.1",
		ConnID:        "conn-host",
	})
	require.NoError(t, err)

	ids := []string{created.PlayerID}
	for _, nick := range others {
		joined, err := h.svc.AddPlayer(ctx, game.JoinInput{
			RoomCode:   created.RoomCode,
			Nickname:   nick,
			RemoteAddr: "10.0.0.2",
			ConnID:     "conn-" + nick,
		})
		require.NoError(t, err)
		ids = append(ids, joined.PlayerID)
	}
	return created.RoomCode, ids
}

// startGame 開始並等待進入 PLAYING
func (h *harness) startGame(t *testing.T, code, hostID string) *room.Room {
	t.Helper()
	require.NoError(t, h.svc.StartGame(context.Background(), code, hostID))
	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.room(t, code).Status == room.StatusPlaying
	}, "room should start playing")
	return h.room(t, code)
}

// typeSentence 依序送出句子的每個字元（略過空白）
func (h *harness) typeSentence(t *testing.T, code, playerID string, words []string) {
	t.Helper()
	for _, w := range words {
		for _, ch := range w {
			require.NoError(t, h.svc.CharTyped(context.Background(), game.CharInput{
				RoomCode: code,
				PlayerID: playerID,
				Char:     string(ch),
			}))
		}
	}
}
