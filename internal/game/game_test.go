package game_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/type-or-die/internal/config"
	"github.com/koopa0/type-or-die/internal/game"
	"github.com/koopa0/type-or-die/internal/room"
	"github.com/koopa0/type-or-die/internal/sentence"
	"github.com/koopa0/type-or-die/internal/testutils"
	apperrors "github.com/koopa0/type-or-die/pkg/errors"
)

// TestStartGame 測試倒數與開始
func TestStartGame(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")

	err := h.svc.StartGame(ctx, code, ids[1])
	assert.True(t, apperrors.IsAuthorization(err))

	require.NoError(t, h.svc.StartGame(ctx, code, ids[0]))

	r := h.room(t, code)
	assert.Equal(t, room.StatusCountdown, r.Status)
	assert.Len(t, r.Sentences, 5)

	countdowns := h.bus.named(game.EventCountdownStart)
	require.Len(t, countdowns, 1)
	cd := countdowns[0].Payload.(game.CountdownStart)
	assert.Equal(t, r.Sentences, cd.Sentences)
	assert.Equal(t, h.cfg.Countdown.Milliseconds(), cd.Duration)

	// 倒數中不可再次開始
	err = h.svc.StartGame(ctx, code, ids[0])
	assert.True(t, apperrors.IsValidation(err))

	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventGameStart) == 1
	}, "game_start should be broadcast")

	r = h.room(t, code)
	assert.Equal(t, room.StatusPlaying, r.Status)
	assert.NotZero(t, r.GameStartedAt)
	for _, p := range r.Players {
		assert.Equal(t, room.PlayerAlive, p.Status)
		assert.Equal(t, h.cfg.InitialOdds, p.RouletteOdds)
		assert.Equal(t, r.GameStartedAt, p.SentenceStartTime)
	}
	assert.Equal(t, r.Sentences[0], h.bus.named(game.EventGameStart)[0].Payload.(game.GameStart).FirstSentence)
}

// TestStartGame_InsufficientSentences 句子不足時回報存儲不可用
func TestStartGame_InsufficientSentences(t *testing.T) {
	h := newHarness(t, nil)
	code, ids := h.createRoom(t, 10)

	err := h.svc.StartGame(context.Background(), code, ids[0])
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreUnavailable(err))

	var insufficient *sentence.InsufficientError
	assert.True(t, errors.As(err, &insufficient))
	assert.Equal(t, room.StatusLobby, h.room(t, code).Status)
}

// TestCharTyped_Lobby 大廳中的按鍵不產生任何效果
func TestCharTyped_Lobby(t *testing.T) {
	h := newHarness(t, nil)
	code, ids := h.createRoom(t, 5)

	require.NoError(t, h.svc.CharTyped(context.Background(), game.CharInput{RoomCode: code, PlayerID: ids[0], Char: "a"}))
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, h.bus.count(game.EventPlayerProgress))
	assert.Zero(t, h.room(t, code).Players[ids[0]].TotalCorrectChars)
}

// TestCharTyped_Validation 測試輸入驗證
func TestCharTyped_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input game.CharInput
	}{
		{"multiple characters", game.CharInput{RoomCode: "ABCDEF", PlayerID: "p", Char: "ab"}},
		{"empty character", game.CharInput{RoomCode: "ABCDEF", PlayerID: "p", Char: ""}},
		{"negative index", game.CharInput{RoomCode: "ABCDEF", PlayerID: "p", Char: "a", CharIndex: -1}},
		{"bad room code", game.CharInput{RoomCode: "ABC", PlayerID: "p", Char: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.CharTyped(ctx, tt.input)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}
}

// TestCompletion 第一位完成所有句子的玩家獲勝
func TestCompletion(t *testing.T) {
	h := newHarness(t, nil)
	code, ids := h.createRoom(t, 5, "bob")
	r := h.startGame(t, code, ids[0])

	for _, words := range r.Sentences {
		h.typeSentence(t, code, ids[0], words)
	}

	testutils.WaitForCondition(t, 2*time.Second, func() bool {
		return h.bus.count(game.EventGameEnded) == 1
	}, "game should end by completion")

	end := h.bus.named(game.EventGameEnded)[0].Payload.(game.GameEnded)
	assert.Equal(t, room.EndCompletion, end.Reason)
	assert.Equal(t, ids[0], end.WinnerID)
	assert.Equal(t, 5, end.FinalStats[ids[0]].CompletedSentences)
	assert.Equal(t, room.PlayerAlive, end.FinalStats[ids[1]].Status)

	assert.Equal(t, 5, h.bus.count(game.EventSentenceCompleted))
	assert.Less(t, h.bus.index(game.EventSentenceCompleted), h.bus.index(game.EventGameEnded))

	final := h.room(t, code)
	assert.Equal(t, room.StatusFinished, final.Status)
	assert.Equal(t, ids[0], final.WinnerID)
	host := final.Players[ids[0]]
	assert.Len(t, host.SentenceHistory, 5)
	assert.Equal(t, 25, host.TotalCorrectChars)
	for _, entry := range host.SentenceHistory {
		assert.True(t, entry.Completed)
	}

	// 結束後的按鍵被忽略
	require.NoError(t, h.svc.CharTyped(context.Background(), game.CharInput{RoomCode: code, PlayerID: ids[1], Char: "a"}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, room.StatusFinished, h.room(t, code).Status)
	assert.Equal(t, 1, h.bus.count(game.EventGameEnded))
}

// TestCharTyped_Concurrent 同一玩家的併發按鍵不會遺失
func TestCharTyped_Concurrent(t *testing.T) {
	same := "aaaaa aaaaa aaaaa aaaaa aaaaa"
	h := newHarnessWith(t, sentence.NewStatic(same, same, same, same, same), nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	h.startGame(t, code, ids[0])

	const n = 20
	testutils.RunConcurrently(n*2, func(i int) {
		_ = h.svc.CharTyped(ctx, game.CharInput{RoomCode: code, PlayerID: ids[i%2], Char: "a", CharIndex: i / 2})
	})

	testutils.WaitForCondition(t, 2*time.Second, func() bool {
		r := h.room(t, code)
		return r.Players[ids[0]].TotalCorrectChars == n && r.Players[ids[1]].TotalCorrectChars == n
	}, "every keystroke should be applied exactly once")

	r := h.room(t, code)
	for _, id := range ids {
		p := r.Players[id]
		assert.Equal(t, n, p.TotalTypedChars)
		assert.Equal(t, 4, p.CurrentWordIndex)
		assert.Equal(t, 4*6, p.CurrentCharIndex, "spaces count toward the index")
		assert.Equal(t, 0, p.CurrentCharInWord)
	}
	assert.Equal(t, 2*n, h.bus.count(game.EventPlayerProgress))
}

// TestMistype_Strikes 警告數永遠在 0 到 2 之間
func TestMistype_Strikes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)
	h.startGame(t, code, ids[0])

	for i := 1; i <= 7; i++ {
		require.NoError(t, h.svc.Mistype(ctx, game.MistypeInput{RoomCode: code, PlayerID: ids[0], ExpectedChar: "a", TypedChar: "x"}))
		testutils.WaitForCondition(t, time.Second, func() bool {
			return h.bus.count(game.EventPlayerStrike) == i
		}, "strike should be broadcast")

		p := h.room(t, code).Players[ids[0]]
		assert.GreaterOrEqual(t, p.MistakeStrikes, 0)
		assert.Less(t, p.MistakeStrikes, h.cfg.MaxStrikes)
		assert.Equal(t, i, p.TotalMistypes)
		assert.Equal(t, room.PlayerAlive, p.Status)
	}

	// 第 3 與第 6 次打錯觸發輪盤
	assert.Equal(t, 2, h.bus.count(game.EventRouletteResult))
	strikes := h.bus.named(game.EventPlayerStrike)
	assert.True(t, strikes[2].Payload.(game.PlayerStrike).RouletteTriggered)
	assert.Equal(t, 0, strikes[2].Payload.(game.PlayerStrike).Strikes)
	assert.False(t, strikes[3].Payload.(game.PlayerStrike).RouletteTriggered)
}

// TestMistype_FatalRoll 第三次打錯抽到 1 時延遲陣亡並結束回合
func TestMistype_FatalRoll(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.SetRoller(room.RollerFunc(func(int) int { return 1 }))
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)
	h.startGame(t, code, ids[0])

	for range 3 {
		require.NoError(t, h.svc.Mistype(ctx, game.MistypeInput{RoomCode: code, PlayerID: ids[0]}))
	}

	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventRouletteResult) == 1
	}, "roulette should be spun")

	roll := h.bus.named(game.EventRouletteResult)[0].Payload.(game.RouletteResult)
	assert.False(t, roll.Survived)
	assert.Equal(t, 1, roll.Roll)
	assert.Equal(t, h.cfg.InitialOdds, roll.PreviousOdds)

	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventGameEnded) == 1
	}, "round should end after deferred death")

	died := h.bus.named(game.EventPlayerDied)
	require.Len(t, died, 1)
	assert.Equal(t, room.DeathMistype, died[0].Payload.(game.PlayerDied).DeathReason)
	assert.Less(t, h.bus.index(game.EventRouletteResult), h.bus.index(game.EventPlayerDied))
	assert.Less(t, h.bus.index(game.EventPlayerDied), h.bus.index(game.EventGameEnded))

	end := h.bus.named(game.EventGameEnded)[0].Payload.(game.GameEnded)
	assert.Equal(t, room.EndAllDead, end.Reason)
	assert.Equal(t, ids[0], end.WinnerID)

	p := h.room(t, code).Players[ids[0]]
	assert.Equal(t, room.PlayerDead, p.Status)
	assert.Empty(t, p.PendingDeath)
	require.Len(t, p.SentenceHistory, 1)
	assert.Equal(t, room.DeathMistype, p.SentenceHistory[0].DeathReason)
}

// TestTimeout_OddsNonIncreasing 每次存活後賠率遞減直到下限
func TestTimeout_OddsNonIncreasing(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.SetRoller(room.RollerFunc(func(int) int { return 2 }))
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)
	h.startGame(t, code, ids[0])

	want := []int{5, 4, 3, 2, 2, 2}
	prev := h.cfg.InitialOdds
	for i, odds := range want {
		require.NoError(t, h.svc.SentenceTimeout(ctx, game.TimeoutInput{RoomCode: code, PlayerID: ids[0]}))
		testutils.WaitForCondition(t, time.Second, func() bool {
			return h.bus.count(game.EventRouletteResult) == i+1
		}, "roulette should be spun")

		p := h.room(t, code).Players[ids[0]]
		assert.Equal(t, odds, p.RouletteOdds)
		assert.LessOrEqual(t, p.RouletteOdds, prev)
		assert.GreaterOrEqual(t, p.RouletteOdds, room.MinOdds)
		assert.Equal(t, room.PlayerAlive, p.Status)
		assert.Zero(t, p.MistakeStrikes)
		prev = p.RouletteOdds
	}
	assert.Len(t, h.room(t, code).Players[ids[0]].RouletteHistory, len(want))
	assert.Zero(t, h.bus.count(game.EventPlayerStrike))
}

// TestTimeout_StaleIndexIgnored 已經過去的句子的回報被忽略
func TestTimeout_StaleIndexIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)
	h.startGame(t, code, ids[0])

	require.NoError(t, h.svc.SentenceTimeout(ctx, game.TimeoutInput{RoomCode: code, PlayerID: ids[0], SentenceIndex: 3}))
	require.NoError(t, h.svc.Mistype(ctx, game.MistypeInput{RoomCode: code, PlayerID: ids[0], SentenceIndex: 2}))
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, h.bus.count(game.EventRouletteResult))
	assert.Zero(t, h.bus.count(game.EventPlayerStrike))
	assert.Empty(t, h.room(t, code).Players[ids[0]].RouletteHistory)
}

// TestTimeout_Fatal 逾時陣亡記錄完整的句子時限
func TestTimeout_Fatal(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.SetRoller(room.RollerFunc(func(int) int { return 1 }))
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	h.startGame(t, code, ids[0])

	require.NoError(t, h.svc.SentenceTimeout(ctx, game.TimeoutInput{RoomCode: code, PlayerID: ids[1]}))
	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventPlayerDied) == 1
	}, "player should die")

	r := h.room(t, code)
	dead := r.Players[ids[1]]
	assert.Equal(t, room.PlayerDead, dead.Status)
	assert.Equal(t, h.cfg.SentenceTimeLimit.Seconds(), dead.SentenceHistory[0].TimeUsed)
	assert.Equal(t, room.StatusPlaying, r.Status, "one player is still alive")
	assert.Zero(t, h.bus.count(game.EventGameEnded))
}

// TestDisconnect_Lobby 大廳中斷線立即移除
func TestDisconnect_Lobby(t *testing.T) {
	h := newHarness(t, nil)
	code, ids := h.createRoom(t, 5, "bob")

	require.NoError(t, h.svc.Disconnect(context.Background(), code, ids[1]))

	r := h.room(t, code)
	assert.Len(t, r.Players, 1)
	assert.Equal(t, 1, h.bus.count(game.EventPlayerLeft))
	assert.Zero(t, h.bus.count(game.EventPlayerDisconnected))
}

// TestDisconnect_ReconnectWithinGrace 寬限期內重新連線恢復原本狀態
func TestDisconnect_ReconnectWithinGrace(t *testing.T) {
	h := newHarness(t, func(g *config.Game) { g.DisconnectGrace = 2 * time.Second })
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	r := h.startGame(t, code, ids[0])

	h.typeSentence(t, code, ids[0], r.Sentences[0][:2])
	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.room(t, code).Players[ids[0]].TotalCorrectChars == 2
	}, "keystrokes should apply")

	require.NoError(t, h.svc.Disconnect(ctx, code, ids[0]))
	p := h.room(t, code).Players[ids[0]]
	assert.Equal(t, room.PlayerDisconnected, p.Status)
	assert.True(t, p.GracePeriodActive)
	assert.False(t, h.bus.isMember(code, ids[0]))

	disc := h.bus.named(game.EventPlayerDisconnected)
	require.Len(t, disc, 1)
	assert.Equal(t, p.DisconnectedAt+2000, disc[0].Payload.(game.PlayerDisconnected).GracePeriodEnd)

	// 重複的斷線通知沒有效果
	require.NoError(t, h.svc.Disconnect(ctx, code, ids[0]))
	assert.Equal(t, 1, h.bus.count(game.EventPlayerDisconnected))

	res, err := h.svc.ReconnectPlayer(ctx, game.ReconnectInput{RoomCode: code, PlayerID: ids[0], ConnID: "conn-new"})
	require.NoError(t, err)
	assert.Equal(t, room.RolePlayer, res.Role)

	p = h.room(t, code).Players[ids[0]]
	assert.Equal(t, room.PlayerAlive, p.Status)
	assert.Equal(t, 2, p.TotalCorrectChars)
	assert.Equal(t, "conn-new", p.ConnectionID)
	assert.Zero(t, p.DisconnectedAt)
	assert.True(t, h.bus.isMember(code, ids[0]))

	assert.Equal(t, 1, h.bus.count(game.EventPlayerReconnected))
	syncs := h.bus.named(game.EventSyncGameState)
	require.Len(t, syncs, 1)
	assert.Equal(t, ids[0], syncs[0].To)

	// 已經存活時不能再次重連
	_, err = h.svc.ReconnectPlayer(ctx, game.ReconnectInput{RoomCode: code, PlayerID: ids[0]})
	assert.True(t, apperrors.IsValidation(err))
}

// TestDisconnect_GraceExpiry 寬限期結束後移除玩家並轉移房主
func TestDisconnect_GraceExpiry(t *testing.T) {
	h := newHarness(t, nil)
	code, ids := h.createRoom(t, 5, "bob")
	h.startGame(t, code, ids[0])

	require.NoError(t, h.svc.Disconnect(context.Background(), code, ids[0]))

	testutils.WaitForCondition(t, time.Second, func() bool {
		return len(h.room(t, code).Players) == 1
	}, "disconnected host should be removed")

	r := h.room(t, code)
	assert.Equal(t, ids[1], r.HostID)
	assert.Equal(t, room.StatusPlaying, r.Status)

	left := h.bus.named(game.EventPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, ids[1], left[0].Payload.(game.PlayerLeft).NewHostID)
}

// TestDisconnect_LastAliveEndsRound 最後一位存活玩家寬限期到期時回合結束
func TestDisconnect_LastAliveEndsRound(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.SetRoller(room.RollerFunc(func(int) int { return 1 }))
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	h.startGame(t, code, ids[0])

	require.NoError(t, h.svc.SentenceTimeout(ctx, game.TimeoutInput{RoomCode: code, PlayerID: ids[1]}))
	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventPlayerDied) == 1
	}, "bob should die")

	require.NoError(t, h.svc.Disconnect(ctx, code, ids[0]))
	testutils.WaitForCondition(t, time.Second, func() bool {
		return h.bus.count(game.EventGameEnded) == 1
	}, "round should end once no one is alive")

	r := h.room(t, code)
	assert.Equal(t, room.StatusFinished, r.Status)
	assert.Equal(t, ids[1], r.HostID)
	assert.Equal(t, ids[1], r.WinnerID)
}

// TestReconnect_AfterGrace 寬限期過後的重連被拒絕
func TestReconnect_AfterGrace(t *testing.T) {
	h := newHarness(t, func(g *config.Game) { g.DisconnectGrace = 2 * time.Second })
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	h.startGame(t, code, ids[0])

	require.NoError(t, h.svc.Disconnect(ctx, code, ids[1]))
	h.advance(3 * time.Second)

	_, err := h.svc.ReconnectPlayer(ctx, game.ReconnectInput{RoomCode: code, PlayerID: ids[1]})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	r := h.room(t, code)
	assert.NotContains(t, r.Players, ids[1])
}

// TestReconnect_Validation 測試重連參數
func TestReconnect_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, _ := h.createRoom(t, 5)

	_, err := h.svc.ReconnectPlayer(ctx, game.ReconnectInput{RoomCode: code, PlayerID: "not-a-uuid"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.svc.ReconnectPlayer(ctx, game.ReconnectInput{RoomCode: code, PlayerID: "7f0c1a52-6a43-4c1e-9a3f-0d6e5b0f2a11"})
	assert.True(t, apperrors.IsNotFound(err))
}

// TestForceReset 強制重置並將觀戰者升為玩家
func TestForceReset(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")

	_, err := h.svc.ForceReset(ctx, code, ids[0])
	assert.True(t, apperrors.IsValidation(err), "lobby cannot be reset")

	h.startGame(t, code, ids[0])
	watcher, err := h.svc.AddPlayer(ctx, game.JoinInput{RoomCode: code, Nickname: "watcher"})
	require.NoError(t, err)

	_, err = h.svc.ForceReset(ctx, code, ids[1])
	assert.ErrorIs(t, err, apperrors.ErrNotHost)

	r, err := h.svc.ForceReset(ctx, code, ids[0])
	require.NoError(t, err)
	assert.Equal(t, room.StatusLobby, r.Status)
	assert.Empty(t, r.Spectators)
	require.Len(t, r.Players, 3)
	assert.Equal(t, room.PlayerAlive, r.Players[watcher.PlayerID].Status)
	assert.Empty(t, r.Sentences)

	resets := h.bus.named(game.EventGameForceReset)
	require.Len(t, resets, 1)
	assert.Equal(t, room.StatusLobby, resets[0].Payload.(game.RoomReset).Room.Status)
}

// TestForceReset_CancelsCountdown 倒數中重置後不會開始遊戲
func TestForceReset_CancelsCountdown(t *testing.T) {
	h := newHarness(t, func(g *config.Game) { g.Countdown = 100 * time.Millisecond })
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)

	require.NoError(t, h.svc.StartGame(ctx, code, ids[0]))
	_, err := h.svc.ForceReset(ctx, code, ids[0])
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, room.StatusLobby, h.room(t, code).Status)
	assert.Zero(t, h.bus.count(game.EventGameStart))
}

// TestRequestReplay 只有回合結束後才能重玩
func TestRequestReplay(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)
	r := h.startGame(t, code, ids[0])

	_, err := h.svc.RequestReplay(ctx, code, ids[0])
	assert.True(t, apperrors.IsValidation(err))

	for _, words := range r.Sentences {
		h.typeSentence(t, code, ids[0], words)
	}
	testutils.WaitForCondition(t, 2*time.Second, func() bool {
		return h.room(t, code).Status == room.StatusFinished
	}, "round should finish")

	r, err = h.svc.RequestReplay(ctx, code, ids[0])
	require.NoError(t, err)
	assert.Equal(t, room.StatusLobby, r.Status)
	assert.Empty(t, r.WinnerID)
	assert.Zero(t, r.Players[ids[0]].CompletedSentences)
	assert.Equal(t, 1, h.bus.count(game.EventReplayStarted))

	// 可以開始下一局
	h.startGame(t, code, ids[0])
}

// TestCleanupInactiveRooms 刪除閒置房間並釋放配額
func TestCleanupInactiveRooms(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stale, _ := h.createRoom(t, 5)

	h.advance(2 * h.cfg.InactiveAfter)
	fresh, _ := h.createRoom(t, 5)

	n, err := h.svc.CleanupInactiveRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := h.store.Exists(ctx, stale)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = h.store.Exists(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, exists)

	global, err := h.store.GlobalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), global)
}

// TestRateLimit 超過限制的事件被丟棄
func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(g *config.Game) {
		g.RateLimitEvents = 3
		g.RateLimitWindow = time.Minute
	})
	ctx := context.Background()
	code, ids := h.createRoom(t, 5)

	for range 3 {
		require.NoError(t, h.svc.CharTyped(ctx, game.CharInput{RoomCode: code, PlayerID: ids[0], Char: "a"}))
	}
	err := h.svc.CharTyped(ctx, game.CharInput{RoomCode: code, PlayerID: ids[0], Char: "a"})
	assert.ErrorIs(t, err, game.ErrRateLimited)

	// 其他玩家不受影響
	err = h.svc.Mistype(ctx, game.MistypeInput{RoomCode: code, PlayerID: "someone-else"})
	assert.NoError(t, err)
}

// TestStats 測試執行狀態
func TestStats(t *testing.T) {
	h := newHarness(t, func(g *config.Game) { g.DisconnectGrace = time.Minute })
	ctx := context.Background()
	code, ids := h.createRoom(t, 5, "bob")
	h.createRoom(t, 5)
	h.startGame(t, code, ids[0])
	require.NoError(t, h.svc.Disconnect(ctx, code, ids[1]))

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveRooms)
	assert.Equal(t, int64(2), stats.GlobalRooms)
	assert.Equal(t, 1, stats.PendingTimers)
}
