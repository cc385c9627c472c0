package game

import "github.com/koopa0/type-or-die/internal/room"

// 伺服器送出的事件名稱
const (
	EventSyncGameState      = "sync_game_state"
	EventCountdownStart     = "countdown_start"
	EventGameStart          = "game_start"
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerReconnected  = "player_reconnected"
	EventPlayerProgress     = "player_progress"
	EventPlayerStrike       = "player_strike"
	EventRouletteResult     = "roulette_result"
	EventSentenceCompleted  = "sentence_completed"
	EventPlayerDied         = "player_died"
	EventGameEnded          = "game_ended"
	EventGameForceReset     = "game_force_reset"
	EventReplayStarted      = "replay_started"
	EventSettingsUpdated    = "settings_updated"
	EventError              = "event_error"
	EventHeartbeatAck       = "heartbeat_ack"
)

// CountdownStart 倒數開始
type CountdownStart struct {
	Sentences [][]string `json:"sentences"`
	StartTime int64      `json:"startTime"`
	// 毫秒
	Duration int64 `json:"duration"`
}

// GameStart 正式開始
type GameStart struct {
	FirstSentence []string `json:"firstSentence"`
	GameStartTime int64    `json:"gameStartTime"`
}

// PlayerJoined 有人加入
type PlayerJoined struct {
	PlayerID string         `json:"playerId"`
	Nickname string         `json:"nickname"`
	Role     room.Role      `json:"role"`
	Players  []*room.Player `json:"updatedPlayers"`
}

// PlayerLeft 有人離開或被移除
type PlayerLeft struct {
	PlayerID  string         `json:"playerId"`
	NewHostID string         `json:"newHostId"`
	Players   []*room.Player `json:"updatedPlayers"`
}

// PlayerDisconnected 玩家斷線，進入寬限期
type PlayerDisconnected struct {
	PlayerID       string         `json:"playerId"`
	GracePeriodEnd int64          `json:"gracePeriodEnd"`
	Players        []*room.Player `json:"updatedPlayers"`
}

// PlayerReconnected 玩家在寬限期內重新連線
type PlayerReconnected struct {
	PlayerID     string       `json:"playerId"`
	ResumedState *room.Player `json:"resumedState"`
}

// PlayerStrike 打錯一次
type PlayerStrike struct {
	PlayerID          string `json:"playerId"`
	Strikes           int    `json:"strikes"`
	MaxStrikes        int    `json:"maxStrikes"`
	SentenceStartTime int64  `json:"sentenceStartTime"`
	RouletteTriggered bool   `json:"rouletteTriggered"`
}

// RouletteResult 輪盤結果
type RouletteResult struct {
	PlayerID     string `json:"playerId"`
	Survived     bool   `json:"survived"`
	NewOdds      int    `json:"newOdds"`
	PreviousOdds int    `json:"previousOdds"`
	Roll         int    `json:"roll"`
}

// SentenceCompleted 完成一個句子
type SentenceCompleted struct {
	PlayerID      string  `json:"playerId"`
	SentenceIndex int     `json:"sentenceIndex"`
	TimeUsed      float64 `json:"timeUsed"`
	WPM           float64 `json:"wpm"`
}

// PlayerDied 玩家陣亡
type PlayerDied struct {
	PlayerID    string           `json:"playerId"`
	DeathReason room.DeathReason `json:"deathReason"`
}

// GameEnded 回合結束
type GameEnded struct {
	Reason     room.EndReason         `json:"reason"`
	WinnerID   string                 `json:"winnerId"`
	FinalStats map[string]room.Player `json:"finalStats"`
}

// RoomReset 強制重置或重玩後的房間
type RoomReset struct {
	Room *room.Room `json:"room"`
}

// SettingsUpdated 設定變更
type SettingsUpdated struct {
	Settings room.Settings `json:"settings"`
}

// ErrorEvent 無回呼事件的錯誤通知
type ErrorEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// HeartbeatAck 心跳回應
type HeartbeatAck struct {
	Timestamp int64 `json:"timestamp"`
}

func gameEnded(r *room.Room, reason room.EndReason) GameEnded {
	return GameEnded{Reason: reason, WinnerID: r.WinnerID, FinalStats: r.FinalStats()}
}
