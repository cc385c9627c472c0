// Package room 定義房間快照與所有純狀態轉換
//
// 房間狀態機：
//
//	LOBBY → COUNTDOWN → PLAYING → FINISHED
//	  ↑                              │
//	  └──── replay / force reset ────┘
//
// 這裡的函數只操作記憶體中的快照，不做任何 I/O；
// 持久化與並發控制由 store 與 game 套件負責。
package room

import (
	"cmp"
	"slices"
	"time"
)

// Status 房間狀態
type Status string

const (
	StatusLobby     Status = "LOBBY"
	StatusCountdown Status = "COUNTDOWN"
	StatusPlaying   Status = "PLAYING"
	StatusFinished  Status = "FINISHED"
)

// Active 回合是否進行中
func (s Status) Active() bool {
	return s == StatusCountdown || s == StatusPlaying
}

// PlayerStatus 玩家狀態
type PlayerStatus string

const (
	PlayerAlive        PlayerStatus = "ALIVE"
	PlayerDead         PlayerStatus = "DEAD"
	PlayerDisconnected PlayerStatus = "DISCONNECTED"
)

// Role 加入房間後的身分
type Role string

const (
	RolePlayer    Role = "PLAYER"
	RoleSpectator Role = "SPECTATOR"
)

// Settings 房間設定
type Settings struct {
	SentenceCount   int `json:"sentenceCount"`
	TimePerSentence int `json:"timePerSentence"`
}

// Spectator 回合中途加入的觀戰者
type Spectator struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IPHash   string `json:"ipHash,omitempty"`
}

// Room 單一房間的完整快照
//
// 時間欄位皆為 Unix 毫秒，0 表示未設定。
type Room struct {
	RoomCode      string             `json:"roomCode"`
	HostID        string             `json:"hostId"`
	Status        Status             `json:"status"`
	CreatorIP     string             `json:"creatorIP"`
	Settings      Settings           `json:"settings"`
	Players       map[string]*Player `json:"players"`
	Spectators    []Spectator        `json:"spectators"`
	Sentences     [][]string         `json:"sentences"`
	CreatedAt     int64              `json:"createdAt"`
	GameStartedAt int64              `json:"gameStartedAt,omitempty"`
	LastActivity  int64              `json:"lastActivity"`
	WinnerID      string             `json:"winnerId,omitempty"`
}

// New 建立只有房主的新房間
func New(code string, host *Player, settings Settings, creatorIP string, now time.Time) *Room {
	ms := now.UnixMilli()
	return &Room{
		RoomCode:     code,
		HostID:       host.ID,
		Status:       StatusLobby,
		CreatorIP:    creatorIP,
		Settings:     settings,
		Players:      map[string]*Player{host.ID: host},
		Spectators:   []Spectator{},
		Sentences:    [][]string{},
		CreatedAt:    ms,
		LastActivity: ms,
	}
}

// Touch 更新最後活動時間
func (r *Room) Touch(now time.Time) {
	r.LastActivity = now.UnixMilli()
}

// IsEmpty 沒有玩家也沒有觀戰者
func (r *Room) IsEmpty() bool {
	return len(r.Players) == 0 && len(r.Spectators) == 0
}

// Player 取得玩家
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.Players[id]
	return p, ok
}

// IsSpectator 是否為觀戰者
func (r *Room) IsSpectator(id string) bool {
	return slices.ContainsFunc(r.Spectators, func(s Spectator) bool { return s.ID == id })
}

// AddSpectator 加入觀戰者（重複加入無效果）
func (r *Room) AddSpectator(s Spectator) {
	if r.IsSpectator(s.ID) {
		return
	}
	r.Spectators = append(r.Spectators, s)
}

// RemoveSpectator 移除觀戰者
func (r *Room) RemoveSpectator(id string) bool {
	before := len(r.Spectators)
	r.Spectators = slices.DeleteFunc(r.Spectators, func(s Spectator) bool { return s.ID == id })
	return len(r.Spectators) != before
}

// Alive 存活玩家數
func (r *Room) Alive() int {
	n := 0
	for _, p := range r.Players {
		if p.Status == PlayerAlive {
			n++
		}
	}
	return n
}

// RemovePlayer 移除玩家或觀戰者，必要時轉移房主
//
// 返回 (是否有移除, 新房主 ID)。房主離開且仍有玩家時，
// 房主轉移給最早加入的玩家。
func (r *Room) RemovePlayer(id string) (bool, string) {
	_, wasPlayer := r.Players[id]
	delete(r.Players, id)
	wasSpectator := r.RemoveSpectator(id)

	if !wasPlayer && !wasSpectator {
		return false, ""
	}

	if r.HostID == id || (r.HostID != "" && r.Players[r.HostID] == nil) {
		r.HostID = r.earliestPlayer()
		return true, r.HostID
	}
	return true, ""
}

// earliestPlayer 找出最早加入的玩家（同時加入時以 ID 排序）
func (r *Room) earliestPlayer() string {
	var best *Player
	for _, p := range r.Players {
		if best == nil || p.JoinedAt < best.JoinedAt || (p.JoinedAt == best.JoinedAt && p.ID < best.ID) {
			best = p
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// SortedPlayers 依加入順序返回玩家
func (r *Room) SortedPlayers() []*Player {
	out := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Player) int {
		if c := cmp.Compare(a.JoinedAt, b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
