package room

import "time"

// DeathReason 淘汰原因
type DeathReason string

const (
	DeathMistype DeathReason = "MISTYPE"
	DeathTimeout DeathReason = "TIMEOUT"
)

// RouletteEntry 一次輪盤結果
type RouletteEntry struct {
	SentenceIndex int    `json:"sentenceIndex"`
	Odds          string `json:"odds"`
	Survived      bool   `json:"survived"`
	Roll          int    `json:"roll"`
	Timestamp     int64  `json:"timestamp"`
}

// SentenceEntry 一個句子的結果（完成或陣亡）
type SentenceEntry struct {
	SentenceIndex int         `json:"sentenceIndex"`
	Completed     bool        `json:"completed"`
	TimeUsed      float64     `json:"timeUsed"`
	WPM           float64     `json:"wpm"`
	DeathReason   DeathReason `json:"deathReason,omitempty"`
}

// Player 玩家狀態
type Player struct {
	ID       string       `json:"id"`
	Nickname string       `json:"nickname"`
	IsGuest  bool         `json:"isGuest"`
	Status   PlayerStatus `json:"status"`
	JoinedAt int64        `json:"joinedAt"`

	// 進度游標：伺服器持有的權威位置
	CurrentSentenceIndex int `json:"currentSentenceIndex"`
	CurrentWordIndex     int `json:"currentWordIndex"`
	CurrentCharInWord    int `json:"currentCharInWord"`
	CurrentCharIndex     int `json:"currentCharIndex"`

	CompletedSentences int     `json:"completedSentences"`
	TotalCorrectChars  int     `json:"totalCorrectChars"`
	TotalTypedChars    int     `json:"totalTypedChars"`
	TotalMistypes      int     `json:"totalMistypes"`
	AverageWPM         float64 `json:"averageWPM"`
	PeakWPM            float64 `json:"peakWPM"`
	CurrentSessionWPM  float64 `json:"currentSessionWPM"`

	RouletteOdds    int             `json:"rouletteOdds"`
	MistakeStrikes  int             `json:"mistakeStrikes"`
	RouletteHistory []RouletteEntry `json:"rouletteHistory"`
	SentenceHistory []SentenceEntry `json:"sentenceHistory"`

	ConnectionID      string `json:"connectionId,omitempty"`
	IPHash            string `json:"ipHash,omitempty"`
	SentenceStartTime int64  `json:"sentenceStartTime"`
	DisconnectedAt    int64  `json:"disconnectedAt,omitempty"`
	SentenceCharCount int    `json:"sentenceCharCount"`
	GracePeriodActive bool   `json:"gracePeriodActive"`

	// 輪盤已判定陣亡、等待動畫結束的原因
	PendingDeath DeathReason `json:"pendingDeath,omitempty"`
}

// NewPlayer 建立大廳狀態的玩家
func NewPlayer(id, nickname, ipHash string, odds int, now time.Time) *Player {
	p := &Player{
		ID:       id,
		Nickname: nickname,
		IsGuest:  true,
		IPHash:   ipHash,
		JoinedAt: now.UnixMilli(),
	}
	p.ResetForRound(odds, now.UnixMilli())
	return p
}

// ResetForRound 回到新回合開始前的狀態
func (p *Player) ResetForRound(odds int, sentenceStart int64) {
	p.Status = PlayerAlive
	p.CurrentSentenceIndex = 0
	p.CurrentWordIndex = 0
	p.CurrentCharInWord = 0
	p.CurrentCharIndex = 0
	p.CompletedSentences = 0
	p.TotalCorrectChars = 0
	p.TotalTypedChars = 0
	p.TotalMistypes = 0
	p.AverageWPM = 0
	p.PeakWPM = 0
	p.CurrentSessionWPM = 0
	p.RouletteOdds = odds
	p.MistakeStrikes = 0
	p.RouletteHistory = []RouletteEntry{}
	p.SentenceHistory = []SentenceEntry{}
	p.SentenceStartTime = sentenceStart
	p.DisconnectedAt = 0
	p.SentenceCharCount = 0
	p.GracePeriodActive = false
	p.PendingDeath = ""
}

// ResetAttempt 放棄目前句子的嘗試
//
// 回滾本次嘗試已計入的正確字元，游標歸零並設定新的起始時間。
func (p *Player) ResetAttempt(sentenceStart int64) {
	if p.SentenceCharCount > 0 {
		p.TotalCorrectChars = max(0, p.TotalCorrectChars-p.SentenceCharCount)
	}
	p.SentenceCharCount = 0
	p.CurrentWordIndex = 0
	p.CurrentCharInWord = 0
	p.CurrentCharIndex = 0
	p.CurrentSessionWPM = 0
	p.SentenceStartTime = sentenceStart
}

// Disconnect 標記斷線
func (p *Player) Disconnect(now time.Time) {
	p.Status = PlayerDisconnected
	p.DisconnectedAt = now.UnixMilli()
	p.GracePeriodActive = true
	p.ConnectionID = ""
}

// Reconnect 恢復為存活並綁定新連接
func (p *Player) Reconnect(connID string) {
	p.Status = PlayerAlive
	p.DisconnectedAt = 0
	p.GracePeriodActive = false
	p.ConnectionID = connID
}

// Playable 存活且沒有等待中的陣亡
func (p *Player) Playable() bool {
	return p.Status == PlayerAlive && p.PendingDeath == ""
}

// Kill 標記陣亡並記錄句子結果
func (p *Player) Kill(reason DeathReason, timeUsed float64) {
	p.Status = PlayerDead
	p.PendingDeath = ""
	p.SentenceHistory = append(p.SentenceHistory, SentenceEntry{
		SentenceIndex: p.CurrentSentenceIndex,
		Completed:     false,
		TimeUsed:      timeUsed,
		DeathReason:   reason,
	})
}

// Progress 廣播用的進度摘要
type Progress struct {
	PlayerID             string       `json:"playerId"`
	Status               PlayerStatus `json:"status"`
	CurrentSentenceIndex int          `json:"currentSentenceIndex"`
	CurrentWordIndex     int          `json:"currentWordIndex"`
	CurrentCharInWord    int          `json:"currentCharInWord"`
	CurrentCharIndex     int          `json:"currentCharIndex"`
	CompletedSentences   int          `json:"completedSentences"`
	TotalCorrectChars    int          `json:"totalCorrectChars"`
	TotalTypedChars      int          `json:"totalTypedChars"`
	TotalMistypes        int          `json:"totalMistypes"`
	AverageWPM           float64      `json:"averageWPM"`
	PeakWPM              float64      `json:"peakWPM"`
	CurrentSessionWPM    float64      `json:"currentSessionWPM"`
	RouletteOdds         int          `json:"rouletteOdds"`
	MistakeStrikes       int          `json:"mistakeStrikes"`
	SentenceStartTime    int64        `json:"sentenceStartTime"`
}

// Progress 取得進度摘要
func (p *Player) Progress() Progress {
	return Progress{
		PlayerID:             p.ID,
		Status:               p.Status,
		CurrentSentenceIndex: p.CurrentSentenceIndex,
		CurrentWordIndex:     p.CurrentWordIndex,
		CurrentCharInWord:    p.CurrentCharInWord,
		CurrentCharIndex:     p.CurrentCharIndex,
		CompletedSentences:   p.CompletedSentences,
		TotalCorrectChars:    p.TotalCorrectChars,
		TotalTypedChars:      p.TotalTypedChars,
		TotalMistypes:        p.TotalMistypes,
		AverageWPM:           p.AverageWPM,
		PeakWPM:              p.PeakWPM,
		CurrentSessionWPM:    p.CurrentSessionWPM,
		RouletteOdds:         p.RouletteOdds,
		MistakeStrikes:       p.MistakeStrikes,
		SentenceStartTime:    p.SentenceStartTime,
	}
}
