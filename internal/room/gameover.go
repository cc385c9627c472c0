package room

import (
	"cmp"
	"slices"
	"time"
)

// EndReason 回合結束原因
type EndReason string

const (
	EndAllDead    EndReason = "ALL_DEAD"
	EndCompletion EndReason = "COMPLETION"
)

// Rank 依最終成績排序玩家
//
// 1. 完成句數多者優先
// 2. 效率分數（正確字元 - 打錯次數）高者優先
// 3. 正確字元多者優先
// 4. 玩家 ID
func Rank(players map[string]*Player) []*Player {
	out := make([]*Player, 0, len(players))
	for _, p := range players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Player) int {
		if c := cmp.Compare(b.CompletedSentences, a.CompletedSentences); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Efficiency(), a.Efficiency()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TotalCorrectChars, a.TotalCorrectChars); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Efficiency 扣除打錯次數後的正確字元數
func (p *Player) Efficiency() int {
	return p.TotalCorrectChars - p.TotalMistypes
}

// CheckAllDead 沒有存活玩家時結束回合
//
// 返回勝者 ID 與回合是否結束。
func (r *Room) CheckAllDead(now time.Time) (string, bool) {
	if r.Status != StatusPlaying || r.Alive() > 0 {
		return "", false
	}

	winner := ""
	if ranked := Rank(r.Players); len(ranked) > 0 {
		winner = ranked[0].ID
	}
	r.Finish(winner, now)
	return winner, true
}

// CheckCompletion 玩家完成所有句子時以該玩家為勝者結束回合
func (r *Room) CheckCompletion(playerID string, now time.Time) bool {
	p, ok := r.Players[playerID]
	if !ok || r.Status != StatusPlaying {
		return false
	}
	if p.CompletedSentences < r.Settings.SentenceCount {
		return false
	}
	r.Finish(playerID, now)
	return true
}

// Finish 將房間標記為結束
func (r *Room) Finish(winnerID string, now time.Time) {
	r.Status = StatusFinished
	r.WinnerID = winnerID
	r.Touch(now)
}

// FinalStats 每位玩家的最終狀態
func (r *Room) FinalStats() map[string]Player {
	out := make(map[string]Player, len(r.Players))
	for id, p := range r.Players {
		out[id] = *p
	}
	return out
}
