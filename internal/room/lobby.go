package room

import "time"

// StartCountdown 進入倒數並為所有玩家準備新回合
//
// 句子在倒數開始時就寫入快照，第一句的計時從倒數結束開始。
func (r *Room) StartCountdown(sentences [][]string, odds int, countdown time.Duration, now time.Time) {
	start := now.Add(countdown).UnixMilli()

	r.Status = StatusCountdown
	r.Sentences = sentences
	r.GameStartedAt = 0
	r.WinnerID = ""
	for _, p := range r.Players {
		p.ResetForRound(odds, start)
	}
	r.Touch(now)
}

// BeginPlaying 倒數結束，正式開始
func (r *Room) BeginPlaying(now time.Time) {
	ms := now.UnixMilli()
	r.Status = StatusPlaying
	r.GameStartedAt = ms
	for _, p := range r.Players {
		if p.Status == PlayerAlive {
			p.SentenceStartTime = ms
		}
	}
	r.LastActivity = ms
}

// ResetToLobby 回到大廳
//
// 斷線中的玩家被移除，觀戰者在容量允許時升為玩家，
// 其餘玩家重置成績。返回被移除的玩家 ID。
func (r *Room) ResetToLobby(maxPlayers, odds int, now time.Time) []string {
	var dropped []string
	for id, p := range r.Players {
		if p.Status == PlayerDisconnected {
			delete(r.Players, id)
			dropped = append(dropped, id)
		}
	}

	ms := now.UnixMilli()
	remaining := r.Spectators[:0]
	for _, s := range r.Spectators {
		if _, exists := r.Players[s.ID]; exists {
			continue
		}
		if len(r.Players) >= maxPlayers {
			remaining = append(remaining, s)
			continue
		}
		r.Players[s.ID] = NewPlayer(s.ID, s.Nickname, s.IPHash, odds, now)
	}
	r.Spectators = remaining
	if r.Spectators == nil {
		r.Spectators = []Spectator{}
	}

	for _, p := range r.Players {
		p.ResetForRound(odds, ms)
	}

	if _, ok := r.Players[r.HostID]; !ok {
		r.HostID = r.earliestPlayer()
	}

	r.Status = StatusLobby
	r.Sentences = [][]string{}
	r.GameStartedAt = 0
	r.WinnerID = ""
	r.LastActivity = ms

	return dropped
}
