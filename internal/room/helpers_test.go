package room_test

import (
	"time"

	"github.com/koopa0/type-or-die/internal/room"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// playingRoom 建立進行中的房間，玩家依序加入
func playingRoom(sentences []string, ids ...string) *room.Room {
	host := room.NewPlayer(ids[0], "host", "", 6, t0)
	r := room.New("AB3K7Q", host, room.Settings{SentenceCount: len(sentences), TimePerSentence: 20}, "", t0)
	for i, id := range ids[1:] {
		r.Players[id] = room.NewPlayer(id, id, "", 6, t0.Add(time.Duration(i+1)*time.Millisecond))
	}

	words := make([][]string, len(sentences))
	for i, s := range sentences {
		words[i] = room.SplitSentence(s)
	}
	r.StartCountdown(words, 6, 3*time.Second, t0)
	r.BeginPlaying(t0.Add(3 * time.Second))
	return r
}

// typeString 逐字輸入（略過空白），返回最後一次的結果
func typeString(r *room.Room, playerID, text string, at time.Time) room.KeystrokeResult {
	var res room.KeystrokeResult
	for _, ch := range text {
		if ch == ' ' {
			continue
		}
		res = room.ApplyKeystroke(r, playerID, string(ch), at)
	}
	return res
}
