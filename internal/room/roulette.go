package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// MinOdds 輪盤賠率下限
const MinOdds = 2

// Roller 在 [1, odds] 中均勻抽取一個數字
type Roller interface {
	Roll(odds int) int
}

// CryptoRoller 使用 crypto/rand 的 Roller
type CryptoRoller struct{}

// Roll 實現 Roller
func (CryptoRoller) Roll(odds int) int {
	if odds < 1 {
		return 1
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(odds)))
	if err != nil {
		// 熵來源失敗時不懲罰玩家
		return odds
	}
	return int(n.Int64()) + 1
}

// RollerFunc 將函數轉為 Roller
type RollerFunc func(odds int) int

// Roll 實現 Roller
func (f RollerFunc) Roll(odds int) int { return f(odds) }

// StrikeResult mistype 之後的狀態
type StrikeResult struct {
	// 持久化後的警告數，永遠小於 maxStrikes
	Strikes int
	// 是否達到上限，需要立即轉輪盤
	RollTriggered bool
}

// RecordStrike 記錄一次打錯
//
// 本次嘗試重置；警告數到達 maxStrikes 時歸零並要求轉輪盤。
func (p *Player) RecordStrike(maxStrikes int, now time.Time) StrikeResult {
	p.ResetAttempt(now.UnixMilli())
	p.MistakeStrikes++
	p.TotalMistypes++

	if p.MistakeStrikes >= maxStrikes {
		p.MistakeStrikes = 0
		return StrikeResult{Strikes: 0, RollTriggered: true}
	}
	return StrikeResult{Strikes: p.MistakeStrikes}
}

// RollOutcome 一次輪盤結果
type RollOutcome struct {
	Roll         int
	PreviousOdds int
	NewOdds      int
	Survived     bool
}

// SpinRoulette 轉一次輪盤
//
// 抽到 1 即陣亡；存活時賠率減一（不低於 MinOdds）。
// 每次結果都寫入 RouletteHistory，狀態變為 DEAD 由呼叫者延遲執行。
func (p *Player) SpinRoulette(roller Roller, sentenceIndex int, now time.Time) RollOutcome {
	odds := max(p.RouletteOdds, MinOdds)
	roll := roller.Roll(odds)
	if roll < 1 || roll > odds {
		roll = max(1, min(roll, odds))
	}
	survived := roll > 1

	p.RouletteHistory = append(p.RouletteHistory, RouletteEntry{
		SentenceIndex: sentenceIndex,
		Odds:          fmt.Sprintf("1/%d", odds),
		Survived:      survived,
		Roll:          roll,
		Timestamp:     now.UnixMilli(),
	})

	out := RollOutcome{Roll: roll, PreviousOdds: odds, NewOdds: odds, Survived: survived}
	if survived {
		p.RouletteOdds = max(MinOdds, odds-1)
		out.NewOdds = p.RouletteOdds
	}
	return out
}
