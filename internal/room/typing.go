package room

import (
	"math"
	"time"
)

// Transition 按鍵轉換結果
type Transition string

const (
	// TransitionNone 無效按鍵，快照不變
	TransitionNone Transition = ""
	// TransitionMismatch 字元不符，由客戶端另行回報 mistype
	TransitionMismatch Transition = "MISMATCH"
	// TransitionCorrect 字元正確
	TransitionCorrect Transition = "CORRECT"
	// TransitionWordAdvance 完成一個單字
	TransitionWordAdvance Transition = "WORD_ADVANCE"
	// TransitionSentenceComplete 完成整個句子
	TransitionSentenceComplete Transition = "SENTENCE_COMPLETE"
)

// Mutated 快照是否被修改
func (t Transition) Mutated() bool {
	return t == TransitionCorrect || t == TransitionWordAdvance || t == TransitionSentenceComplete
}

// KeystrokeResult 單次按鍵的結果
type KeystrokeResult struct {
	Transition Transition
	Player     *Player
	// 只有 TransitionSentenceComplete 時有值
	Completed *SentenceEntry
}

// ApplyKeystroke 對快照套用一次正確按鍵
//
// 游標位置 (sentence, word, charInWord) 由伺服器持有；
// 單字之間的空白不需要輸入，單字打完即前進到下一個單字。
// 呼叫者必須保證整個讀取-修改-寫回是原子的。
func ApplyKeystroke(r *Room, playerID, ch string, now time.Time) KeystrokeResult {
	if r == nil || r.Status != StatusPlaying {
		return KeystrokeResult{}
	}
	p, ok := r.Players[playerID]
	if !ok || !p.Playable() {
		return KeystrokeResult{}
	}
	if p.CurrentSentenceIndex >= len(r.Sentences) {
		return KeystrokeResult{}
	}

	words := r.Sentences[p.CurrentSentenceIndex]
	if p.CurrentWordIndex >= len(words) {
		return KeystrokeResult{}
	}
	word := []rune(words[p.CurrentWordIndex])
	if p.CurrentCharInWord >= len(word) {
		return KeystrokeResult{}
	}

	if string(word[p.CurrentCharInWord]) != ch {
		return KeystrokeResult{Transition: TransitionMismatch, Player: p}
	}

	nowMs := now.UnixMilli()

	p.CurrentCharInWord++
	p.TotalTypedChars++
	p.TotalCorrectChars++
	p.SentenceCharCount++

	p.CurrentSessionWPM = wpm(p.SentenceCharCount, nowMs-p.SentenceStartTime)
	p.PeakWPM = math.Max(p.PeakWPM, p.CurrentSessionWPM)
	if r.GameStartedAt > 0 {
		p.AverageWPM = wpm(p.TotalCorrectChars, nowMs-r.GameStartedAt)
	}
	r.LastActivity = nowMs

	if p.CurrentCharInWord < len(word) {
		p.CurrentCharIndex = charIndex(words, p.CurrentWordIndex, p.CurrentCharInWord)
		return KeystrokeResult{Transition: TransitionCorrect, Player: p}
	}

	if p.CurrentWordIndex < len(words)-1 {
		p.CurrentWordIndex++
		p.CurrentCharInWord = 0
		p.CurrentCharIndex = charIndex(words, p.CurrentWordIndex, 0)
		return KeystrokeResult{Transition: TransitionWordAdvance, Player: p}
	}

	entry := SentenceEntry{
		SentenceIndex: p.CurrentSentenceIndex,
		Completed:     true,
		TimeUsed:      seconds(nowMs - p.SentenceStartTime),
		WPM:           p.CurrentSessionWPM,
	}
	p.SentenceHistory = append(p.SentenceHistory, entry)
	p.CompletedSentences++
	p.CurrentSentenceIndex++
	p.CurrentWordIndex = 0
	p.CurrentCharInWord = 0
	p.CurrentCharIndex = 0
	p.SentenceCharCount = 0
	p.SentenceStartTime = nowMs

	return KeystrokeResult{Transition: TransitionSentenceComplete, Player: p, Completed: &entry}
}

// charIndex 換算成包含空白的句內位置
func charIndex(words []string, wordIndex, charInWord int) int {
	idx := 0
	for i := 0; i < wordIndex && i < len(words); i++ {
		idx += len([]rune(words[i])) + 1
	}
	return idx + charInWord
}

// ExpectedCharIndex 游標對應的句內位置，用於比對客戶端回報值
func (p *Player) ExpectedCharIndex(r *Room) int {
	if p.CurrentSentenceIndex >= len(r.Sentences) {
		return 0
	}
	return charIndex(r.Sentences[p.CurrentSentenceIndex], p.CurrentWordIndex, p.CurrentCharInWord)
}

// wpm 以 5 字元為一個單字計算每分鐘字數
func wpm(chars int, elapsedMs int64) float64 {
	if elapsedMs <= 0 || chars <= 0 {
		return 0
	}
	minutes := float64(elapsedMs) / 60000
	return round2(float64(chars) / 5 / minutes)
}

func seconds(ms int64) float64 {
	if ms <= 0 {
		return 0
	}
	return round2(float64(ms) / 1000)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
