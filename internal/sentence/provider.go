// Package sentence 提供每局遊戲的句子來源
//
// 句子限制：5 到 10 個單字、最多 100 字元、只允許英數字與基本標點。
// Static 使用內建句子集；Postgres 從 sentences 資料表隨機抽樣。
package sentence

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
)

const (
	// MinWords 每句最少單字數
	MinWords = 5
	// MaxWords 每句最多單字數
	MaxWords = 10
	// MaxChars 每句最多字元數
	MaxChars = 100
)

var allowedChars = regexp.MustCompile(`^[a-zA-Z0-9\s.,!?'-]+$`)

// Provider 回傳 n 個已驗證的句子，題庫不足時返回錯誤
type Provider interface {
	Sentences(ctx context.Context, n int) ([]string, error)
}

// InsufficientError 題庫數量不足
type InsufficientError struct {
	Need int
	Have int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient sentences in pool: need %d, got %d", e.Need, e.Have)
}

// Validate 檢查句子是否符合長度與字元限制
func Validate(s string) error {
	words := strings.Fields(s)
	if len(words) < MinWords || len(words) > MaxWords {
		return fmt.Errorf("word count %d not in range [%d,%d]", len(words), MinWords, MaxWords)
	}
	if len(s) > MaxChars {
		return fmt.Errorf("sentence too long: %d chars", len(s))
	}
	if !allowedChars.MatchString(s) {
		return fmt.Errorf("sentence contains unsupported characters")
	}
	return nil
}

// Static 以固定句子集提供題目
type Static struct {
	mu   sync.Mutex
	pool []string
	rng  *rand.Rand
}

// NewStatic 建立固定題庫；不合格的句子會被略過
//
// 沒有傳入句子時使用內建句子集。
func NewStatic(sentences ...string) *Static {
	if len(sentences) == 0 {
		sentences = builtinCorpus
	}
	pool := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if Validate(s) == nil {
			pool = append(pool, s)
		}
	}
	return &Static{
		pool: pool,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Sentences 不重複地隨機抽取 n 句
func (s *Static) Sentences(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sentence count must be positive, got %d", n)
	}
	if n > len(s.pool) {
		return nil, &InsufficientError{Need: n, Have: len(s.pool)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.rng.Perm(len(s.pool))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = s.pool[j]
	}
	return out, nil
}

// Size 題庫句數
func (s *Static) Size() int {
	return len(s.pool)
}
