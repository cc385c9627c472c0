package room

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/type-or-die/pkg/errors"
)

const (
	// MinSentenceCount 每回合最少句數
	MinSentenceCount = 5
	// MaxSentenceCount 每回合最多句數
	MaxSentenceCount = 100
	// SentenceCountStep 設定變更時句數必須是它的倍數
	SentenceCountStep = 5
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidateRoomCode 轉為大寫後檢查格式
func ValidateRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !roomCodePattern.MatchString(code) {
		return "", apperrors.Validation("invalid room code")
	}
	return code, nil
}

// ValidateChar 必須剛好是一個字元
func ValidateChar(ch string) error {
	if utf8.RuneCountInString(ch) != 1 {
		return apperrors.Validation("char must be a single character")
	}
	return nil
}

// ValidateIndex 索引不可為負
func ValidateIndex(name string, v int) error {
	if v < 0 {
		return apperrors.Validation(fmt.Sprintf("%s must be non-negative", name))
	}
	return nil
}

// ValidateSentenceCount 檢查句數
//
// stepped 為 true 時（變更設定）還必須是 5 的倍數。
func ValidateSentenceCount(n int, stepped bool) error {
	if n < MinSentenceCount || n > MaxSentenceCount {
		return apperrors.Validation(fmt.Sprintf("sentence count must be between %d and %d", MinSentenceCount, MaxSentenceCount))
	}
	if stepped && n%SentenceCountStep != 0 {
		return apperrors.Validation(fmt.Sprintf("sentence count must be a multiple of %d", SentenceCountStep))
	}
	return nil
}

// ValidatePlayerID 必須是標準格式的 UUID
func ValidatePlayerID(id string) error {
	if len(id) != 36 {
		return apperrors.Validation("invalid player id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.Validation("invalid player id")
	}
	return nil
}
