package room

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	// CodeAlphabet 房間代碼字元集（排除 I、O、0、1 等易混淆字元）
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength 房間代碼長度
	CodeLength = 6
	// MaxNicknameLength 暱稱最大長度
	MaxNicknameLength = 20
	// DefaultNickname 空暱稱時使用
	DefaultNickname = "GUEST"
)

// GenerateCode 產生隨機房間代碼
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)
	limit := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(CodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// HashIP 對來源位址做 SHA-256，快照中不保存原始位址
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// SanitizeNickname 清理暱稱
//
// 去除首尾空白與 <>"'& 字元，合併連續空白，截斷至 20 個字元。
func SanitizeNickname(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&':
			return -1
		}
		return r
	}, raw)

	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxNicknameLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxNicknameLength]))
	}
	if cleaned == "" {
		return DefaultNickname
	}
	return cleaned
}

// SplitSentence 將句子切成單字
func SplitSentence(s string) []string {
	return strings.Fields(s)
}
