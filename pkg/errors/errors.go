// Package errors 提供遊戲引擎的錯誤分類
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeValidation 輸入格式錯誤或超出範圍
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeAuthorization 非房主執行房主操作
	ErrCodeAuthorization = "AUTHORIZATION_ERROR"
	// ErrCodeNotFound 房間或玩家不存在
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeCapacity 房間、IP 或全域配額已滿
	ErrCodeCapacity = "CAPACITY_EXCEEDED"
	// ErrCodeLockTimeout 取得房間鎖失敗
	ErrCodeLockTimeout = "LOCK_TIMEOUT"
	// ErrCodeStoreUnavailable 共享存儲不可用
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比較
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共享的，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Validation 建立驗證錯誤
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Unavailable 將存儲層錯誤包裝為 STORE_UNAVAILABLE
func Unavailable(err error, op string) *AppError {
	return Wrap(err, ErrCodeStoreUnavailable, "store unavailable: "+op)
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrPlayerNotFound 玩家不在房間中
	ErrPlayerNotFound = New(ErrCodeNotFound, "player not found")

	// ErrNotHost 只有房主可以執行
	ErrNotHost = New(ErrCodeAuthorization, "only the host can do that")

	// ErrRoomFull 房間人數已滿
	ErrRoomFull = New(ErrCodeCapacity, "room is full")

	// ErrIPQuota 同一來源建立的房間過多
	ErrIPQuota = New(ErrCodeCapacity, "too many rooms from this address")

	// ErrGlobalCapacity 伺服器房間總數已滿
	ErrGlobalCapacity = New(ErrCodeCapacity, "server is at room capacity")

	// ErrCodeExhausted 無法產生唯一房間代碼
	ErrCodeExhausted = New(ErrCodeCapacity, "could not allocate a room code")

	// ErrLockTimeout 房間忙碌中
	ErrLockTimeout = New(ErrCodeLockTimeout, "room is busy, try again")

	// ErrStoreUnavailable 存儲不可用
	ErrStoreUnavailable = New(ErrCodeStoreUnavailable, "store unavailable")
)

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsValidation 檢查是否為驗證錯誤
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsAuthorization 檢查是否為授權錯誤
func IsAuthorization(err error) bool { return hasCode(err, ErrCodeAuthorization) }

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsCapacity 檢查是否為配額錯誤
func IsCapacity(err error) bool { return hasCode(err, ErrCodeCapacity) }

// IsLockTimeout 檢查是否為取鎖超時
func IsLockTimeout(err error) bool { return hasCode(err, ErrCodeLockTimeout) }

// IsStoreUnavailable 檢查是否為存儲不可用
func IsStoreUnavailable(err error) bool { return hasCode(err, ErrCodeStoreUnavailable) }

// Message 返回可以給用戶看的簡短訊息
//
// 非 AppError 與內部錯誤一律隱藏細節。
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != ErrCodeInternal {
		return appErr.Message
	}
	return "internal error"
}
