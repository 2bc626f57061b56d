// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, data, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNoUserLoggedIn     = "NO_USER_LOGGED_IN"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodePredictionNotFound = "PREDICTION_NOT_FOUND"
	ErrCodeInvalidAvatarURL   = "INVALID_AVATAR_URL"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// NewNoUserLoggedInError はセッションが存在しない状態で
// アイデンティティに紐づく操作を呼び出した場合のエラーを生成する。
func NewNoUserLoggedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNoUserLoggedIn,
		Message:  "No user logged in",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewValidationError はフォーム入力の検証エラーを生成する。
// messageはそのままユーザーに表示される。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Correct the highlighted field and submit again.",
	}
}

// NewPredictionNotFoundError は削除対象の予測が見つからない場合のエラーを生成する。
func NewPredictionNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodePredictionNotFound,
		Message:  fmt.Sprintf("prediction not found: %s", id),
		Category: "data",
		Action:   "Reload the history and try again.",
	}
}

// NewInvalidAvatarURLError はアバターURLが不正な場合のエラーを生成する。
func NewInvalidAvatarURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAvatarURL,
		Message:  fmt.Sprintf("invalid avatar URL: %s", reason),
		Category: "validation",
		Action:   "Use a public http:// or https:// image URL.",
	}
}

// NewInvalidRequestError はリクエストボディが解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request body.",
	}
}

// AuthError は認証プロバイダーが返した失敗をそのまま保持する。
// 不正な資格情報、重複登録、弱いパスワード、レート制限などが該当する。
type AuthError struct {
	Status  int
	Code    string
	Message string
}

// Error はプロバイダーのメッセージをそのまま返す。
func (e *AuthError) Error() string {
	return e.Message
}

// DataError はデータAPIが返した失敗をそのまま保持する。
// クエリ失敗、制約違反などが該当する。
type DataError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

// Error はデータAPIのメッセージをそのまま返す。
func (e *DataError) Error() string {
	return e.Message
}
