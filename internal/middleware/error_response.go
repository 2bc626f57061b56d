package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/heartrisk/internal/model"
)

// エラーの原因カテゴリ。UIは表示の出し分けに使用する。
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryData       = "data"
	CategorySystem     = "system"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: CategorySystem,
		Action:   "Please wait a moment and try again.",
	})
}

// WriteSessionLoading は初期セッションの解決中であることを503で返す。
func WriteSessionLoading(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
		Code:     "SESSION_LOADING",
		Message:  "Session is still loading.",
		Category: CategorySystem,
		Action:   "Retry in a moment.",
	})
}

// WriteAuthError は認証プロバイダーのエラーをメッセージを変えずに返す。
// コードは "AUTH_" + プロバイダーのエラーコード（大文字）になる。
func WriteAuthError(w http.ResponseWriter, authErr *model.AuthError) {
	action := "Check your credentials and try again."
	if authErr.Status == http.StatusTooManyRequests {
		action = "Too many attempts. Wait a moment and try again."
	}
	WriteErrorResponse(w, upstreamStatus(authErr.Status, http.StatusBadRequest), &model.APIError{
		Code:     authErrorCode(authErr),
		Message:  authErr.Message,
		Category: CategoryAuth,
		Action:   action,
	})
}

// WriteDataError はデータAPIのエラーをメッセージを変えずに返す。
// 行レベルセキュリティによる拒否はセッションの不整合として案内する。
func WriteDataError(w http.ResponseWriter, dataErr *model.DataError) {
	action := "Please try again."
	if dataErr.Status == http.StatusUnauthorized || dataErr.Status == http.StatusForbidden {
		action = "Sign out and sign in again."
	}
	WriteErrorResponse(w, upstreamStatus(dataErr.Status, http.StatusInternalServerError), &model.APIError{
		Code:     "DATA_ERROR",
		Message:  dataErr.Message,
		Category: CategoryData,
		Action:   action,
	})
}

// upstreamStatus は外部APIのステータスをクライアントに返すステータスに変換する。
// 5xxは上流の障害として502にまとめる。
func upstreamStatus(status, fallback int) int {
	switch {
	case status >= 500:
		return http.StatusBadGateway
	case status >= 400:
		return status
	default:
		return fallback
	}
}

func authErrorCode(e *model.AuthError) string {
	if e.Code != "" {
		return "AUTH_" + upperSnake(e.Code)
	}
	return "AUTH_ERROR"
}

var codeReplacer = strings.NewReplacer("-", "_", " ", "_")

// upperSnake は "invalid_credentials" を "INVALID_CREDENTIALS" に変換する。
func upperSnake(s string) string {
	return strings.ToUpper(codeReplacer.Replace(s))
}
