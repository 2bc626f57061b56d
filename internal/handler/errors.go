package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/heartrisk/internal/middleware"
	"github.com/hitoshi/heartrisk/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}

// maxRequestBodySize はリクエストボディの最大サイズ（64KB）。
const maxRequestBodySize = 64 << 10

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 認証プロバイダーとデータAPIのメッセージはそのままユーザーに表示する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		middleware.WriteAuthError(w, authErr)
		return
	}

	var dataErr *model.DataError
	if errors.As(err, &dataErr) {
		slog.Warn("data request failed",
			slog.Int("status", dataErr.Status),
			slog.String("code", dataErr.Code),
			slog.String("error", dataErr.Message),
		)
		middleware.WriteDataError(w, dataErr)
		return
	}

	// 上記以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNoUserLoggedIn:
		return http.StatusUnauthorized
	case model.ErrCodeValidation, model.ErrCodeInvalidAvatarURL, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodePredictionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
