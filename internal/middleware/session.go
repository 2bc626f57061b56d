// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/heartrisk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionState はセッションコンテナの参照に必要なインターフェース。
// session.Containerの部分集合として定義する。
type SessionState interface {
	UserID() (string, bool)
	IsLoading() bool
}

// NewSessionMiddleware はセッションコンテナの状態で保護されたルートへのアクセスを制御する
// ミドルウェアを返す。
// 初期セッションの解決中は503、未ログインの場合は401を返す。
// 認証済みの場合はユーザーIDをリクエストコンテキストに注入する。
func NewSessionMiddleware(state SessionState) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if state.IsLoading() {
				WriteSessionLoading(w)
				return
			}

			userID, ok := state.UserID()
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoUserLoggedInError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
