package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/heartrisk/internal/model"
)

// NewCSRFMiddleware はクロスサイトからの状態変更リクエストを拒否するミドルウェアを返す。
// セッションはプロセス単位で保持されCookieに依存しないため、トークンではなく
// Origin（なければReferer）ヘッダーを許可オリジンと照合する。
// どちらのヘッダーもないリクエストはブラウザ以外のクライアントとみなして通過させる。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証しない。
func NewCSRFMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowed := normalizeOrigin(allowedOrigin)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin != "" && origin != allowed {
				slog.Warn("CSRF validation failed: origin mismatch",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "CSRF_REJECTED",
					Message:  "Cross-site request rejected.",
					Category: CategoryAuth,
					Action:   "Send the request from the application origin.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// requestOrigin はOriginヘッダー、なければRefererのオリジン部分を返す。
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		// プライバシー保護のため"null"が送られることがある
		if o == "null" {
			return "null"
		}
		return normalizeOrigin(o)
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		return normalizeOrigin(ref)
	}
	return ""
}

// normalizeOrigin はURLを "scheme://host[:port]" の形式に正規化する。
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
