package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testOrigin = "http://localhost:5173"

func TestCSRFMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		headers    map[string]string
		wantStatus int
	}{
		{name: "GETはOriginを検証しない", method: http.MethodGet, headers: map[string]string{"Origin": "https://evil.example"}, wantStatus: http.StatusOK},
		{name: "HEADはOriginを検証しない", method: http.MethodHead, headers: map[string]string{"Origin": "https://evil.example"}, wantStatus: http.StatusOK},
		{name: "OPTIONSはOriginを検証しない", method: http.MethodOptions, headers: map[string]string{"Origin": "https://evil.example"}, wantStatus: http.StatusOK},
		{name: "同一オリジンのPOSTは通過", method: http.MethodPost, headers: map[string]string{"Origin": testOrigin}, wantStatus: http.StatusOK},
		{name: "大文字小文字の違いは無視", method: http.MethodPost, headers: map[string]string{"Origin": "HTTP://LOCALHOST:5173"}, wantStatus: http.StatusOK},
		{name: "ヘッダーなしのPOSTは通過", method: http.MethodPost, wantStatus: http.StatusOK},
		{name: "別オリジンのPOSTは拒否", method: http.MethodPost, headers: map[string]string{"Origin": "https://evil.example"}, wantStatus: http.StatusForbidden},
		{name: "ポート違いは拒否", method: http.MethodDelete, headers: map[string]string{"Origin": "http://localhost:3000"}, wantStatus: http.StatusForbidden},
		{name: "nullオリジンは拒否", method: http.MethodPut, headers: map[string]string{"Origin": "null"}, wantStatus: http.StatusForbidden},
		{name: "同一オリジンのRefererは通過", method: http.MethodPost, headers: map[string]string{"Referer": testOrigin + "/predict"}, wantStatus: http.StatusOK},
		{name: "別オリジンのRefererは拒否", method: http.MethodDelete, headers: map[string]string{"Referer": "https://evil.example/page"}, wantStatus: http.StatusForbidden},
		{name: "OriginがRefererより優先", method: http.MethodPost, headers: map[string]string{"Origin": testOrigin, "Referer": "https://evil.example/"}, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := NewCSRFMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/predictions", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if handlerCalled != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handlerCalled = %v", handlerCalled)
			}
		})
	}
}
