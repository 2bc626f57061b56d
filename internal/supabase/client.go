// Package supabase はホスト型バックエンド（認証API + データAPI）のHTTPクライアントを提供する。
// 認証はGoTrue互換の /auth/v1、データはPostgREST互換の /rest/v1 エンドポイントを使用する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/heartrisk/internal/model"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ（1MB）。
const maxResponseSize = 1 << 20

// api は呼び出し先のAPI種別。エラーの解釈とメトリクスのラベルに使用する。
type api string

const (
	apiAuth api = "auth"
	apiREST api = "rest"
)

// Recorder はバックエンド呼び出しのメトリクス記録インターフェース。
type Recorder interface {
	RecordBackendRequest(api string, status int, duration time.Duration)
}

// ClientOption はClientの設定を変更する。
type ClientOption func(*Client)

// WithRecorder はメトリクス記録先を設定する。
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}

// Client はバックエンドへのHTTP呼び出しを行う低レベルクライアント。
// すべてのリクエストにapikeyヘッダーを付与する。
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL, anonKey string, httpClient *http.Client, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: httpClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request は1回のAPI呼び出しのパラメータ。
type request struct {
	api     api
	method  string
	path    string
	query   url.Values
	token   string // 空の場合はanonKeyをBearerトークンとして使用する
	prefer  string
	body    any
	out     any
	emptyOK bool // 204などボディなしの成功を許可する
}

// do はリクエストを送信し、成功時はレスポンスをoutにデコードする。
// 4xx/5xxの場合はAPI種別に応じて*model.AuthErrorまたは*model.DataErrorを返す。
func (c *Client) do(ctx context.Context, r request) error {
	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token := r.token
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(r.api, 0, start)
		c.logger.Error("backend request failed",
			slog.String("api", string(r.api)),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()
	c.observe(r.api, resp.StatusCode, start)

	// 上限を1バイト超えて読み、切り詰めを検出する
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(payload) > maxResponseSize {
		c.logger.Error("backend response too large",
			slog.String("api", string(r.api)),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("limit_bytes", maxResponseSize),
		)
		return responseTooLarge(r.api)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("backend returned error status",
			slog.String("api", string(r.api)),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("http_status", resp.StatusCode),
		)
		if r.api == apiAuth {
			return decodeAuthError(resp.StatusCode, payload)
		}
		return decodeDataError(resp.StatusCode, payload)
	}

	if r.out == nil {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		if r.emptyOK {
			return nil
		}
		return fmt.Errorf("%s %s: empty response body", r.method, r.path)
	}
	if raw, ok := r.out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], payload...)
		return nil
	}
	if err := json.Unmarshal(payload, r.out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseTooLarge はレスポンスボディが上限を超えた場合のエラー。
func responseTooLarge(a api) error {
	msg := fmt.Sprintf("response body exceeds %d bytes", maxResponseSize)
	if a == apiAuth {
		return &model.AuthError{Status: http.StatusBadGateway, Code: "response_too_large", Message: msg}
	}
	return &model.DataError{Status: http.StatusBadGateway, Code: "response_too_large", Message: msg}
}

func (c *Client) observe(a api, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordBackendRequest(string(a), status, time.Since(start))
	}
}

// authErrorBody は認証APIのエラーレスポンス。
// バージョンによりmsg/messageまたはerror/error_descriptionのいずれかが使われる。
type authErrorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeAuthError(status int, payload []byte) *model.AuthError {
	var b authErrorBody
	_ = json.Unmarshal(payload, &b)

	e := &model.AuthError{Status: status, Code: b.ErrorCode}
	if e.Code == "" {
		e.Code = b.Error
	}
	for _, m := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// dataErrorBody はデータAPIのエラーレスポンス。
type dataErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func decodeDataError(status int, payload []byte) *model.DataError {
	var b dataErrorBody
	_ = json.Unmarshal(payload, &b)

	e := &model.DataError{
		Status:  status,
		Code:    b.Code,
		Message: b.Message,
		Details: b.Details,
		Hint:    b.Hint,
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
