// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/heartrisk/internal/middleware"
	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/hitoshi/heartrisk/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// session.Containerが実装する。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password, displayName string) error
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context)
	Snapshot() session.Snapshot
}

// AuthHandler はサインアップ・サインイン・サインアウトとセッション参照のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse は現在のユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// sessionInfo はセッションのAPIレスポンス。トークンそのものは返さない。
type sessionInfo struct {
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// sessionResponse はセッションコンテナの状態のAPIレスポンス。
type sessionResponse struct {
	State   string        `json:"state"`
	Loading bool          `json:"loading"`
	User    *userResponse `json:"user"`
	Session *sessionInfo  `json:"session"`
}

// SignUp はアカウントを登録する。
// POST /auth/signup
// メール確認が必要な構成ではセッションは作成されず、stateはanonymousのまま返る。
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	if err := h.service.SignUp(r.Context(), req.Email, req.Password, req.FullName); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(h.service.Snapshot()))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	if err := h.service.SignIn(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(h.service.Snapshot()))
}

// SignOut はセッションを破棄する。リモートの無効化に失敗しても常に成功を返す。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のセッション状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.service.Snapshot()))
}

func toSessionResponse(s session.Snapshot) sessionResponse {
	resp := sessionResponse{
		State:   s.State.String(),
		Loading: s.Loading,
	}
	if s.User != nil {
		resp.User = &userResponse{
			ID:        s.User.ID,
			Email:     s.User.Email,
			FullName:  s.User.FullName(),
			CreatedAt: s.User.CreatedAt,
		}
	}
	if s.Session != nil {
		resp.Session = &sessionInfo{
			TokenType: s.Session.TokenType,
			ExpiresAt: s.Session.ExpiresAt,
		}
	}
	return resp
}
