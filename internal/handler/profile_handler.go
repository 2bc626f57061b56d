package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/heartrisk/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
// session.Containerが実装する。
type ProfileServiceInterface interface {
	UpdateProfile(ctx context.Context, upd model.ProfileUpdate) error
	DeleteAccount(ctx context.Context) error
}

// ProfileHandler はプロフィール更新とアカウント削除のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// UpdateProfile はプロフィールを更新する。指定されなかった項目は変更しない。
// PUT /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req model.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdateProfile(r.Context(), req); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount はprofiles行を削除してサインアウトする。
// 認証アイデンティティと予測履歴は削除されない。
// DELETE /api/account
func (h *ProfileHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
