package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/heartrisk/internal/middleware"
	"github.com/hitoshi/heartrisk/internal/model"
)

// PredictionServiceInterface は予測ハンドラーが必要とするサービスインターフェース。
type PredictionServiceInterface interface {
	Submit(ctx context.Context, userID string, features model.InputFeatures) (*model.PredictionRecord, error)
	ListPredictions(ctx context.Context, userID string) ([]*model.PredictionRecord, error)
	DeletePrediction(ctx context.Context, userID, id string) error
	ClearPredictions(ctx context.Context, userID string) error
}

// PredictionHandler は予測の登録・履歴・削除のHTTPハンドラー。
type PredictionHandler struct {
	service PredictionServiceInterface
}

// NewPredictionHandler はPredictionHandlerを生成する。
func NewPredictionHandler(service PredictionServiceInterface) *PredictionHandler {
	return &PredictionHandler{service: service}
}

// predictionResponse は予測1件のAPIレスポンス。
type predictionResponse struct {
	ID            string                 `json:"id"`
	CreatedAt     time.Time              `json:"created_at"`
	InputFeatures model.InputFeatures    `json:"input_features"`
	Result        model.PredictionResult `json:"result"`
	RiskLevel     model.RiskLevel        `json:"risk_level"`
}

// predictionListResponse は予測履歴のAPIレスポンス。
type predictionListResponse struct {
	Predictions []predictionResponse `json:"predictions"`
}

// Submit はフォーム入力を検証し、予測を算出して保存する。
// POST /api/predictions
func (h *PredictionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var features model.InputFeatures
	if !decodeJSON(w, r, &features) {
		return
	}

	record, err := h.service.Submit(r.Context(), userID, features)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPredictionResponse(record))
}

// List は予測履歴を新しい順に返す。
// GET /api/predictions
func (h *PredictionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	records, err := h.service.ListPredictions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := predictionListResponse{Predictions: make([]predictionResponse, 0, len(records))}
	for _, rec := range records {
		resp.Predictions = append(resp.Predictions, toPredictionResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete は予測を1件削除する。
// DELETE /api/predictions/{id}
func (h *PredictionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePrediction(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear は予測履歴をすべて削除する。
// DELETE /api/predictions
func (h *PredictionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearPredictions(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireUserID はコンテキストからユーザーIDを取り出す。なければ401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoUserLoggedInError())
		return "", false
	}
	return userID, true
}

func toPredictionResponse(rec *model.PredictionRecord) predictionResponse {
	return predictionResponse{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		InputFeatures: rec.InputFeatures,
		Result:        rec.Result,
		RiskLevel:     model.ClassifyRisk(rec.Result.Probability),
	}
}
