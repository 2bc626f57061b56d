package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/hitoshi/heartrisk/internal/supabase"
)

// newPredictionRow は挿入時のJSON表現。idとcreated_atはサーバー側で採番する。
type newPredictionRow struct {
	UserID        string                 `json:"user_id"`
	InputFeatures model.InputFeatures    `json:"input_features"`
	Result        model.PredictionResult `json:"result"`
}

// predictionRow はpredictionsテーブルのJSON表現。
type predictionRow struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	CreatedAt     time.Time              `json:"created_at"`
	InputFeatures model.InputFeatures    `json:"input_features"`
	Result        model.PredictionResult `json:"result"`
}

func (p predictionRow) toRecord() *model.PredictionRecord {
	return &model.PredictionRecord{
		ID:            p.ID,
		UserID:        p.UserID,
		CreatedAt:     p.CreatedAt,
		InputFeatures: p.InputFeatures,
		Result:        p.Result,
	}
}

// idRow は削除結果から件数を数えるための最小表現。
type idRow struct {
	ID string `json:"id"`
}

// RESTPredictionRepo はデータAPI経由の予測リポジトリ。
type RESTPredictionRepo struct {
	rest *supabase.REST
}

// NewRESTPredictionRepo はRESTPredictionRepoを生成する。
func NewRESTPredictionRepo(rest *supabase.REST) *RESTPredictionRepo {
	return &RESTPredictionRepo{rest: rest}
}

// Create は予測を1件挿入し、採番されたidとcreated_atをrecordに設定する。
func (r *RESTPredictionRepo) Create(ctx context.Context, record *model.PredictionRecord) error {
	var rows []predictionRow
	err := r.rest.Insert(ctx, TablePredictions, newPredictionRow{
		UserID:        record.UserID,
		InputFeatures: record.InputFeatures,
		Result:        record.Result,
	}, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("failed to insert prediction: no row returned")
	}

	record.ID = rows[0].ID
	record.CreatedAt = rows[0].CreatedAt
	return nil
}

// ListByUserID は指定ユーザーの予測をcreated_at降順で返す。
func (r *RESTPredictionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PredictionRecord, error) {
	var rows []predictionRow
	if err := r.rest.Select(ctx, TablePredictions, supabase.Filter("user_id", userID), "created_at.desc,id.desc", &rows); err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	records := make([]*model.PredictionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// DeleteByID は指定ユーザーが所有する予測を1件削除する。
// 削除された行が返らない場合はPREDICTION_NOT_FOUNDとする。
func (r *RESTPredictionRepo) DeleteByID(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return model.NewPredictionNotFoundError(id)
	}

	var rows []idRow
	if err := r.rest.Delete(ctx, TablePredictions, supabase.Filter("id", id, "user_id", userID), &rows); err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	if len(rows) == 0 {
		return model.NewPredictionNotFoundError(id)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの予測をすべて削除し、削除件数を返す。
func (r *RESTPredictionRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	var rows []idRow
	if err := r.rest.Delete(ctx, TablePredictions, supabase.Filter("user_id", userID), &rows); err != nil {
		return 0, fmt.Errorf("failed to clear predictions: %w", err)
	}
	return int64(len(rows)), nil
}

// compile-time interface check
var _ PredictionRepository = (*RESTPredictionRepo)(nil)
