// Package prediction は予測フォームの検証と、predictionsテーブルへのデータアクセス操作を提供する。
// すべての操作は呼び出し元が指定したユーザーIDでスコープされ、リトライは行わない。
package prediction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/hitoshi/heartrisk/internal/repository"
)

// Recorder は予測操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordPredictionSaved(level model.RiskLevel)
	RecordValidationFailure()
}

// Service は予測のデータアクセス操作を提供する。
type Service struct {
	repo     repository.PredictionRepository
	scorer   Scorer
	recorder Recorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(repo repository.PredictionRepository, scorer Scorer, recorder Recorder) *Service {
	if scorer == nil {
		scorer = RandomScorer{}
	}
	return &Service{
		repo:     repo,
		scorer:   scorer,
		recorder: recorder,
	}
}

// ListPredictions は指定ユーザーの予測をcreated_at降順で返す。
// 0件の場合、またはセッションがない（userIDが空）場合は空スライスを返す。
func (s *Service) ListPredictions(ctx context.Context, userID string) ([]*model.PredictionRecord, error) {
	if userID == "" {
		return []*model.PredictionRecord{}, nil
	}

	records, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	if records == nil {
		records = []*model.PredictionRecord{}
	}
	return records, nil
}

// SavePrediction は予測を1件保存し、サーバー側で採番されたIDと作成日時を含むレコードを返す。
func (s *Service) SavePrediction(ctx context.Context, userID string, features model.InputFeatures, result model.PredictionResult) (*model.PredictionRecord, error) {
	if userID == "" {
		return nil, model.NewNoUserLoggedInError()
	}

	record := &model.PredictionRecord{
		UserID:        userID,
		InputFeatures: features,
		Result:        result,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save prediction: %w", err)
	}

	level := model.ClassifyRisk(result.Probability)
	if s.recorder != nil {
		s.recorder.RecordPredictionSaved(level)
	}
	slog.Info("prediction saved",
		slog.String("user_id", userID),
		slog.String("prediction_id", record.ID),
		slog.String("risk_level", string(level)),
	)
	return record, nil
}

// DeletePrediction は指定ユーザーが所有する予測を1件削除する。
// 存在しない場合はPREDICTION_NOT_FOUNDエラーを返し、他のレコードには影響しない。
func (s *Service) DeletePrediction(ctx context.Context, userID, id string) error {
	if userID == "" {
		return model.NewNoUserLoggedInError()
	}
	if id == "" {
		return model.NewPredictionNotFoundError(id)
	}

	if err := s.repo.DeleteByID(ctx, userID, id); err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}

	slog.Info("prediction deleted",
		slog.String("user_id", userID),
		slog.String("prediction_id", id),
	)
	return nil
}

// ClearPredictions は指定ユーザーの予測をすべて削除する。0件でも成功とする。
func (s *Service) ClearPredictions(ctx context.Context, userID string) error {
	if userID == "" {
		return model.NewNoUserLoggedInError()
	}

	n, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to clear predictions: %w", err)
	}

	slog.Info("prediction history cleared",
		slog.String("user_id", userID),
		slog.Int64("deleted", n),
	)
	return nil
}

// Submit はフォーム入力を検証し、リスク確率を算出して保存する。
// 検証はネットワーク呼び出しより前に行う。
func (s *Service) Submit(ctx context.Context, userID string, features model.InputFeatures) (*model.PredictionRecord, error) {
	if err := Validate(features); err != nil {
		if s.recorder != nil {
			s.recorder.RecordValidationFailure()
		}
		return nil, err
	}
	if userID == "" {
		return nil, model.NewNoUserLoggedInError()
	}

	probability, err := s.scorer.Score(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("failed to score prediction: %w", err)
	}

	return s.SavePrediction(ctx, userID, features, model.PredictionResult{Probability: probability})
}
