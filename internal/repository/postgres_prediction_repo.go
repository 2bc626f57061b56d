package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/heartrisk/internal/model"
)

// PostgresPredictionRepo はPostgreSQLに直接接続する予測リポジトリ。
// input_featuresとresultはjsonbカラムに保存する。
type PostgresPredictionRepo struct {
	db *sql.DB
}

// NewPostgresPredictionRepo はPostgresPredictionRepoを生成する。
func NewPostgresPredictionRepo(db *sql.DB) *PostgresPredictionRepo {
	return &PostgresPredictionRepo{db: db}
}

// Create は予測を1件挿入し、採番されたidとcreated_atをrecordに設定する。
func (r *PostgresPredictionRepo) Create(ctx context.Context, record *model.PredictionRecord) error {
	features, err := json.Marshal(record.InputFeatures)
	if err != nil {
		return fmt.Errorf("failed to encode input features: %w", err)
	}
	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return withUserTx(ctx, r.db, record.UserID, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO predictions (user_id, input_features, result)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at`,
			record.UserID, string(features), string(result),
		).Scan(&record.ID, &record.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert prediction: %w", toDataError(err))
		}
		return nil
	})
}

// ListByUserID は指定ユーザーの予測をcreated_at降順で返す。
func (r *PostgresPredictionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PredictionRecord, error) {
	records := []*model.PredictionRecord{}

	err := withUserTx(ctx, r.db, userID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, user_id, created_at, input_features, result
			 FROM predictions
			 WHERE user_id = $1
			 ORDER BY created_at DESC`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("failed to list predictions: %w", toDataError(err))
		}
		defer rows.Close()

		for rows.Next() {
			rec := &model.PredictionRecord{}
			var features, result []byte
			if err := rows.Scan(&rec.ID, &rec.UserID, &rec.CreatedAt, &features, &result); err != nil {
				return fmt.Errorf("failed to scan prediction: %w", err)
			}
			if err := json.Unmarshal(features, &rec.InputFeatures); err != nil {
				return fmt.Errorf("failed to decode input features: %w", err)
			}
			if err := json.Unmarshal(result, &rec.Result); err != nil {
				return fmt.Errorf("failed to decode result: %w", err)
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate predictions: %w", toDataError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteByID は指定ユーザーが所有する予測を1件削除する。
func (r *PostgresPredictionRepo) DeleteByID(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return model.NewPredictionNotFoundError(id)
	}

	return withUserTx(ctx, r.db, userID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM predictions WHERE id = $1 AND user_id = $2`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete prediction: %w", toDataError(err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return model.NewPredictionNotFoundError(id)
		}
		return nil
	})
}

// DeleteByUserID は指定ユーザーの予測をすべて削除し、削除件数を返す。
func (r *PostgresPredictionRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	err := withUserTx(ctx, r.db, userID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM predictions WHERE user_id = $1`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("failed to clear predictions: %w", toDataError(err))
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

// compile-time interface check
var _ PredictionRepository = (*PostgresPredictionRepo)(nil)
