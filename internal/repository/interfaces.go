// Package repository はデータ永続化のインターフェースを定義する。
// 実装はホスト型データAPI（REST）とPostgreSQL直接接続の2種類を提供する。
// いずれの実装もすべてのクエリをuser_idでスコープする。
package repository

import (
	"context"

	"github.com/hitoshi/heartrisk/internal/model"
)

// テーブル名とカラム名
const (
	TableProfiles    = "profiles"
	TablePredictions = "predictions"
)

// ProfileRepository はprofilesテーブルの永続化インターフェース。
type ProfileRepository interface {
	// Upsert はuser_idをキーにプロフィール行を作成または更新する。
	// nilのフィールドは既存の値を維持する。
	Upsert(ctx context.Context, profile *model.Profile) error

	// DeleteByUserID は指定ユーザーのプロフィール行を削除する。
	// 行が存在しない場合もエラーにしない。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PredictionRepository はpredictionsテーブルの永続化インターフェース。
type PredictionRepository interface {
	// Create は予測を1件挿入する。IDとCreatedAtはサーバー側で採番された値で埋める。
	Create(ctx context.Context, record *model.PredictionRecord) error

	// ListByUserID は指定ユーザーの予測をcreated_at降順で返す。
	// 0件の場合は空スライスを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.PredictionRecord, error)

	// DeleteByID は指定ユーザーが所有する予測を主キーで1件削除する。
	// 該当行がない場合はPREDICTION_NOT_FOUNDエラーを返す。
	DeleteByID(ctx context.Context, userID, id string) error

	// DeleteByUserID は指定ユーザーの予測をすべて削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}
