package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/heartrisk/internal/model"
)

// PostgresProfileRepo はPostgreSQLに直接接続するプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Upsert はuser_idをキーにプロフィール行を作成または更新する。
// NULLで渡されたカラムは既存の値を維持する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	return withUserTx(ctx, r.db, profile.UserID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id, full_name, avatar_url, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id) DO UPDATE SET
			   full_name = COALESCE(EXCLUDED.full_name, profiles.full_name),
			   avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
			   updated_at = EXCLUDED.updated_at`,
			profile.UserID, nullString(profile.FullName), nullString(profile.AvatarURL), profile.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert profile: %w", toDataError(err))
		}
		return nil
	})
}

// DeleteByUserID は指定ユーザーのプロフィール行を削除する。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return withUserTx(ctx, r.db, userID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM profiles WHERE user_id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("failed to delete profile: %w", toDataError(err))
		}
		return nil
	})
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
