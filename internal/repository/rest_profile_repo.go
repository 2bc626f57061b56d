package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/hitoshi/heartrisk/internal/supabase"
)

// profileRow はprofilesテーブルのJSON表現。
// nilのカラムは送信せず、既存の値を維持させる。
type profileRow struct {
	UserID    string    `json:"user_id"`
	FullName  *string   `json:"full_name,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RESTProfileRepo はデータAPI経由のプロフィールリポジトリ。
type RESTProfileRepo struct {
	rest *supabase.REST
}

// NewRESTProfileRepo はRESTProfileRepoを生成する。
func NewRESTProfileRepo(rest *supabase.REST) *RESTProfileRepo {
	return &RESTProfileRepo{rest: rest}
}

// Upsert はuser_idをキーにプロフィール行を作成または更新する。
func (r *RESTProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	row := profileRow{
		UserID:    profile.UserID,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
		UpdatedAt: profile.UpdatedAt,
	}
	if err := r.rest.Upsert(ctx, TableProfiles, "user_id", row); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーのプロフィール行を削除する。
func (r *RESTProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if err := r.rest.Delete(ctx, TableProfiles, supabase.Filter("user_id", userID), nil); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*RESTProfileRepo)(nil)
