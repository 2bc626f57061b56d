// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// MetadataFullName はユーザーメタデータ内の表示名キー。
const MetadataFullName = "full_name"

// User は認証プロバイダーが払い出したアイデンティティを表す。
// IDはプロバイダー側で一意な不透明値として扱う。
type User struct {
	ID        string
	Email     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// FullName はメタデータに格納された表示名を返す。未設定の場合は空文字列を返す。
func (u *User) FullName() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	name, _ := u.Metadata[MetadataFullName].(string)
	return name
}

// Session は認証済みのコンテキスト（アイデンティティ + 資格情報）を表す。
// Rawにはプロバイダーが返したペイロードをそのまま保持する。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         *User
	Raw          json.RawMessage
}

// UserID はセッションに紐づくユーザーIDを返す。
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// ExpiresWithin はセッションの有効期限が指定時間以内に切れるかを判定する。
// 有効期限が不明な場合はfalseを返す。
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// Profile はprofilesテーブルの1行を表す。user_idで一意。
type Profile struct {
	UserID    string
	FullName  *string
	AvatarURL *string
	UpdatedAt time.Time
}

// ProfileUpdate はプロフィール更新の入力。nilのフィールドは指定なしを意味する。
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
