// Package backend は外部のバックエンドサービス（認証 + テーブルデータ）との契約を定義する。
// 実装はホスト型サービスのHTTPクライアント（supabase）またはオフライン用のインプロセス実装（memory）。
package backend

import (
	"context"

	"github.com/hitoshi/heartrisk/internal/model"
)

// AuthChangeEvent はセッション変更通知の種別。
type AuthChangeEvent string

const (
	EventInitialSession AuthChangeEvent = "INITIAL_SESSION"
	EventSignedIn       AuthChangeEvent = "SIGNED_IN"
	EventSignedOut      AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthChangeEvent = "USER_UPDATED"
)

// AuthEvent はバックエンドから通知されるセッション変更。
// Sessionがnilの場合はサインアウト状態を意味する。
type AuthEvent struct {
	Type    AuthChangeEvent
	Session *model.Session
}

// Subscription はセッション変更通知の購読。
type Subscription interface {
	// Unsubscribe は購読を解除する。複数回呼び出しても安全。
	Unsubscribe()
}

// AuthClient はバックエンドの認証APIのインターフェース。
type AuthClient interface {
	// SignUp はメールアドレスとパスワードでアカウントを登録する。
	// metadataはユーザーメタデータとして保存される。
	// メール確認が必要な構成ではセッションはnilで返る。
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Session, error)

	// SignInWithPassword はパスワード認証を行い、セッションを発行する。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)

	// SignOut はリモートのセッションを無効化し、ローカルのセッションを破棄する。
	SignOut(ctx context.Context) error

	// GetSession は現在のセッションを返す。永続化されたセッションがあれば復元する。
	// セッションが存在しない場合はnilを返す。
	GetSession(ctx context.Context) (*model.Session, error)

	// UpdateUser は現在のユーザーのメタデータを更新する。
	UpdateUser(ctx context.Context, metadata map[string]any) (*model.User, error)

	// OnAuthStateChange はセッション変更通知を購読する。
	// fnは通知の発行順に同期的に呼び出される。fn内からAuthClientを呼び出してはならない。
	OnAuthStateChange(fn func(AuthEvent)) Subscription
}

// TokenSource は現在のアクセストークンを提供する。
// データAPIへのリクエストに付与するために使用する。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
