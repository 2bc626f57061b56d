package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/heartrisk/internal/backend"
	"github.com/hitoshi/heartrisk/internal/model"
)

// errSessionMissing はセッションが必要な操作をセッションなしで呼び出した場合のエラー。
var errSessionMissing = &model.AuthError{
	Status:  http.StatusUnauthorized,
	Code:    "session_not_found",
	Message: "Auth session missing!",
}

// tokenResponse は認証APIのトークンレスポンス。セッションファイルの形式も兼ねる。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type,omitempty"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user,omitempty"`
}

// userResponse は認証APIのユーザー表現。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (u *userResponse) toUser() *model.User {
	if u == nil {
		return nil
	}
	return &model.User{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  u.UserMetadata,
		CreatedAt: u.CreatedAt,
	}
}

// toSession はレスポンスをmodel.Sessionに変換する。
// expires_atが無い場合とユーザーが無い場合はアクセストークンのクレームで補う。
func (tr *tokenResponse) toSession(raw []byte) *model.Session {
	sess := &model.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		User:         tr.User.toUser(),
		Raw:          json.RawMessage(raw),
	}
	if tr.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	}

	if sess.ExpiresAt.IsZero() || sess.User == nil {
		if claims, ok := tokenClaims(tr.AccessToken); ok {
			if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
			}
			if sess.User == nil && claims.Subject != "" {
				sess.User = &model.User{ID: claims.Subject}
			}
		}
	}
	return sess
}

func fromSession(sess *model.Session) *tokenResponse {
	tr := &tokenResponse{
		AccessToken:  sess.AccessToken,
		TokenType:    sess.TokenType,
		RefreshToken: sess.RefreshToken,
	}
	if !sess.ExpiresAt.IsZero() {
		tr.ExpiresAt = sess.ExpiresAt.Unix()
	}
	if sess.User != nil {
		tr.User = &userResponse{
			ID:           sess.User.ID,
			Email:        sess.User.Email,
			UserMetadata: sess.User.Metadata,
			CreatedAt:    sess.User.CreatedAt,
		}
	}
	return tr
}

// tokenClaims はアクセストークンのクレームを署名検証なしで読み取る。
// 署名の検証はバックエンド側で行われるため、ここでは有効期限とsubの参照にのみ使用する。
func tokenClaims(token string) (*jwt.RegisteredClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Auth はbackend.AuthClientの実装。現在のセッションを保持し、変更をリスナーに通知する。
type Auth struct {
	client        *Client
	store         SessionStore
	emitter       *backend.Emitter
	refreshMargin time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.Mutex
	session *model.Session
	loaded  bool

	// refreshMu はリフレッシュトークンの多重使用を防ぐ
	refreshMu sync.Mutex

	// commitMu はセッションの置き換え、永続化、通知を1つの単位として直列化する。
	// リスナー内からセッションを変更してはならない。
	commitMu sync.Mutex
}

// NewAuth はAuthを生成する。refreshMarginは有効期限の何秒前からリフレッシュするかを表す。
func NewAuth(client *Client, store SessionStore, refreshMargin time.Duration, logger *slog.Logger) *Auth {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Auth{
		client:        client,
		store:         store,
		emitter:       backend.NewEmitter(),
		refreshMargin: refreshMargin,
		now:           time.Now,
		logger:        logger,
	}
}

// SignUp はアカウントを登録する。メール確認が必要な設定の場合、セッションはnilになる。
func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Session, error) {
	var raw json.RawMessage
	err := a.client.do(ctx, request{
		api:    apiAuth,
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
		out: &raw,
	})
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		// 確認待ち: レスポンスはユーザー単体
		a.logger.Info("sign up pending confirmation", slog.String("email", email))
		return nil, nil
	}

	sess := a.newSession(&tr, raw)
	a.setSession(sess, backend.EventSignedIn)
	return sess, nil
}

// SignInWithPassword はメールアドレスとパスワードでトークンを取得する。
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	sess, err := a.token(ctx, "password", map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	a.setSession(sess, backend.EventSignedIn)
	return sess, nil
}

// SignOut はサーバー側のセッションを無効化し、ローカルのセッションを破棄する。
// サーバー側の無効化に失敗した場合もローカルのセッションは破棄し、エラーを返す。
func (a *Auth) SignOut(ctx context.Context) error {
	sess := a.current()

	var err error
	if sess != nil {
		err = a.client.do(ctx, request{
			api:    apiAuth,
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			token:  sess.AccessToken,
		})
		var authErr *model.AuthError
		if errors.As(err, &authErr) && (authErr.Status == http.StatusUnauthorized || authErr.Status == http.StatusNotFound) {
			// 既に無効なセッション
			err = nil
		}
	}

	a.setSession(nil, backend.EventSignedOut)
	return err
}

// GetSession は現在のセッションを返す。初回は永続化先から読み込む。
// 有効期限が近い場合はリフレッシュしてから返す。
func (a *Auth) GetSession(ctx context.Context) (*model.Session, error) {
	sess, err := a.load()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.ExpiresWithin(a.now(), a.refreshMargin) {
		return a.refresh(ctx)
	}
	return sess, nil
}

// UpdateUser は現在のユーザーのメタデータを更新する。
func (a *Auth) UpdateUser(ctx context.Context, metadata map[string]any) (*model.User, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var ur userResponse
	err = a.client.do(ctx, request{
		api:    apiAuth,
		method: http.MethodPut,
		path:   "/auth/v1/user",
		token:  token,
		body:   map[string]any{"data": metadata},
		out:    &ur,
	})
	if err != nil {
		return nil, err
	}
	user := ur.toUser()

	base := a.current()
	if base == nil {
		return user, nil
	}
	updated := *base
	updated.User = user

	// 通信中にサインアウトされた場合はセッションを復活させない
	a.replaceSession(base, &updated, backend.EventUserUpdated)
	return user, nil
}

// OnAuthStateChange はセッション変更通知を購読する。
func (a *Auth) OnAuthStateChange(fn func(backend.AuthEvent)) backend.Subscription {
	return a.emitter.Subscribe(fn)
}

// AccessToken はデータAPI呼び出しに使用するアクセストークンを返す。
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	sess, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", errSessionMissing
	}
	return sess.AccessToken, nil
}

// RefreshIfNeeded は有効期限がリフレッシュマージン内に入っている場合のみリフレッシュする。
// セッションがない場合は何もしない。
func (a *Auth) RefreshIfNeeded(ctx context.Context) error {
	sess, err := a.load()
	if err != nil || sess == nil {
		return err
	}
	if !sess.ExpiresWithin(a.now(), a.refreshMargin) {
		return nil
	}
	_, err = a.refresh(ctx)
	return err
}

// refresh はリフレッシュトークンで新しいセッションを取得する。
// プロバイダーが拒否した場合はセッションを破棄してSIGNED_OUTを通知する。
// ネットワークエラーの場合は現在のセッションを維持する。
func (a *Auth) refresh(ctx context.Context) (*model.Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// 待機中に他の呼び出しがリフレッシュ済みであれば再利用する
	sess := a.current()
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresWithin(a.now(), a.refreshMargin) {
		return sess, nil
	}

	refreshed, err := a.token(ctx, "refresh_token", map[string]any{
		"refresh_token": sess.RefreshToken,
	})
	if err != nil {
		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			a.logger.Warn("session refresh rejected",
				slog.String("user_id", sess.UserID()),
				slog.String("error", err.Error()),
			)
			a.replaceSession(sess, nil, backend.EventSignedOut)
		}
		return nil, err
	}
	if refreshed.User == nil {
		refreshed.User = sess.User
	}

	// 通信中にサインアウトまたは再サインインされた場合は結果を破棄する
	if !a.replaceSession(sess, refreshed, backend.EventTokenRefreshed) {
		a.logger.Debug("discarding refreshed session",
			slog.String("user_id", refreshed.UserID()),
		)
		return a.current(), nil
	}
	a.logger.Debug("session refreshed", slog.String("user_id", refreshed.UserID()))
	return refreshed, nil
}

func (a *Auth) token(ctx context.Context, grantType string, body map[string]any) (*model.Session, error) {
	var raw json.RawMessage
	err := a.client.do(ctx, request{
		api:    apiAuth,
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {grantType}},
		body:   body,
		out:    &raw,
	})
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &model.AuthError{Status: http.StatusBadGateway, Message: "token response without access_token"}
	}
	return a.newSession(&tr, raw), nil
}

func (a *Auth) newSession(tr *tokenResponse, raw []byte) *model.Session {
	if tr.ExpiresAt == 0 && tr.ExpiresIn > 0 {
		tr.ExpiresAt = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	}
	return tr.toSession(raw)
}

// load は初回のみ永続化先からセッションを読み込み、INITIAL_SESSIONを通知する。
func (a *Auth) load() (*model.Session, error) {
	a.mu.Lock()
	if a.loaded {
		sess := a.session
		a.mu.Unlock()
		return sess, nil
	}
	a.mu.Unlock()

	a.commitMu.Lock()
	defer a.commitMu.Unlock()

	// 待機中に他の呼び出しが読み込み済み、またはサインイン済み
	a.mu.Lock()
	if a.loaded {
		sess := a.session
		a.mu.Unlock()
		return sess, nil
	}
	a.mu.Unlock()

	sess, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session = sess
	a.loaded = true
	a.mu.Unlock()

	a.emitter.Emit(backend.AuthEvent{Type: backend.EventInitialSession, Session: sess})
	return sess, nil
}

func (a *Auth) current() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// setSession は現在のセッションを無条件に置き換える。
func (a *Auth) setSession(sess *model.Session, event backend.AuthChangeEvent) {
	a.commitMu.Lock()
	defer a.commitMu.Unlock()
	a.commitLocked(sess, event)
}

// replaceSession は現在のセッションがexpectedのままである場合のみ置き換える。
// 置き換えた場合はtrueを返す。
func (a *Auth) replaceSession(expected, sess *model.Session, event backend.AuthChangeEvent) bool {
	a.commitMu.Lock()
	defer a.commitMu.Unlock()

	if a.current() != expected {
		return false
	}
	a.commitLocked(sess, event)
	return true
}

// commitLocked はセッションを置き換え、永続化してから通知する。
// 呼び出し側でcommitMuを保持していること。
func (a *Auth) commitLocked(sess *model.Session, event backend.AuthChangeEvent) {
	a.mu.Lock()
	a.session = sess
	a.loaded = true
	a.mu.Unlock()

	var err error
	if sess == nil {
		err = a.store.Clear()
	} else {
		err = a.store.Save(sess)
	}
	if err != nil {
		a.logger.Error("failed to persist session",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}

	a.emitter.Emit(backend.AuthEvent{Type: event, Session: sess})
}

var (
	_ backend.AuthClient  = (*Auth)(nil)
	_ backend.TokenSource = (*Auth)(nil)
)
