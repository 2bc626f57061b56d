// Package memory はオフライン開発用のインプロセス・バックエンドを提供する。
// 認証APIとprofiles/predictionsテーブルをメモリ上で再現し、
// ホスト型サービスと同じエラー形式と行レベルのアクセス制御を適用する。
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/heartrisk/internal/backend"
	"github.com/hitoshi/heartrisk/internal/model"
)

const (
	defaultTokenTTL      = time.Hour
	defaultRefreshMargin = time.Minute
	minPasswordLength    = 6
)

// account は登録済みユーザーと資格情報。
type account struct {
	user *model.User
	hash []byte
}

// Option はBackendの設定を変更する。
type Option func(*Backend)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithTokenTTL はアクセストークンの有効期間を設定する。
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = ttl }
}

// WithRefreshMargin は有効期限の何秒前からトークンを再発行するかを設定する。
func WithRefreshMargin(margin time.Duration) Option {
	return func(b *Backend) { b.refreshMargin = margin }
}

// WithLogger はロガーを差し替える。
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// Backend はメモリ上の認証 + テーブルデータ。
type Backend struct {
	secret        []byte
	tokenTTL      time.Duration
	refreshMargin time.Duration
	now           func() time.Time
	logger        *slog.Logger
	emitter       *backend.Emitter

	// commitMu はセッションの変更と通知を1つの単位として直列化する
	commitMu sync.Mutex

	mu          sync.Mutex
	accounts    map[string]*account // key: 小文字化したメールアドレス
	session     *model.Session
	refresh     map[string]string // リフレッシュトークン → ユーザーID
	profiles    map[string]*model.Profile
	predictions []*model.PredictionRecord
	lastCreated time.Time
}

// New はBackendを生成する。secretはアクセストークンの署名鍵。
func New(secret []byte, opts ...Option) *Backend {
	b := &Backend{
		secret:        secret,
		tokenTTL:      defaultTokenTTL,
		refreshMargin: defaultRefreshMargin,
		now:           time.Now,
		logger:        slog.Default(),
		emitter:       backend.NewEmitter(),
		accounts:      make(map[string]*account),
		refresh:       make(map[string]string),
		profiles:      make(map[string]*model.Profile),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// --- 認証API ---

// SignUp はアカウントを登録し、即時にセッションを発行する。
func (b *Backend) SignUp(_ context.Context, email, password string, metadata map[string]any) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &model.AuthError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "Unable to validate email address: invalid format"}
	}
	if len(password) < minPasswordLength {
		return nil, &model.AuthError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "weak_password",
			Message: fmt.Sprintf("Password should be at least %d characters.", minPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	key := strings.ToLower(email)
	if _, exists := b.accounts[key]; exists {
		b.mu.Unlock()
		return nil, &model.AuthError{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	}
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: b.now().UTC(),
	}
	b.accounts[key] = &account{user: user, hash: hash}
	sess, err := b.issueLocked(user)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.logger.Info("memory backend: user registered", slog.String("user_id", user.ID))
	b.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	return sess, nil
}

// SignInWithPassword は資格情報を検証し、セッションを発行する。
func (b *Backend) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	b.mu.Lock()
	acct, ok := b.accounts[strings.ToLower(strings.TrimSpace(email))]
	b.mu.Unlock()

	// 存在しないユーザーでも同じエラーを返す
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		return nil, &model.AuthError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}

	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	sess, err := b.issueLocked(acct.user)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	return sess, nil
}

// SignOut は現在のセッションとリフレッシュトークンを破棄する。
func (b *Backend) SignOut(_ context.Context) error {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	if b.session != nil {
		delete(b.refresh, b.session.RefreshToken)
	}
	b.session = nil
	b.mu.Unlock()

	b.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

// GetSession は現在のセッションを返す。トークンの有効期限が切れている場合はnilを返す。
func (b *Backend) GetSession(_ context.Context) (*model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, nil
	}
	if _, err := b.verify(b.session.AccessToken); err != nil {
		return nil, nil
	}
	return b.session, nil
}

// UpdateUser は現在のユーザーのメタデータにキーを追加・上書きする。
func (b *Backend) UpdateUser(_ context.Context, metadata map[string]any) (*model.User, error) {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	if b.session == nil {
		b.mu.Unlock()
		return nil, errSessionMissing()
	}
	acct := b.accountByIDLocked(b.session.UserID())
	if acct == nil {
		b.mu.Unlock()
		return nil, &model.AuthError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}

	updated := *acct.user
	updated.Metadata = cloneMetadata(acct.user.Metadata)
	if updated.Metadata == nil {
		updated.Metadata = make(map[string]any, len(metadata))
	}
	maps.Copy(updated.Metadata, metadata)
	acct.user = &updated

	sess := *b.session
	sess.User = &updated
	b.session = &sess
	b.mu.Unlock()

	b.emitter.Emit(backend.AuthEvent{Type: backend.EventUserUpdated, Session: &sess})
	return &updated, nil
}

// OnAuthStateChange はセッション変更通知を購読する。
func (b *Backend) OnAuthStateChange(fn func(backend.AuthEvent)) backend.Subscription {
	return b.emitter.Subscribe(fn)
}

// AccessToken は現在のアクセストークンを返す。
func (b *Backend) AccessToken(ctx context.Context) (string, error) {
	sess, _ := b.GetSession(ctx)
	if sess == nil {
		return "", errSessionMissing()
	}
	return sess.AccessToken, nil
}

// RefreshIfNeeded は有効期限がリフレッシュマージン以内に迫っている場合にトークンを再発行する。
// リフレッシュトークンはローテーションし、古いものは無効になる。
func (b *Backend) RefreshIfNeeded(_ context.Context) error {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	if b.session == nil || !b.session.ExpiresWithin(b.now(), b.refreshMargin) {
		b.mu.Unlock()
		return nil
	}

	userID, ok := b.refresh[b.session.RefreshToken]
	acct := b.accountByIDLocked(userID)
	if !ok || acct == nil {
		b.session = nil
		b.mu.Unlock()
		b.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
		return &model.AuthError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Invalid Refresh Token: Refresh Token Not Found"}
	}
	delete(b.refresh, b.session.RefreshToken)
	sess, err := b.issueLocked(acct.user)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.emitter.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: sess})
	return nil
}

// issueLocked はアクセストークンとリフレッシュトークンを発行し、現在のセッションにする。
func (b *Backend) issueLocked(user *model.User) (*model.Session, error) {
	now := b.now()
	expiresAt := now.Add(b.tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.ID,
		Audience:  jwt.ClaimStrings{"authenticated"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	})
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := uuid.NewString()
	b.refresh[refresh] = user.ID
	b.session = &model.Session{
		AccessToken:  signed,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt.UTC().Truncate(time.Second),
		User:         user,
	}
	return b.session, nil
}

// verify はアクセストークンの署名と有効期限を検証し、クレームを返す。
func (b *Backend) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (b *Backend) accountByIDLocked(id string) *account {
	for _, acct := range b.accounts {
		if acct.user.ID == id {
			return acct
		}
	}
	return nil
}

// requesterLocked は現在のセッションのトークンを検証し、呼び出し元のユーザーIDを返す。
// データAPIの行レベルセキュリティに相当する判定に使用する。
func (b *Backend) requesterLocked() (string, bool) {
	if b.session == nil {
		return "", false
	}
	claims, err := b.verify(b.session.AccessToken)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

func errSessionMissing() *model.AuthError {
	return &model.AuthError{Status: http.StatusUnauthorized, Code: "session_not_found", Message: "Auth session missing!"}
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

var (
	_ backend.AuthClient  = (*Backend)(nil)
	_ backend.TokenSource = (*Backend)(nil)
)
