// Package session は認証済みセッションの状態を一元管理するコンテナを提供する。
// プロセス内で唯一の共有インスタンスとして生成し、各ハンドラーに注入して使用する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/heartrisk/internal/backend"
	"github.com/hitoshi/heartrisk/internal/model"
)

// State はセッションコンテナの状態。
type State int

const (
	// StateInitializing は起動直後でセッションが未解決の状態。
	StateInitializing State = iota
	// StateAuthenticated はセッションが有効な状態。
	StateAuthenticated
	// StateAnonymous はセッションが存在しない状態。
	StateAnonymous
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// ProfileWriter はプロフィール行の書き込みに必要なインターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileWriter interface {
	Upsert(ctx context.Context, profile *model.Profile) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// TextSanitizer は表示名をプレーンテキストに正規化する。
type TextSanitizer interface {
	SanitizeText(s string) string
}

// URLValidator はアバターURLの安全性を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Recorder はセッション操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordAuthEvent(event string)
	RecordAuthOperation(op string, err error)
}

// Snapshot はある時点のコンテナ状態を一貫した形で保持する。
type Snapshot struct {
	State   State
	User    *model.User
	Session *model.Session
	Loading bool
}

// Option はContainerの設定を変更する。
type Option func(*Container)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Container) { c.now = now }
}

// WithLogger はロガーを差し替える。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) { c.logger = logger }
}

// WithRecorder はメトリクス記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Container) { c.recorder = r }
}

// WithSanitizer は表示名のサニタイザーを設定する。
func WithSanitizer(s TextSanitizer) Option {
	return func(c *Container) { c.sanitizer = s }
}

// WithURLValidator はアバターURLのバリデーターを設定する。
func WithURLValidator(v URLValidator) Option {
	return func(c *Container) { c.urlValidator = v }
}

// Container は現在のセッションとロード状態を保持する唯一の情報源。
// 状態の変更は定義済みの操作とバックエンドからの変更通知を通じてのみ行う。
type Container struct {
	auth         backend.AuthClient
	profiles     ProfileWriter
	now          func() time.Time
	logger       *slog.Logger
	recorder     Recorder
	sanitizer    TextSanitizer
	urlValidator URLValidator

	mu      sync.RWMutex
	state   State
	session *model.Session
	loading bool

	lifecycleMu sync.Mutex
	sub         backend.Subscription
	started     bool
}

// New はContainerを生成する。Startを呼び出すまで状態はStateInitializingのまま。
func New(auth backend.AuthClient, profiles ProfileWriter, opts ...Option) *Container {
	c := &Container{
		auth:     auth,
		profiles: profiles,
		now:      time.Now,
		logger:   slog.Default(),
		state:    StateInitializing,
		loading:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start はセッション変更通知を購読し、永続化されたセッションを1回だけ解決する。
// 解決に失敗した場合はエラーをログに記録し、未ログイン状態として扱う。
func (c *Container) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started {
		return errors.New("session container already started")
	}
	c.started = true

	// 解決前に購読し、解決中に発生した通知を取りこぼさない
	c.sub = c.auth.OnAuthStateChange(c.handleEvent)

	sess, err := c.auth.GetSession(ctx)
	if err != nil {
		c.logger.Warn("failed to resolve initial session",
			slog.String("error", err.Error()),
		)
		sess = nil
	}

	c.mu.Lock()
	if c.state == StateInitializing {
		c.apply(sess)
	}
	c.loading = false
	state := c.state
	c.mu.Unlock()

	c.logger.Info("session container started",
		slog.String("state", state.String()),
	)
	return nil
}

// Close はセッション変更通知の購読を解除する。複数回呼び出しても安全。
func (c *Container) Close() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
}

// handleEvent はバックエンドからのセッション変更通知を反映する。
func (c *Container) handleEvent(ev backend.AuthEvent) {
	c.mu.Lock()
	c.apply(ev.Session)
	c.loading = false
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordAuthEvent(string(ev.Type))
	}
	c.logger.Debug("auth state changed", slog.String("event", string(ev.Type)))
}

// apply はセッションを状態に反映する。呼び出し側でmuを保持していること。
func (c *Container) apply(sess *model.Session) {
	if sess == nil {
		c.state = StateAnonymous
		c.session = nil
		return
	}
	c.state = StateAuthenticated
	c.session = sess
}

// State は現在の状態を返す。
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsLoading は初期セッションの解決が完了していない場合にtrueを返す。
func (c *Container) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Session は現在のセッションを返す。未ログインの場合はnilを返す。
func (c *Container) Session() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// User は現在のユーザーを返す。未ログインの場合はnilを返す。
func (c *Container) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.User
}

// UserID は現在のユーザーIDを返す。認証済みでない場合はfalseを返す。
func (c *Container) UserID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateAuthenticated {
		return "", false
	}
	id := c.session.UserID()
	return id, id != ""
}

// Snapshot は状態・ユーザー・セッション・ロード状態を一括で返す。
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		State:   c.state,
		Session: c.session,
		Loading: c.loading,
	}
	if c.session != nil {
		s.User = c.session.User
	}
	return s
}

// SignUp はメールアドレス・パスワード・表示名でアカウントを登録する。
// 表示名はユーザーメタデータとして送信する。profiles行は作成しない。
// 状態の遷移はバックエンドからの変更通知によって行われる。
func (c *Container) SignUp(ctx context.Context, email, password, displayName string) error {
	if c.sanitizer != nil {
		displayName = c.sanitizer.SanitizeText(displayName)
	}
	_, err := c.auth.SignUp(ctx, email, password, map[string]any{
		model.MetadataFullName: displayName,
	})
	c.record("sign_up", err)
	if err != nil {
		return err
	}

	c.logger.Info("user signed up", slog.String("email", email))
	return nil
}

// SignIn はメールアドレスとパスワードでサインインする。
// 失敗した場合は状態を変更せず、プロバイダーのエラーをそのまま返す。
func (c *Container) SignIn(ctx context.Context, email, password string) error {
	sess, err := c.auth.SignInWithPassword(ctx, email, password)
	c.record("sign_in", err)
	if err != nil {
		return err
	}

	c.logger.Info("user signed in", slog.String("user_id", sess.UserID()))
	return nil
}

// SignOut はセッションを破棄する。
// リモートの無効化に失敗してもエラーはログに記録するのみで、
// ローカルの状態は必ず未ログインになる。
func (c *Container) SignOut(ctx context.Context) {
	err := c.auth.SignOut(ctx)
	c.record("sign_out", err)
	if err != nil {
		c.logger.Error("error signing out",
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	c.apply(nil)
	c.loading = false
	c.mu.Unlock()
}

// DeleteAccount は現在のユーザーのprofiles行を削除し、サインアウトする。
// 認証アイデンティティとpredictions行は削除しない。
// profiles行の削除に失敗した場合はセッションを維持したままエラーを返す。
func (c *Container) DeleteAccount(ctx context.Context) error {
	userID, ok := c.UserID()
	if !ok {
		return model.NewNoUserLoggedInError()
	}

	if err := c.profiles.DeleteByUserID(ctx, userID); err != nil {
		c.record("delete_account", err)
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	c.record("delete_account", nil)

	c.logger.Info("account profile deleted", slog.String("user_id", userID))

	c.SignOut(ctx)
	return nil
}

// UpdateProfile はprofiles行をuser_idをキーにUPSERTする。
// FullNameが指定された場合はユーザーメタデータも更新する。
// 2つの書き込みはトランザクションではないため、メタデータ更新に失敗した場合
// profiles行のみが更新された状態になる。
func (c *Container) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) error {
	userID, ok := c.UserID()
	if !ok {
		return model.NewNoUserLoggedInError()
	}

	if upd.FullName != nil && c.sanitizer != nil {
		name := c.sanitizer.SanitizeText(*upd.FullName)
		upd.FullName = &name
	}
	if upd.AvatarURL != nil && *upd.AvatarURL != "" && c.urlValidator != nil {
		if err := c.urlValidator.ValidateURL(*upd.AvatarURL); err != nil {
			return model.NewInvalidAvatarURLError(err.Error())
		}
	}

	profile := &model.Profile{
		UserID:    userID,
		FullName:  upd.FullName,
		AvatarURL: upd.AvatarURL,
		UpdatedAt: c.now().UTC(),
	}
	if err := c.profiles.Upsert(ctx, profile); err != nil {
		c.record("update_profile", err)
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if upd.FullName != nil && *upd.FullName != "" {
		if _, err := c.auth.UpdateUser(ctx, map[string]any{
			model.MetadataFullName: *upd.FullName,
		}); err != nil {
			c.record("update_profile", err)
			return fmt.Errorf("failed to update user metadata: %w", err)
		}
	}
	c.record("update_profile", nil)

	c.logger.Info("profile updated", slog.String("user_id", userID))
	return nil
}

func (c *Container) record(op string, err error) {
	if c.recorder != nil {
		c.recorder.RecordAuthOperation(op, err)
	}
}
