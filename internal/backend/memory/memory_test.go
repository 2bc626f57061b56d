package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/heartrisk/internal/backend"
	"github.com/hitoshi/heartrisk/internal/model"
)

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBackend(t *testing.T) (*Backend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	b := New([]byte("test-secret"),
		WithClock(clock.Now),
		WithTokenTTL(10*time.Minute),
		WithRefreshMargin(time.Minute),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	)
	return b, clock
}

func recordEvents(b *Backend) (*[]backend.AuthChangeEvent, backend.Subscription) {
	var events []backend.AuthChangeEvent
	sub := b.OnAuthStateChange(func(ev backend.AuthEvent) {
		events = append(events, ev.Type)
	})
	return &events, sub
}

func assertAuthError(t *testing.T, err error, status int, msg string) {
	t.Helper()
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *model.AuthError, got %v", err)
	}
	if authErr.Status != status || authErr.Message != msg {
		t.Errorf("AuthError = %d %q, want %d %q", authErr.Status, authErr.Message, status, msg)
	}
}

func TestSignUp_IssuesSessionAndEmits(t *testing.T) {
	b, _ := newTestBackend(t)
	events, sub := recordEvents(b)
	defer sub.Unsubscribe()

	sess, err := b.SignUp(context.Background(), "jane@example.com", "secret1", map[string]any{model.MetadataFullName: "Jane Doe"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if sess.User.FullName() != "Jane Doe" || sess.User.ID == "" {
		t.Errorf("unexpected user: %+v", sess.User)
	}
	if diff := cmp.Diff([]backend.AuthChangeEvent{backend.EventSignedIn}, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	got, _ := b.GetSession(context.Background())
	if got == nil || got.AccessToken != sess.AccessToken {
		t.Error("expected session to be current")
	}
}

func TestSignUp_Duplicate(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}
	_, err := b.SignUp(ctx, "JANE@example.com", "secret2", nil)
	assertAuthError(t, err, http.StatusUnprocessableEntity, "User already registered")
}

func TestSignUp_WeakPassword(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.SignUp(context.Background(), "jane@example.com", "123", nil)
	assertAuthError(t, err, http.StatusUnprocessableEntity, "Password should be at least 6 characters.")
}

func TestSignIn(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}
	_ = b.SignOut(ctx)

	t.Run("wrong password", func(t *testing.T) {
		_, err := b.SignInWithPassword(ctx, "jane@example.com", "nope")
		assertAuthError(t, err, http.StatusBadRequest, "Invalid login credentials")
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := b.SignInWithPassword(ctx, "ghost@example.com", "secret1")
		assertAuthError(t, err, http.StatusBadRequest, "Invalid login credentials")
	})

	t.Run("success", func(t *testing.T) {
		sess, err := b.SignInWithPassword(ctx, "jane@example.com", "secret1")
		if err != nil {
			t.Fatalf("SignInWithPassword: %v", err)
		}
		if sess.User.Email != "jane@example.com" {
			t.Errorf("Email = %q", sess.User.Email)
		}
	})
}

func TestSignOut_ClearsSession(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}
	events, sub := recordEvents(b)
	defer sub.Unsubscribe()

	if err := b.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if sess, _ := b.GetSession(ctx); sess != nil {
		t.Error("expected no session after sign out")
	}
	if _, err := b.AccessToken(ctx); err == nil {
		t.Error("expected AccessToken to fail without session")
	}
	if diff := cmp.Diff([]backend.AuthChangeEvent{backend.EventSignedOut}, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSession_ExpiredToken(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}

	clock.Advance(11 * time.Minute)
	if sess, _ := b.GetSession(ctx); sess != nil {
		t.Error("expected expired session to be hidden")
	}
}

func TestRefreshIfNeeded_RotatesToken(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()
	first, err := b.SignUp(ctx, "jane@example.com", "secret1", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, sub := recordEvents(b)
	defer sub.Unsubscribe()

	// マージン外では再発行しない
	if err := b.RefreshIfNeeded(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 0 {
		t.Fatalf("unexpected events: %v", *events)
	}

	clock.Advance(9*time.Minute + 30*time.Second)
	if err := b.RefreshIfNeeded(ctx); err != nil {
		t.Fatalf("RefreshIfNeeded: %v", err)
	}
	sess, _ := b.GetSession(ctx)
	if sess.AccessToken == first.AccessToken || sess.RefreshToken == first.RefreshToken {
		t.Error("expected rotated tokens")
	}
	if diff := cmp.Diff([]backend.AuthChangeEvent{backend.EventTokenRefreshed}, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateUser_MergesMetadata(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", map[string]any{"theme": "dark", model.MetadataFullName: "Jane"}); err != nil {
		t.Fatal(err)
	}

	user, err := b.UpdateUser(ctx, map[string]any{model.MetadataFullName: "Jane Doe"})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	want := map[string]any{"theme": "dark", model.MetadataFullName: "Jane Doe"}
	if diff := cmp.Diff(want, user.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	// 再サインインしても更新後のメタデータが返る
	_ = b.SignOut(ctx)
	sess, err := b.SignInWithPassword(ctx, "jane@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.User.FullName() != "Jane Doe" {
		t.Errorf("FullName = %q after re-sign-in", sess.User.FullName())
	}
}

func TestUpdateUser_NoSession(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.UpdateUser(context.Background(), map[string]any{})
	assertAuthError(t, err, http.StatusUnauthorized, "Auth session missing!")
}

func TestPredictions_OrderingAndOwnership(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	sess, err := b.SignUp(ctx, "jane@example.com", "secret1", nil)
	if err != nil {
		t.Fatal(err)
	}
	uid := sess.UserID()
	repo := b.Predictions()

	// 時計を進めずに3件挿入しても作成順の逆順で返る
	var ids []string
	for _, p := range []float64{0.1, 0.2, 0.3} {
		rec := &model.PredictionRecord{UserID: uid, Result: model.PredictionResult{Probability: p}}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	got, err := repo.ListByUserID(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	var gotIDs []string
	for _, r := range got {
		gotIDs = append(gotIDs, r.ID)
	}
	if diff := cmp.Diff([]string{ids[2], ids[1], ids[0]}, gotIDs); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	t.Run("insert for another user is rejected", func(t *testing.T) {
		err := repo.Create(ctx, &model.PredictionRecord{UserID: "someone-else"})
		var dataErr *model.DataError
		if !errors.As(err, &dataErr) || dataErr.Code != "42501" {
			t.Fatalf("expected RLS violation, got %v", err)
		}
	})

	t.Run("delete unknown id", func(t *testing.T) {
		err := repo.DeleteByID(ctx, uid, "missing")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePredictionNotFound {
			t.Fatalf("expected PREDICTION_NOT_FOUND, got %v", err)
		}
	})

	t.Run("delete one then clear", func(t *testing.T) {
		if err := repo.DeleteByID(ctx, uid, ids[0]); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		n, err := repo.DeleteByUserID(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("deleted = %d, want 2", n)
		}
		n, err = repo.DeleteByUserID(ctx, uid)
		if err != nil || n != 0 {
			t.Errorf("clearing empty history = %d, %v", n, err)
		}
	})
}

func TestPredictions_HiddenFromOtherUsers(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	owner, _ := b.SignUp(ctx, "owner@example.com", "secret1", nil)
	rec := &model.PredictionRecord{UserID: owner.UserID()}
	if err := b.Predictions().Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	_ = b.SignOut(ctx)

	if _, err := b.SignUp(ctx, "other@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}
	got, err := b.Predictions().ListByUserID(ctx, owner.UserID())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected other user's rows to be hidden, got %d", len(got))
	}
	if err := b.Predictions().DeleteByID(ctx, owner.UserID(), rec.ID); err == nil {
		t.Error("expected delete of another user's row to fail")
	}
}

func TestProfiles_UpsertKeepsOmittedColumns(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	sess, _ := b.SignUp(ctx, "jane@example.com", "secret1", nil)
	uid := sess.UserID()
	repo := b.Profiles()

	name := "Jane Doe"
	if err := repo.Upsert(ctx, &model.Profile{UserID: uid, FullName: &name}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	avatar := "https://cdn.example.com/a.png"
	if err := repo.Upsert(ctx, &model.Profile{UserID: uid, AvatarURL: &avatar}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	row := b.Profile(uid)
	if row == nil || row.FullName == nil || *row.FullName != "Jane Doe" || row.AvatarURL == nil {
		t.Fatalf("unexpected profile row: %+v", row)
	}

	if err := repo.DeleteByUserID(ctx, uid); err != nil {
		t.Fatal(err)
	}
	if b.Profile(uid) != nil {
		t.Error("expected profile to be deleted")
	}
}

func TestAuth_EventsMatchFinalSession(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.SignUp(ctx, "jane@example.com", "secret1", nil); err != nil {
		t.Fatal(err)
	}
	// 常にマージン内に入るよう、以降の発行分は短い有効期間にする
	b.tokenTTL = 30 * time.Second

	var (
		mu   sync.Mutex
		last backend.AuthEvent
	)
	sub := b.OnAuthStateChange(func(ev backend.AuthEvent) {
		mu.Lock()
		last = ev
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for range 20 {
				_ = b.RefreshIfNeeded(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				_ = b.SignOut(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for range 5 {
				_, _ = b.SignInWithPassword(ctx, "jane@example.com", "secret1")
			}
		}()
	}
	wg.Wait()

	b.mu.Lock()
	current := b.session
	b.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if (last.Session == nil) != (current == nil) {
		t.Fatalf("last event %s disagrees with backend session (nil=%v)", last.Type, current == nil)
	}
	if current != nil && last.Session.AccessToken != current.AccessToken {
		t.Errorf("last event %s carries a stale access token", last.Type)
	}
}

func TestPredictions_ClearReleasesRecords(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	repo := b.Predictions()

	jane, err := b.SignUp(ctx, "jane@example.com", "secret1", nil)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := repo.Create(ctx, &model.PredictionRecord{UserID: jane.UserID()}); err != nil {
			t.Fatal(err)
		}
	}
	bob, err := b.SignUp(ctx, "bob@example.com", "secret1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &model.PredictionRecord{UserID: bob.UserID()}); err != nil {
		t.Fatal(err)
	}

	if _, err := b.SignInWithPassword(ctx, "jane@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	n, err := repo.DeleteByUserID(ctx, jane.UserID())
	if err != nil || n != 3 {
		t.Fatalf("DeleteByUserID = %d, %v, want 3", n, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.predictions) != 1 || b.predictions[0].UserID != bob.UserID() {
		t.Fatalf("remaining rows = %v", b.predictions)
	}
	for i, r := range b.predictions[len(b.predictions):cap(b.predictions)] {
		if r != nil {
			t.Errorf("slot %d still references record %s", i+1, r.ID)
		}
	}
}
