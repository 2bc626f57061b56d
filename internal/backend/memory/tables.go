package memory

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/hitoshi/heartrisk/internal/repository"
)

// rlsViolation は他ユーザーの行への書き込みを拒否する際のエラー。
func rlsViolation(table string) *model.DataError {
	return &model.DataError{
		Status:  http.StatusForbidden,
		Code:    "42501",
		Message: `new row violates row-level security policy for table "` + table + `"`,
	}
}

// Profiles はprofilesテーブルのリポジトリを返す。
func (b *Backend) Profiles() repository.ProfileRepository {
	return profileTable{b: b}
}

// Predictions はpredictionsテーブルのリポジトリを返す。
func (b *Backend) Predictions() repository.PredictionRepository {
	return predictionTable{b: b}
}

type profileTable struct {
	b *Backend
}

func (t profileTable) Upsert(_ context.Context, profile *model.Profile) error {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if uid, ok := b.requesterLocked(); !ok || uid != profile.UserID {
		return rlsViolation(repository.TableProfiles)
	}

	row, ok := b.profiles[profile.UserID]
	if !ok {
		row = &model.Profile{UserID: profile.UserID}
	} else {
		copied := *row
		row = &copied
	}
	if profile.FullName != nil {
		name := *profile.FullName
		row.FullName = &name
	}
	if profile.AvatarURL != nil {
		avatar := *profile.AvatarURL
		row.AvatarURL = &avatar
	}
	row.UpdatedAt = profile.UpdatedAt
	b.profiles[profile.UserID] = row
	return nil
}

func (t profileTable) DeleteByUserID(_ context.Context, userID string) error {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	// 行レベルセキュリティにより他ユーザーの行は対象外になる
	if uid, ok := b.requesterLocked(); ok && uid == userID {
		delete(b.profiles, userID)
	}
	return nil
}

// Profile は指定ユーザーのプロフィール行を返す。存在しない場合はnilを返す。
func (b *Backend) Profile(userID string) *model.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.profiles[userID]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

type predictionTable struct {
	b *Backend
}

func (t predictionTable) Create(_ context.Context, record *model.PredictionRecord) error {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if uid, ok := b.requesterLocked(); !ok || uid != record.UserID {
		return rlsViolation(repository.TablePredictions)
	}

	// created_atは単調増加させ、同一時刻の挿入でも順序が決まるようにする
	created := b.now().UTC()
	if !created.After(b.lastCreated) {
		created = b.lastCreated.Add(time.Microsecond)
	}
	b.lastCreated = created

	record.ID = uuid.NewString()
	record.CreatedAt = created
	copied := *record
	b.predictions = append(b.predictions, &copied)
	return nil
}

func (t predictionTable) ListByUserID(_ context.Context, userID string) ([]*model.PredictionRecord, error) {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	records := []*model.PredictionRecord{}
	uid, ok := b.requesterLocked()
	if !ok || uid != userID {
		return records, nil
	}

	for _, r := range b.predictions {
		if r.UserID == userID {
			copied := *r
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (t predictionTable) DeleteByID(_ context.Context, userID, id string) error {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if uid, ok := b.requesterLocked(); ok && uid == userID {
		for i, r := range b.predictions {
			if r.ID == id && r.UserID == userID {
				b.predictions = slices.Delete(b.predictions, i, i+1)
				return nil
			}
		}
	}
	return model.NewPredictionNotFoundError(id)
}

func (t predictionTable) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	uid, ok := b.requesterLocked()
	if !ok || uid != userID {
		return 0, nil
	}

	before := len(b.predictions)
	b.predictions = slices.DeleteFunc(b.predictions, func(r *model.PredictionRecord) bool {
		return r.UserID == userID
	})
	return int64(before - len(b.predictions)), nil
}

var (
	_ repository.ProfileRepository    = profileTable{}
	_ repository.PredictionRepository = predictionTable{}
)
