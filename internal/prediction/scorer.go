package prediction

import (
	"context"
	"math/rand/v2"

	"github.com/hitoshi/heartrisk/internal/model"
)

// Scorer は入力特徴量からリスク確率（0〜1）を算出する。
type Scorer interface {
	Score(ctx context.Context, f model.InputFeatures) (float64, error)
}

// RandomScorer は一様乱数を確率として返すモック実装。
// 学習済みモデルが用意されるまでの暫定実装。
type RandomScorer struct{}

// Score は[0, 1)の乱数を返す。
func (RandomScorer) Score(_ context.Context, _ model.InputFeatures) (float64, error) {
	return rand.Float64(), nil
}

// ScorerFunc は関数をScorerとして扱うためのアダプター。
type ScorerFunc func(ctx context.Context, f model.InputFeatures) (float64, error)

// Score はf(ctx, features)を呼び出す。
func (fn ScorerFunc) Score(ctx context.Context, f model.InputFeatures) (float64, error) {
	return fn(ctx, f)
}
