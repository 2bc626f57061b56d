package prediction

import "github.com/hitoshi/heartrisk/internal/model"

// rangeCheck は1項目の範囲検証ルール。
type rangeCheck struct {
	invalid func(f model.InputFeatures) bool
	message string
}

// rangeChecks はフォーム項目の検証ルール。先頭から順に評価し、最初の違反を返す。
var rangeChecks = []rangeCheck{
	{func(f model.InputFeatures) bool { return f.Age <= 0 }, "Age must be greater than 0"},
	{func(f model.InputFeatures) bool { return f.Sex < 0 || f.Sex > 1 }, "Sex must be 0 or 1"},
	{func(f model.InputFeatures) bool { return f.CP < 0 || f.CP > 3 }, "CP must be between 0 and 3"},
	{func(f model.InputFeatures) bool { return f.Trestbps <= 0 }, "Resting blood pressure must be greater than 0"},
	{func(f model.InputFeatures) bool { return f.Chol <= 0 }, "Cholesterol must be greater than 0"},
	{func(f model.InputFeatures) bool { return f.FBS < 0 || f.FBS > 1 }, "FBS must be 0 or 1"},
	{func(f model.InputFeatures) bool { return f.RestECG < 0 || f.RestECG > 2 }, "RestECG must be between 0 and 2"},
	{func(f model.InputFeatures) bool { return f.Thalach <= 0 }, "Maximum heart rate must be greater than 0"},
	{func(f model.InputFeatures) bool { return f.Exang < 0 || f.Exang > 1 }, "Exercise induced angina must be 0 or 1"},
	{func(f model.InputFeatures) bool { return f.Oldpeak < 0 }, "ST depression must be non-negative"},
	{func(f model.InputFeatures) bool { return f.Slope < 0 || f.Slope > 2 }, "Slope must be between 0 and 2"},
	{func(f model.InputFeatures) bool { return f.CA < 0 || f.CA > 3 }, "Number of vessels must be between 0 and 3"},
	{func(f model.InputFeatures) bool { return f.Thal < 0 || f.Thal > 3 }, "Thal must be between 0 and 3"},
}

// Validate はフォーム入力の範囲を検証する。
// 違反がある場合は最初の違反に対応するVALIDATION_FAILEDエラーを返す。
func Validate(f model.InputFeatures) error {
	for _, c := range rangeChecks {
		if c.invalid(f) {
			return model.NewValidationError(c.message)
		}
	}
	return nil
}
