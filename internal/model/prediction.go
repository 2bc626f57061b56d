package model

import "time"

// InputFeatures はフォームで入力される13項目の診断特徴量。
// JSONキーはpredictions.input_featuresカラムの形式に合わせる。
type InputFeatures struct {
	Age      int     `json:"age"`
	Sex      int     `json:"sex"`
	CP       int     `json:"cp"`
	Trestbps int     `json:"trestbps"`
	Chol     int     `json:"chol"`
	FBS      int     `json:"fbs"`
	RestECG  int     `json:"restecg"`
	Thalach  int     `json:"thalach"`
	Exang    int     `json:"exang"`
	Oldpeak  float64 `json:"oldpeak"`
	Slope    int     `json:"slope"`
	CA       int     `json:"ca"`
	Thal     int     `json:"thal"`
}

// PredictionResult は予測結果。現状は確率値のみを持つ。
type PredictionResult struct {
	Probability float64 `json:"probability"`
}

// PredictionRecord はpredictionsテーブルの1行を表す。
// 作成後は削除以外で変更されない。
type PredictionRecord struct {
	ID            string
	UserID        string
	CreatedAt     time.Time
	InputFeatures InputFeatures
	Result        PredictionResult
}

// RiskLevel は確率値から導かれるリスク区分。
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// ClassifyRisk は確率値をリスク区分に変換する。
// 0.7以上をHigh、0.4以上をModerate、それ未満をLowとする。
func ClassifyRisk(probability float64) RiskLevel {
	switch {
	case probability >= 0.7:
		return RiskHigh
	case probability >= 0.4:
		return RiskModerate
	default:
		return RiskLow
	}
}
