// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/heartrisk/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションコンテナ、バックエンドクライアント、予測サービス、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event string)
	RecordAuthOperation(op string, err error)
	RecordBackendRequest(api string, status int, duration time.Duration)
	RecordPredictionSaved(level model.RiskLevel)
	RecordValidationFailure()
	RecordRefresh(err error)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents         *prometheus.CounterVec
	authOperations     *prometheus.CounterVec
	backendRequests    *prometheus.CounterVec
	backendLatency     *prometheus.HistogramVec
	predictionsSaved   *prometheus.CounterVec
	validationFailures prometheus.Counter
	refreshes          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartrisk_auth_events_total",
			Help: "セッション変更通知の種別ごとの受信数",
		}, []string{"event"}),
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartrisk_auth_operations_total",
			Help: "セッション操作の結果ごとの実行数",
		}, []string{"operation", "result"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartrisk_backend_requests_total",
			Help: "バックエンドAPI呼び出しのステータスコード別の数",
		}, []string{"api", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heartrisk_backend_request_duration_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		predictionsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartrisk_predictions_saved_total",
			Help: "リスク区分ごとの保存された予測数",
		}, []string{"risk_level"}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartrisk_validation_failures_total",
			Help: "フォーム検証エラーの合計数",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartrisk_session_refresh_total",
			Help: "バックグラウンドのセッション更新の結果ごとの実行数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.authOperations,
		c.backendRequests,
		c.backendLatency,
		c.predictionsSaved,
		c.validationFailures,
		c.refreshes,
	)

	return c
}

// RecordAuthEvent はセッション変更通知を記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordAuthOperation はセッション操作の結果を記録する。
func (c *Collector) RecordAuthOperation(op string, err error) {
	c.authOperations.WithLabelValues(op, result(err)).Inc()
}

// RecordBackendRequest はバックエンド呼び出しを記録する。通信エラーはstatus 0として記録する。
func (c *Collector) RecordBackendRequest(api string, status int, duration time.Duration) {
	c.backendRequests.WithLabelValues(api, strconv.Itoa(status)).Inc()
	c.backendLatency.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordPredictionSaved は予測の保存を記録する。
func (c *Collector) RecordPredictionSaved(level model.RiskLevel) {
	c.predictionsSaved.WithLabelValues(string(level)).Inc()
}

// RecordValidationFailure はフォーム検証エラーを記録する。
func (c *Collector) RecordValidationFailure() {
	c.validationFailures.Inc()
}

// RecordRefresh はセッション更新の結果を記録する。
func (c *Collector) RecordRefresh(err error) {
	c.refreshes.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
