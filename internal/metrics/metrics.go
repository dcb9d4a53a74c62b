// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 同期結果のラベル値。
const (
	SyncResultSuccess        = "success"
	SyncResultBackoff        = "backoff"
	SyncResultStopped        = "stopped"
	SyncResultInvalidPayload = "invalid_payload"
)

// sessionStatuses はセッション状態ゲージのラベル値。
var sessionStatuses = []string{"uninitialized", "loading", "authenticated", "unauthenticated", "error"}

// SyncCollector は同期ワーカーから利用するメトリクス収集のインターフェース。
type SyncCollector interface {
	RecordSyncResult(result string)
	RecordUpstreamStatus(statusCode int)
	RecordSyncLatency(duration time.Duration)
	RecordSnapshotsStored(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
// session.Recorderとしてセッション管理の状態も記録する。
type Collector struct {
	authOps           *prometheus.CounterVec
	authNotifications *prometheus.CounterVec
	sessionStatus     *prometheus.GaugeVec
	syncResults       *prometheus.CounterVec
	upstreamStatus    *prometheus.CounterVec
	syncLatency       prometheus.Histogram
	snapshotsStored   prometheus.Counter
	httpResponses     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growthdash_auth_operations_total",
			Help: "認証操作の実行数（操作種別・結果別）",
		}, []string{"op", "result"}),
		authNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growthdash_auth_notifications_total",
			Help: "認証状態変更通知の受信数（イベント種別別）",
		}, []string{"event"}),
		sessionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growthdash_session_status",
			Help: "現在のセッション状態（該当する状態のみ1）",
		}, []string{"status"}),
		syncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growthdash_sync_results_total",
			Help: "連携同期の結果別件数",
		}, []string{"result"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growthdash_sync_http_status_total",
			Help: "連携先が返したHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "growthdash_sync_latency_seconds",
			Help:    "連携同期のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "growthdash_snapshots_stored_total",
			Help: "保存された指標スナップショットの合計数",
		}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growthdash_http_responses_total",
			Help: "APIが返したHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authOps,
		c.authNotifications,
		c.sessionStatus,
		c.syncResults,
		c.upstreamStatus,
		c.syncLatency,
		c.snapshotsStored,
		c.httpResponses,
	)

	return c
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(op string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authOps.WithLabelValues(op, result).Inc()
}

// RecordAuthNotification は認証状態変更通知の受信を記録する。
func (c *Collector) RecordAuthNotification(eventType string) {
	c.authNotifications.WithLabelValues(eventType).Inc()
}

// SetSessionStatus は現在のセッション状態のみを1とし、他の状態を0にする。
func (c *Collector) SetSessionStatus(status string) {
	for _, s := range sessionStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.sessionStatus.WithLabelValues(s).Set(v)
	}
}

// RecordSyncResult は同期結果を記録する。
func (c *Collector) RecordSyncResult(result string) {
	c.syncResults.WithLabelValues(result).Inc()
}

// RecordUpstreamStatus は連携先のHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordSnapshotsStored は保存されたスナップショット数を記録する。
func (c *Collector) RecordSnapshotsStored(count int) {
	c.snapshotsStored.Add(float64(count))
}

// RecordHTTPResponse はAPIレスポンスのステータスコードを記録する。
func (c *Collector) RecordHTTPResponse(statusCode int) {
	c.httpResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
