package model

import "time"

// MetricKind はダッシュボードに表示する集計済み指標の種別。
type MetricKind string

const (
	MetricConversationsProcessed MetricKind = "conversations_processed"
	MetricLeadsQualified         MetricKind = "leads_qualified"
	MetricWebSessions            MetricKind = "web_sessions"
	MetricAdROI                  MetricKind = "ad_roi"
	MetricGrowthScore            MetricKind = "growth_score"
	MetricAttendanceRate         MetricKind = "attendance_rate"
)

// AllMetricKinds はダッシュボードの表示順に並べた全指標。
var AllMetricKinds = []MetricKind{
	MetricConversationsProcessed,
	MetricLeadsQualified,
	MetricWebSessions,
	MetricAdROI,
	MetricGrowthScore,
	MetricAttendanceRate,
}

// Valid は定義済みの指標かどうかを返す。
func (k MetricKind) Valid() bool {
	for _, m := range AllMetricKinds {
		if m == k {
			return true
		}
	}
	return false
}

// MetricSnapshot は外部連携から取得した指標のある時点の値。
type MetricSnapshot struct {
	ID            string
	ClientID      string
	IntegrationID string
	Metric        MetricKind
	Value         float64
	CapturedAt    time.Time
	CreatedAt     time.Time
}

// MetricSample は連携先から取得した未保存の指標値。
// 同期ワーカーがパースした後、analytics.Service.Recordに渡される。
type MetricSample struct {
	Metric     MetricKind
	Value      float64
	CapturedAt time.Time
}

// MetricValue はダッシュボードに表示する指標の最新値と前回値からの変化量。
type MetricValue struct {
	Value      float64
	Change     float64
	HasPrior   bool
	CapturedAt time.Time
}

// DashboardSummary は顧客ダッシュボードの集計結果。
type DashboardSummary struct {
	ClientID     string
	Metrics      map[MetricKind]MetricValue
	ActiveAgents int
	Integrations IntegrationHealth
	GeneratedAt  time.Time
}
