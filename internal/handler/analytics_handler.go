package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
)

// defaultSeriesWindow はfrom・toが省略された場合の集計期間。
const defaultSeriesWindow = 30 * 24 * time.Hour

// AnalyticsHandler は指標の時系列とダッシュボード集計のHTTPハンドラー。
type AnalyticsHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{logger: logger, now: time.Now}
}

// seriesPointResponse は時系列の1点。
type seriesPointResponse struct {
	Value         float64   `json:"value"`
	CapturedAt    time.Time `json:"captured_at"`
	IntegrationID string    `json:"integration_id"`
}

// seriesResponse は指標の時系列のJSONレスポンス。
type seriesResponse struct {
	ClientID string                `json:"client_id"`
	Metric   string                `json:"metric"`
	From     time.Time             `json:"from"`
	To       time.Time             `json:"to"`
	Points   []seriesPointResponse `json:"points"`
}

// metricValueResponse はダッシュボードの指標1件。
type metricValueResponse struct {
	Value      float64   `json:"value"`
	Change     *float64  `json:"change,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// integrationHealthResponse は連携状態の集計。
type integrationHealthResponse struct {
	Connected    int `json:"connected"`
	Error        int `json:"error"`
	Disconnected int `json:"disconnected"`
}

// dashboardResponse はダッシュボード集計のJSONレスポンス。
type dashboardResponse struct {
	ClientID     string                         `json:"client_id"`
	Metrics      map[string]metricValueResponse `json:"metrics"`
	ActiveAgents int                            `json:"active_agents"`
	Integrations integrationHealthResponse      `json:"integrations"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// Series は指標の時系列を返す。
// GET /api/clients/{clientID}/metrics/{metric}?from=RFC3339&to=RFC3339
// fromとtoを省略した場合は直近30日間とする。
func (h *AnalyticsHandler) Series(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	clientID := chi.URLParam(r, "clientID")
	metric := model.MetricKind(chi.URLParam(r, "metric"))

	snapshots, err := apiset.MustAccess(r.Context()).Analytics().Series(r.Context(), clientID, metric, from, to)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	points := make([]seriesPointResponse, len(snapshots))
	for i, s := range snapshots {
		points[i] = seriesPointResponse{
			Value:         s.Value,
			CapturedAt:    s.CapturedAt,
			IntegrationID: s.IntegrationID,
		}
	}
	writeJSON(w, http.StatusOK, seriesResponse{
		ClientID: clientID,
		Metric:   string(metric),
		From:     from,
		To:       to,
		Points:   points,
	})
}

// Dashboard は顧客ダッシュボードの集計結果を返す。
// GET /api/clients/{clientID}/dashboard
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := apiset.MustAccess(r.Context()).Dashboard().Summary(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	metrics := make(map[string]metricValueResponse, len(summary.Metrics))
	for kind, v := range summary.Metrics {
		mv := metricValueResponse{Value: v.Value, CapturedAt: v.CapturedAt}
		if v.HasPrior {
			change := v.Change
			mv.Change = &change
		}
		metrics[string(kind)] = mv
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		ClientID:     summary.ClientID,
		Metrics:      metrics,
		ActiveAgents: summary.ActiveAgents,
		Integrations: integrationHealthResponse{
			Connected:    summary.Integrations.Connected,
			Error:        summary.Integrations.Error,
			Disconnected: summary.Integrations.Disconnected,
		},
		GeneratedAt: summary.GeneratedAt,
	})
}

// parseRange はクエリパラメータfrom・toを解析する。
func (h *AnalyticsHandler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	to := h.now().UTC()
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewInvalidRangeError("toはRFC3339形式で指定してください")
		}
		to = t
	}

	from := to.Add(-defaultSeriesWindow)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewInvalidRangeError("fromはRFC3339形式で指定してください")
		}
		from = t
	}

	return from, to, nil
}
