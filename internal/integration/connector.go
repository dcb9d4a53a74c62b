package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/security"
)

const userAgent = "growthdash/1.0 metrics-sync"

var (
	// ErrInvalidPayload は連携先のレスポンスが指標ペイロードとして解釈できないことを示す。
	ErrInvalidPayload = errors.New("invalid metrics payload")
	// ErrPayloadTooLarge はレスポンスボディがサイズ上限を超えたことを示す。
	ErrPayloadTooLarge = errors.New("metrics payload too large")
)

// PullResult は連携先からの指標取得結果。
// StatusCodeが200以外の場合、Samplesは空となる。
type PullResult struct {
	StatusCode int
	Samples    []model.MetricSample
}

// metricsPayload は連携先エンドポイントのレスポンス形式。
type metricsPayload struct {
	Metrics []struct {
		Metric     string   `json:"metric"`
		Value      *float64 `json:"value"`
		CapturedAt string   `json:"captured_at"`
	} `json:"metrics"`
}

// Connector は連携先エンドポイントから集計済み指標を取得する。
// SSRF対策済みのHTTPクライアントを使用し、レスポンスサイズを制限する。
type Connector struct {
	guard       security.EndpointGuard
	httpClient  *http.Client
	logger      *slog.Logger
	maxBodySize int64
}

// NewConnector はConnectorの新しいインスタンスを生成する。
func NewConnector(guard security.EndpointGuard, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Connector {
	return &Connector{
		guard:       guard,
		httpClient:  guard.NewSafeClient(timeout),
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Pull は連携先エンドポイントから指標を取得する。
// 200以外のHTTPステータスはエラーとせずPullResult.StatusCodeで返し、
// 分類は呼び出し側に委ねる。ボディの解釈に失敗した場合はErrInvalidPayloadをラップして返す。
func (c *Connector) Pull(ctx context.Context, integ *model.Integration) (*PullResult, error) {
	if err := c.guard.ValidateEndpoint(integ.EndpointURL); err != nil {
		return nil, fmt.Errorf("エンドポイントの検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, integ.EndpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	result := &PullResult{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		// 接続を再利用できるよう読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodySize))
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return result, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return result, fmt.Errorf("%w: %w (limit %d bytes)", ErrInvalidPayload, ErrPayloadTooLarge, c.maxBodySize)
	}

	samples, skipped, err := parseMetrics(body)
	if err != nil {
		return result, err
	}
	if skipped > 0 {
		c.logger.Warn("未定義または不正な指標を読み飛ばしました",
			slog.String("integration_id", integ.ID),
			slog.Int("skipped", skipped),
		)
	}

	result.Samples = samples
	return result, nil
}

// parseMetrics は指標ペイロードをパースし、解釈できた指標と読み飛ばした件数を返す。
func parseMetrics(body []byte) ([]model.MetricSample, int, error) {
	var payload metricsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Metrics == nil {
		return nil, 0, fmt.Errorf("%w: metrics field is missing", ErrInvalidPayload)
	}

	samples := make([]model.MetricSample, 0, len(payload.Metrics))
	skipped := 0
	for _, m := range payload.Metrics {
		kind := model.MetricKind(m.Metric)
		if !kind.Valid() || m.Value == nil {
			skipped++
			continue
		}

		sample := model.MetricSample{Metric: kind, Value: *m.Value}
		if m.CapturedAt != "" {
			t, err := time.Parse(time.RFC3339, m.CapturedAt)
			if err != nil {
				skipped++
				continue
			}
			sample.CapturedAt = t
		}
		samples = append(samples, sample)
	}
	return samples, skipped, nil
}
