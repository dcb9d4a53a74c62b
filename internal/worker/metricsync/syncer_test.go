package metricsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/growthdash/internal/integration"
	"github.com/hitoshi/growthdash/internal/metrics"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/security"
)

// --- モック定義 ---

type mockPuller struct {
	pullFunc func(ctx context.Context, integ *model.Integration) (*integration.PullResult, error)
}

func (m *mockPuller) Pull(ctx context.Context, integ *model.Integration) (*integration.PullResult, error) {
	return m.pullFunc(ctx, integ)
}

type mockRecorder struct {
	recordFunc func(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error)
}

func (m *mockRecorder) Record(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error) {
	if m.recordFunc != nil {
		return m.recordFunc(ctx, clientID, integrationID, samples)
	}
	return len(samples), nil
}

type mockStateUpdater struct {
	updated []model.Integration
	err     error
}

func (m *mockStateUpdater) UpdateSyncState(ctx context.Context, integ *model.Integration) error {
	m.updated = append(m.updated, *integ)
	return m.err
}

// recordingCollector はmetrics.SyncCollectorの記録内容を保持する。
type recordingCollector struct {
	mu       sync.Mutex
	results  []string
	statuses []int
	stored   int
}

func (c *recordingCollector) RecordSyncResult(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *recordingCollector) RecordUpstreamStatus(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusCode)
}

func (c *recordingCollector) RecordSyncLatency(time.Duration) {}

func (c *recordingCollector) RecordSnapshotsStored(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored += count
}

var _ metrics.SyncCollector = (*recordingCollector)(nil)

func newTestIntegration() *model.Integration {
	return &model.Integration{
		ID:                  "integ-1",
		ClientID:            "client-1",
		EndpointURL:         "https://api.example.com/metrics",
		Status:              model.IntegrationStatusConnected,
		SyncIntervalMinutes: 60,
	}
}

func newTestSyncer(puller Puller, recorder SnapshotRecorder, states *mockStateUpdater, collector *recordingCollector) *Syncer {
	var buf bytes.Buffer
	s := NewSyncer(states, puller, recorder, collector, newTestLogger(&buf))
	s.now = func() time.Time { return testNow }
	return s
}

func pullStatus(status int, samples ...model.MetricSample) *mockPuller {
	return &mockPuller{
		pullFunc: func(context.Context, *model.Integration) (*integration.PullResult, error) {
			return &integration.PullResult{StatusCode: status, Samples: samples}, nil
		},
	}
}

func TestSyncer_Sync_Success(t *testing.T) {
	samples := []model.MetricSample{
		{Metric: model.MetricLeadsQualified, Value: 12, CapturedAt: testNow},
		{Metric: model.MetricWebSessions, Value: 3400, CapturedAt: testNow},
	}
	var gotClientID, gotIntegrationID string
	recorder := &mockRecorder{
		recordFunc: func(_ context.Context, clientID, integrationID string, s []model.MetricSample) (int, error) {
			gotClientID, gotIntegrationID = clientID, integrationID
			return len(s), nil
		},
	}
	states := &mockStateUpdater{}
	collector := &recordingCollector{}

	integ := newTestIntegration()
	integ.ConsecutiveErrors = 3
	integ.Status = model.IntegrationStatusError

	s := newTestSyncer(pullStatus(200, samples...), recorder, states, collector)
	if err := s.Sync(context.Background(), integ); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if gotClientID != "client-1" || gotIntegrationID != "integ-1" {
		t.Errorf("Record(%q, %q)", gotClientID, gotIntegrationID)
	}
	if len(states.updated) != 1 {
		t.Fatalf("UpdateSyncState calls = %d, want 1", len(states.updated))
	}
	saved := states.updated[0]
	if saved.Status != model.IntegrationStatusConnected || saved.ConsecutiveErrors != 0 {
		t.Errorf("saved state = %+v, want connected without errors", saved)
	}
	if !saved.NextSyncAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("NextSyncAt = %v, want now+60m", saved.NextSyncAt)
	}
	if collector.stored != 2 || len(collector.results) != 1 || collector.results[0] != metrics.SyncResultSuccess {
		t.Errorf("collector = %+v", collector)
	}
	if len(collector.statuses) != 1 || collector.statuses[0] != 200 {
		t.Errorf("upstream statuses = %v, want [200]", collector.statuses)
	}
}

func TestSyncer_Sync_HTTPStatus(t *testing.T) {
	tests := []struct {
		status     int
		wantStatus model.IntegrationStatus
		wantResult string
		wantErrors int
	}{
		{401, model.IntegrationStatusDisconnected, metrics.SyncResultStopped, 0},
		{403, model.IntegrationStatusDisconnected, metrics.SyncResultStopped, 0},
		{404, model.IntegrationStatusDisconnected, metrics.SyncResultStopped, 0},
		{410, model.IntegrationStatusDisconnected, metrics.SyncResultStopped, 0},
		{429, model.IntegrationStatusError, metrics.SyncResultBackoff, 1},
		{503, model.IntegrationStatusError, metrics.SyncResultBackoff, 1},
		{400, model.IntegrationStatusError, metrics.SyncResultBackoff, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			recorder := &mockRecorder{
				recordFunc: func(context.Context, string, string, []model.MetricSample) (int, error) {
					t.Error("200以外ではRecordが呼ばれるべきではない")
					return 0, nil
				},
			}
			states := &mockStateUpdater{}
			collector := &recordingCollector{}

			s := newTestSyncer(pullStatus(tt.status), recorder, states, collector)
			if err := s.Sync(context.Background(), newTestIntegration()); err != nil {
				t.Fatalf("Sync() error = %v", err)
			}

			saved := states.updated[0]
			if saved.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", saved.Status, tt.wantStatus)
			}
			if saved.ConsecutiveErrors != tt.wantErrors {
				t.Errorf("ConsecutiveErrors = %d, want %d", saved.ConsecutiveErrors, tt.wantErrors)
			}
			if saved.LastError == "" {
				t.Error("LastError should be set")
			}
			if collector.results[0] != tt.wantResult {
				t.Errorf("result = %q, want %q", collector.results[0], tt.wantResult)
			}
		})
	}
}

func TestSyncer_Sync_BackoffSchedulesNextSync(t *testing.T) {
	states := &mockStateUpdater{}
	integ := newTestIntegration()
	integ.ConsecutiveErrors = 1

	s := newTestSyncer(pullStatus(503), &mockRecorder{}, states, &recordingCollector{})
	if err := s.Sync(context.Background(), integ); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// 2回目のエラー: 30分 * 2 = 1時間
	if want := testNow.Add(time.Hour); !states.updated[0].NextSyncAt.Equal(want) {
		t.Errorf("NextSyncAt = %v, want %v", states.updated[0].NextSyncAt, want)
	}
}

func TestSyncer_Sync_PullErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErr    bool
		wantStatus model.IntegrationStatus
		wantResult string
	}{
		{
			name:       "blocked endpoint",
			err:        fmt.Errorf("エンドポイントの検証に失敗: %w", security.ErrBlockedEndpoint),
			wantErr:    true,
			wantStatus: model.IntegrationStatusDisconnected,
			wantResult: metrics.SyncResultStopped,
		},
		{
			name:       "invalid payload",
			err:        fmt.Errorf("%w: metrics field is missing", integration.ErrInvalidPayload),
			wantErr:    false,
			wantStatus: model.IntegrationStatusError,
			wantResult: metrics.SyncResultInvalidPayload,
		},
		{
			name:       "network error",
			err:        errors.New("connection reset by peer"),
			wantErr:    true,
			wantStatus: model.IntegrationStatusError,
			wantResult: metrics.SyncResultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			puller := &mockPuller{
				pullFunc: func(context.Context, *model.Integration) (*integration.PullResult, error) {
					return nil, tt.err
				},
			}
			states := &mockStateUpdater{}
			collector := &recordingCollector{}

			s := newTestSyncer(puller, &mockRecorder{}, states, collector)
			err := s.Sync(context.Background(), newTestIntegration())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Sync() error = %v, wantErr %v", err, tt.wantErr)
			}

			if len(states.updated) != 1 {
				t.Fatalf("UpdateSyncState calls = %d, want 1", len(states.updated))
			}
			if got := states.updated[0].Status; got != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got, tt.wantStatus)
			}
			if collector.results[0] != tt.wantResult {
				t.Errorf("result = %q, want %q", collector.results[0], tt.wantResult)
			}
			if len(collector.statuses) != 0 {
				t.Errorf("upstream status should not be recorded without a response: %v", collector.statuses)
			}
		})
	}
}

func TestSyncer_Sync_RecordFailureBacksOff(t *testing.T) {
	recordErr := errors.New("insert failed")
	recorder := &mockRecorder{
		recordFunc: func(context.Context, string, string, []model.MetricSample) (int, error) {
			return 0, recordErr
		},
	}
	states := &mockStateUpdater{}

	s := newTestSyncer(pullStatus(200, model.MetricSample{Metric: model.MetricAdROI, Value: 1.5}), recorder, states, &recordingCollector{})
	err := s.Sync(context.Background(), newTestIntegration())
	if !errors.Is(err, recordErr) {
		t.Fatalf("Sync() error = %v, want %v", err, recordErr)
	}
	if got := states.updated[0]; got.Status != model.IntegrationStatusError || got.ConsecutiveErrors != 1 {
		t.Errorf("saved state = %+v, want error with 1 consecutive error", got)
	}
}

func TestSyncer_Sync_StateUpdateFailure(t *testing.T) {
	updateErr := errors.New("update failed")
	states := &mockStateUpdater{err: updateErr}

	s := newTestSyncer(pullStatus(200), &mockRecorder{}, states, &recordingCollector{})
	if err := s.Sync(context.Background(), newTestIntegration()); !errors.Is(err, updateErr) {
		t.Errorf("Sync() error = %v, want %v", err, updateErr)
	}
}

func TestNewSyncer_NilCollector(t *testing.T) {
	var buf bytes.Buffer
	s := NewSyncer(&mockStateUpdater{}, pullStatus(200), &mockRecorder{}, nil, newTestLogger(&buf))

	if err := s.Sync(context.Background(), newTestIntegration()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}
