package metricsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/growthdash/internal/integration"
	"github.com/hitoshi/growthdash/internal/metrics"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/security"
)

// Puller は連携先からの指標取得のインターフェース。
type Puller interface {
	Pull(ctx context.Context, integ *model.Integration) (*integration.PullResult, error)
}

// SnapshotRecorder は取得した指標を保存するインターフェース。
type SnapshotRecorder interface {
	Record(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error)
}

// StateUpdater は連携の同期状態を永続化するインターフェース。
type StateUpdater interface {
	UpdateSyncState(ctx context.Context, integ *model.Integration) error
}

type noopCollector struct{}

func (noopCollector) RecordSyncResult(string)         {}
func (noopCollector) RecordUpstreamStatus(int)        {}
func (noopCollector) RecordSyncLatency(time.Duration) {}
func (noopCollector) RecordSnapshotsStored(int)       {}

// Syncer は個別の連携について指標の取得・保存と同期状態の更新を行う。
type Syncer struct {
	states    StateUpdater
	puller    Puller
	recorder  SnapshotRecorder
	collector metrics.SyncCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewSyncer(
	states StateUpdater,
	puller Puller,
	recorder SnapshotRecorder,
	collector metrics.SyncCollector,
	logger *slog.Logger,
) *Syncer {
	if collector == nil {
		collector = noopCollector{}
	}
	return &Syncer{
		states:    states,
		puller:    puller,
		recorder:  recorder,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync は連携先から指標を取得して保存し、結果に応じて同期状態を更新する。
// IntegrationSyncerインターフェースを実装する。
func (s *Syncer) Sync(ctx context.Context, integ *model.Integration) error {
	start := s.now()

	result, err := s.puller.Pull(ctx, integ)
	s.collector.RecordSyncLatency(s.now().Sub(start))

	if err != nil {
		return s.handlePullError(ctx, integ, err)
	}

	s.collector.RecordUpstreamStatus(result.StatusCode)

	switch ClassifyHTTPStatus(result.StatusCode) {
	case PullOutcomeStop:
		// 401/403/404/410: 同期停止
		reason := fmt.Sprintf("HTTPステータス %d により同期を停止しました", result.StatusCode)
		s.logger.Warn("連携の同期を停止します",
			slog.String("integration_id", integ.ID),
			slog.Int("http_status", result.StatusCode),
			slog.String("reason", reason),
		)
		ApplyStop(integ, reason)
		s.collector.RecordSyncResult(metrics.SyncResultStopped)
		return s.saveState(ctx, integ)

	case PullOutcomeBackoff:
		// 429/5xx: バックオフ
		s.logger.Warn("連携の同期にバックオフを適用します",
			slog.String("integration_id", integ.ID),
			slog.Int("http_status", result.StatusCode),
			slog.Int("consecutive_errors", integ.ConsecutiveErrors+1),
		)
		ApplyBackoff(integ, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", result.StatusCode), s.now())
		s.collector.RecordSyncResult(metrics.SyncResultBackoff)
		return s.saveState(ctx, integ)

	case PullOutcomeOK:
		// 200: 以下で保存処理を続行
	default:
		s.logger.Warn("予期しないHTTPステータスコード",
			slog.String("integration_id", integ.ID),
			slog.Int("http_status", result.StatusCode),
		)
		ApplyBackoff(integ, fmt.Sprintf("予期しないHTTPステータス: %d", result.StatusCode), s.now())
		s.collector.RecordSyncResult(metrics.SyncResultBackoff)
		return s.saveState(ctx, integ)
	}

	stored, err := s.recorder.Record(ctx, integ.ClientID, integ.ID, result.Samples)
	if err != nil {
		s.logger.Error("指標の保存に失敗しました",
			slog.String("integration_id", integ.ID),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(integ, fmt.Sprintf("指標の保存に失敗: %s", err.Error()), s.now())
		s.collector.RecordSyncResult(metrics.SyncResultBackoff)
		if updateErr := s.saveState(ctx, integ); updateErr != nil {
			return errors.Join(err, updateErr)
		}
		return err
	}

	ApplySuccess(integ, s.now())
	s.collector.RecordSnapshotsStored(stored)
	s.collector.RecordSyncResult(metrics.SyncResultSuccess)
	if err := s.saveState(ctx, integ); err != nil {
		return err
	}

	s.logger.Info("連携の同期が完了しました",
		slog.String("integration_id", integ.ID),
		slog.String("client_id", integ.ClientID),
		slog.Int("samples_total", len(result.Samples)),
		slog.Int("snapshots_stored", stored),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}

// handlePullError は取得エラーを分類して同期状態に反映する。
func (s *Syncer) handlePullError(ctx context.Context, integ *model.Integration, err error) error {
	switch {
	case errors.Is(err, security.ErrBlockedEndpoint), errors.Is(err, security.ErrInvalidEndpoint):
		s.logger.Error("エンドポイントの検証に失敗しました",
			slog.String("integration_id", integ.ID),
			slog.String("error", err.Error()),
		)
		ApplyStop(integ, fmt.Sprintf("エンドポイント検証失敗: %s", err.Error()))
		s.collector.RecordSyncResult(metrics.SyncResultStopped)
		if updateErr := s.saveState(ctx, integ); updateErr != nil {
			return errors.Join(err, updateErr)
		}
		return err

	case errors.Is(err, integration.ErrInvalidPayload):
		s.logger.Error("指標ペイロードの解釈に失敗しました",
			slog.String("integration_id", integ.ID),
			slog.String("error", err.Error()),
		)
		ApplyInvalidPayload(integ, err.Error(), s.now())
		s.collector.RecordSyncResult(metrics.SyncResultInvalidPayload)
		// 不正ペイロードは同期エラーとしない（カウントして継続）
		return s.saveState(ctx, integ)

	default:
		s.logger.Error("HTTPリクエストに失敗しました",
			slog.String("integration_id", integ.ID),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(integ, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), s.now())
		s.collector.RecordSyncResult(metrics.SyncResultBackoff)
		if updateErr := s.saveState(ctx, integ); updateErr != nil {
			return errors.Join(err, updateErr)
		}
		return err
	}
}

func (s *Syncer) saveState(ctx context.Context, integ *model.Integration) error {
	if err := s.states.UpdateSyncState(ctx, integ); err != nil {
		s.logger.Error("同期状態の更新に失敗しました",
			slog.String("integration_id", integ.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
