// Package metricsync は外部連携からの指標のバックグラウンド同期処理を提供する。
// スケジューラ、同期処理、リトライ/バックオフ戦略を含む。
package metricsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// DueLister は同期対象の連携を取得するインターフェース。
type DueLister interface {
	ListDueForSync(ctx context.Context) ([]*model.Integration, error)
}

// IntegrationSyncer は連携の同期の実行インターフェース。
type IntegrationSyncer interface {
	// Sync は指定連携を同期し、結果に応じて同期状態を更新する。
	Sync(ctx context.Context, integ *model.Integration) error
}

// Scheduler は連携の同期のスケジューリングと並列制御を行う。
// ティッカーで同期対象の連携を取得し、
// semaphoreパターンで最大並列数を制御しながら同期を実行する。
type Scheduler struct {
	repo           DueLister
	syncer         IntegrationSyncer
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(repo DueLister, syncer IntegrationSyncer, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		repo:           repo,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は同期対象の連携を1回取得し、並列で同期を実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 同期対象の連携を取得（FOR UPDATE SKIP LOCKED）
	integrations, err := s.repo.ListDueForSync(ctx)
	if err != nil {
		return err
	}

	if len(integrations) == 0 {
		s.logger.Debug("同期対象の連携はありません")
		return nil
	}

	s.logger.Info("同期サイクルを開始します",
		slog.Int("integration_count", len(integrations)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, integ := range integrations {
		select {
		case <-ctx.Done():
			// 未開始の連携は次回のサイクルで再取得される
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(in *model.Integration) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.syncer.Sync(ctx, in); err != nil {
				s.logger.Error("連携の同期に失敗しました",
					slog.String("integration_id", in.ID),
					slog.String("endpoint_url", in.EndpointURL),
					slog.String("error", err.Error()),
				)
			}
		}(integ)
	}

	wg.Wait()

	s.logger.Info("同期サイクルが完了しました",
		slog.Int("integration_count", len(integrations)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
