// Package dashboard は顧客ダッシュボードの集計を提供する。
package dashboard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/repository"
)

var _ apiset.Dashboard = (*Service)(nil)

// Service はダッシュボード集計のサービス層。
// 指標、エージェント数、連携状態をそれぞれ並行に取得して1つのサマリーにまとめる。
type Service struct {
	clientRepo      repository.ClientRepository
	snapshotRepo    repository.SnapshotRepository
	agentRepo       repository.AgentRepository
	integrationRepo repository.IntegrationRepository
	now             func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	clientRepo repository.ClientRepository,
	snapshotRepo repository.SnapshotRepository,
	agentRepo repository.AgentRepository,
	integrationRepo repository.IntegrationRepository,
) *Service {
	return &Service{
		clientRepo:      clientRepo,
		snapshotRepo:    snapshotRepo,
		agentRepo:       agentRepo,
		integrationRepo: integrationRepo,
		now:             time.Now,
	}
}

// Summary は顧客のダッシュボードサマリーを返す。
// いずれかの取得に失敗した場合は残りの取得をキャンセルし、最初のエラーを返す。
func (s *Service) Summary(ctx context.Context, clientID string) (*model.DashboardSummary, error) {
	c, err := s.clientRepo.FindByID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(clientID)
	}

	var (
		latest       []*model.MetricSnapshot
		activeAgents int
		health       model.IntegrationHealth
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		latest, err = s.snapshotRepo.ListLatestPerMetric(gctx, clientID)
		if err != nil {
			return fmt.Errorf("最新指標の取得に失敗しました: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		activeAgents, err = s.agentRepo.CountActiveByClientID(gctx, clientID)
		if err != nil {
			return fmt.Errorf("稼働中エージェント数の取得に失敗しました: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		health, err = s.integrationRepo.CountByStatus(gctx, clientID)
		if err != nil {
			return fmt.Errorf("連携状態の集計に失敗しました: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.DashboardSummary{
		ClientID:     clientID,
		Metrics:      summarizeMetrics(latest),
		ActiveAgents: activeAgents,
		Integrations: health,
		GeneratedAt:  s.now(),
	}, nil
}

// summarizeMetrics は指標ごとに取得日時の降順で並んだスナップショットから
// 最新値と前回値からの変化量を算出する。
func summarizeMetrics(snapshots []*model.MetricSnapshot) map[model.MetricKind]model.MetricValue {
	metrics := make(map[model.MetricKind]model.MetricValue, len(model.AllMetricKinds))
	for _, snap := range snapshots {
		current, seen := metrics[snap.Metric]
		switch {
		case !seen:
			metrics[snap.Metric] = model.MetricValue{Value: snap.Value, CapturedAt: snap.CapturedAt}
		case !current.HasPrior:
			current.Change = current.Value - snap.Value
			current.HasPrior = true
			metrics[snap.Metric] = current
		}
	}
	return metrics
}
