// Package analytics は指標スナップショットの参照と記録を提供する。
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/repository"
)

// MaxRange は時系列取得で指定できる最大期間。
const MaxRange = 366 * 24 * time.Hour

var _ apiset.Analytics = (*Service)(nil)

// Service は指標スナップショットのサービス層。
type Service struct {
	repo repository.SnapshotRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.SnapshotRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Series は期間 [from, to) の指標の時系列を取得日時の昇順で返す。
func (s *Service) Series(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error) {
	if !metric.Valid() {
		return nil, model.NewInvalidMetricError(string(metric))
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	snapshots, err := s.repo.ListByRange(ctx, clientID, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("指標の時系列取得に失敗しました: %w", err)
	}
	return snapshots, nil
}

// Record は連携から取得した指標値をスナップショットとして保存し、新規に保存した件数を返す。
// 未定義の指標は保存せずに読み飛ばす。
func (s *Service) Record(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	now := s.now()
	snapshots := make([]*model.MetricSnapshot, 0, len(samples))
	for _, sample := range samples {
		if !sample.Metric.Valid() {
			continue
		}
		capturedAt := sample.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = now
		}
		snapshots = append(snapshots, &model.MetricSnapshot{
			ID:            uuid.New().String(),
			ClientID:      clientID,
			IntegrationID: integrationID,
			Metric:        sample.Metric,
			Value:         sample.Value,
			CapturedAt:    capturedAt.UTC(),
			CreatedAt:     now,
		})
	}

	inserted, err := s.repo.InsertBatch(ctx, snapshots)
	if err != nil {
		return 0, fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
	}
	return inserted, nil
}

func validateRange(from, to time.Time) error {
	switch {
	case from.IsZero() || to.IsZero():
		return model.NewInvalidRangeError("開始日時と終了日時は必須です")
	case !from.Before(to):
		return model.NewInvalidRangeError("開始日時は終了日時より前である必要があります")
	case to.Sub(from) > MaxRange:
		return model.NewInvalidRangeError("期間が366日を超えています")
	}
	return nil
}
