// Package cleanup は保持期間を超過した指標スナップショットを削除する日次ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はスナップショットの保持日数のデフォルト値。
const DefaultRetentionDays = 400

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SnapshotCleanupJob は保持期間を超過したmetric_snapshotsを削除する。
type SnapshotCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	retentionDays int
}

// NewSnapshotCleanupJob は新しいSnapshotCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewSnapshotCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *SnapshotCleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &SnapshotCleanupJob{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// RetentionDays は適用される保持日数を返す。
func (j *SnapshotCleanupJob) RetentionDays() int {
	return j.retentionDays
}

// Run はcaptured_atが保持期間より古いスナップショットを削除する。
// 削除対象がない場合もエラーにならない。
func (j *SnapshotCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.retentionDays)
	result, err := j.db.ExecContext(ctx,
		`DELETE FROM metric_snapshots WHERE captured_at < now() - $1::interval`, interval)
	if err != nil {
		j.logger.Error("スナップショットのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.retentionDays),
		)
		return fmt.Errorf("スナップショットのクリーンアップに失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("スナップショットのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *SnapshotCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
