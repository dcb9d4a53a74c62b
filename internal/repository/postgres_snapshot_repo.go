package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用した指標スナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// InsertBatch はスナップショットを同一トランザクションで保存し、新規に保存した件数を返す。
func (r *PostgresSnapshotRepo) InsertBatch(ctx context.Context, snapshots []*model.MetricSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_snapshots (id, client_id, integration_id, metric, value, captured_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (integration_id, metric, captured_at) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("スナップショット保存文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range snapshots {
		result, err := stmt.ExecContext(ctx,
			s.ID, s.ClientID, nullString(s.IntegrationID), s.Metric, s.Value, s.CapturedAt, s.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("保存結果の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return inserted, nil
}

// ListByRange は指定期間 [from, to) のスナップショットを取得日時の昇順で返す。
func (r *PostgresSnapshotRepo) ListByRange(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error) {
	return r.queryList(ctx, "指標の時系列",
		`SELECT id, client_id, integration_id, metric, value, captured_at, created_at
		 FROM metric_snapshots
		 WHERE client_id = $1 AND metric = $2 AND captured_at >= $3 AND captured_at < $4
		 ORDER BY captured_at ASC`,
		clientID, metric, from, to,
	)
}

// ListLatestPerMetric は顧客の指標ごとに最新2件のスナップショットを返す。
func (r *PostgresSnapshotRepo) ListLatestPerMetric(ctx context.Context, clientID string) ([]*model.MetricSnapshot, error) {
	return r.queryList(ctx, "最新の指標",
		`SELECT id, client_id, integration_id, metric, value, captured_at, created_at
		 FROM (
		     SELECT *, ROW_NUMBER() OVER (PARTITION BY metric ORDER BY captured_at DESC) AS rn
		     FROM metric_snapshots
		     WHERE client_id = $1
		 ) ranked
		 WHERE rn <= 2
		 ORDER BY metric ASC, captured_at DESC`,
		clientID,
	)
}

func (r *PostgresSnapshotRepo) queryList(ctx context.Context, what, query string, args ...any) ([]*model.MetricSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", what, err)
	}
	defer rows.Close()

	var snapshots []*model.MetricSnapshot
	for rows.Next() {
		s := &model.MetricSnapshot{}
		var integrationID sql.NullString
		if err := rows.Scan(&s.ID, &s.ClientID, &integrationID, &s.Metric, &s.Value, &s.CapturedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", what, err)
		}
		s.IntegrationID = nullStringValue(integrationID)
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの走査に失敗しました: %w", what, err)
	}
	return snapshots, nil
}
