package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresIntegrationRepo はPostgreSQLを使用した外部連携リポジトリ。
type PostgresIntegrationRepo struct {
	db *sql.DB
}

// NewPostgresIntegrationRepo はPostgresIntegrationRepoを生成する。
func NewPostgresIntegrationRepo(db *sql.DB) *PostgresIntegrationRepo {
	return &PostgresIntegrationRepo{db: db}
}

const integrationColumns = `id, client_id, kind, provider, display_name, endpoint_url, status,
		        sync_interval_minutes, consecutive_errors, last_error, last_synced_at,
		        next_sync_at, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (*model.Integration, error) {
	in := &model.Integration{}
	var lastError sql.NullString
	var lastSyncedAt sql.NullTime
	err := row.Scan(
		&in.ID, &in.ClientID, &in.Kind, &in.Provider, &in.DisplayName, &in.EndpointURL, &in.Status,
		&in.SyncIntervalMinutes, &in.ConsecutiveErrors, &lastError, &lastSyncedAt,
		&in.NextSyncAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	in.LastError = nullStringValue(lastError)
	in.LastSyncedAt = nullTimeValue(lastSyncedAt)
	return in, nil
}

func (r *PostgresIntegrationRepo) queryList(ctx context.Context, what, query string, args ...any) ([]*model.Integration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", what, err)
	}
	defer rows.Close()

	var integrations []*model.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", what, err)
		}
		integrations = append(integrations, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの走査に失敗しました: %w", what, err)
	}
	return integrations, nil
}

// ListByClientID は顧客の連携一覧を作成順で返す。
func (r *PostgresIntegrationRepo) ListByClientID(ctx context.Context, clientID string) ([]*model.Integration, error) {
	return r.queryList(ctx, "連携一覧",
		`SELECT `+integrationColumns+`
		 FROM integrations WHERE client_id = $1 ORDER BY created_at ASC`,
		clientID,
	)
}

// FindByID は指定IDの連携を取得する。見つからない場合はnilを返す。
func (r *PostgresIntegrationRepo) FindByID(ctx context.Context, id string) (*model.Integration, error) {
	in, err := scanIntegration(r.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("連携の取得に失敗しました: %w", err)
	}
	return in, nil
}

// FindByClientAndEndpoint は顧客IDとエンドポイントURLで連携を検索する。見つからない場合はnilを返す。
func (r *PostgresIntegrationRepo) FindByClientAndEndpoint(ctx context.Context, clientID, endpointURL string) (*model.Integration, error) {
	in, err := scanIntegration(r.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+`
		 FROM integrations WHERE client_id = $1 AND endpoint_url = $2`,
		clientID, endpointURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("顧客とエンドポイントによる連携の検索に失敗しました: %w", err)
	}
	return in, nil
}

// Create は連携を作成する。
func (r *PostgresIntegrationRepo) Create(ctx context.Context, in *model.Integration) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO integrations (`+integrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		in.ID, in.ClientID, in.Kind, in.Provider, in.DisplayName, in.EndpointURL, in.Status,
		in.SyncIntervalMinutes, in.ConsecutiveErrors, nullString(in.LastError), nullTime(in.LastSyncedAt),
		in.NextSyncAt, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("連携の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateSyncInterval は連携の同期間隔を更新する。
func (r *PostgresIntegrationRepo) UpdateSyncInterval(ctx context.Context, id string, minutes int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE integrations SET sync_interval_minutes = $2, updated_at = now() WHERE id = $1`,
		id, minutes,
	)
	if err != nil {
		return fmt.Errorf("同期間隔の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("連携が見つかりません: %s", id)
	}
	return nil
}

// UpdateSyncState は連携の同期状態を更新する。
func (r *PostgresIntegrationRepo) UpdateSyncState(ctx context.Context, in *model.Integration) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE integrations SET
		    status = $2,
		    consecutive_errors = $3,
		    last_error = $4,
		    last_synced_at = $5,
		    next_sync_at = $6,
		    updated_at = now()
		 WHERE id = $1`,
		in.ID, in.Status, in.ConsecutiveErrors, nullString(in.LastError), nullTime(in.LastSyncedAt), in.NextSyncAt,
	)
	if err != nil {
		return fmt.Errorf("同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの連携を削除する。
// 取得済みのスナップショットはintegration_idがNULLとなり保持される。
func (r *PostgresIntegrationRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("連携の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("連携が見つかりません: %s", id)
	}
	return nil
}

// ListDueForSync は同期対象の連携を取得する。
// 停止中（disconnected）の連携と、契約が有効でない顧客の連携は対象外とする。
func (r *PostgresIntegrationRepo) ListDueForSync(ctx context.Context) ([]*model.Integration, error) {
	return r.queryList(ctx, "同期対象連携",
		`SELECT i.id, i.client_id, i.kind, i.provider, i.display_name, i.endpoint_url, i.status,
		        i.sync_interval_minutes, i.consecutive_errors, i.last_error, i.last_synced_at,
		        i.next_sync_at, i.created_at, i.updated_at
		 FROM integrations i
		 INNER JOIN clients c ON c.id = i.client_id
		 WHERE i.next_sync_at <= now()
		   AND i.status <> 'disconnected'
		   AND c.status = 'active'
		 ORDER BY i.next_sync_at ASC
		 FOR UPDATE OF i SKIP LOCKED`,
	)
}

// CountByStatus は顧客の連携数を状態別に集計する。
func (r *PostgresIntegrationRepo) CountByStatus(ctx context.Context, clientID string) (model.IntegrationHealth, error) {
	var health model.IntegrationHealth
	err := r.db.QueryRowContext(ctx,
		`SELECT
		    COUNT(*) FILTER (WHERE status = 'connected'),
		    COUNT(*) FILTER (WHERE status = 'error'),
		    COUNT(*) FILTER (WHERE status = 'disconnected')
		 FROM integrations WHERE client_id = $1`,
		clientID,
	).Scan(&health.Connected, &health.Error, &health.Disconnected)
	if err != nil {
		return model.IntegrationHealth{}, fmt.Errorf("連携状態の集計に失敗しました: %w", err)
	}
	return health, nil
}
