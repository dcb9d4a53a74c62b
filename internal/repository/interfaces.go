// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// ClientRepository は顧客データの永続化インターフェース。
type ClientRepository interface {
	// List は全顧客を名前順で返す。
	List(ctx context.Context) ([]*model.Client, error)

	// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Client, error)

	// Create は顧客を作成する。
	Create(ctx context.Context, client *model.Client) error

	// UpdateStatus は顧客の契約状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.ClientStatus) error
}

// AgentRepository はエージェントデータの永続化インターフェース。
type AgentRepository interface {
	// ListByClientID は顧客のエージェント一覧を作成順で返す。
	ListByClientID(ctx context.Context, clientID string) ([]*model.Agent, error)

	// FindByID は指定IDのエージェントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Agent, error)

	// Create はエージェントを作成する。
	Create(ctx context.Context, agent *model.Agent) error

	// UpdateStatus はエージェントの稼働状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error

	// CountActiveByClientID は顧客の稼働中エージェント数を返す。
	CountActiveByClientID(ctx context.Context, clientID string) (int, error)
}

// IntegrationRepository は外部連携データの永続化インターフェース。
type IntegrationRepository interface {
	// ListByClientID は顧客の連携一覧を作成順で返す。
	ListByClientID(ctx context.Context, clientID string) ([]*model.Integration, error)

	// FindByID は指定IDの連携を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Integration, error)

	// FindByClientAndEndpoint は顧客IDとエンドポイントURLで連携を検索する。見つからない場合はnilを返す。
	FindByClientAndEndpoint(ctx context.Context, clientID, endpointURL string) (*model.Integration, error)

	// Create は連携を作成する。
	Create(ctx context.Context, integration *model.Integration) error

	// UpdateSyncInterval は連携の同期間隔を更新する。
	UpdateSyncInterval(ctx context.Context, id string, minutes int) error

	// UpdateSyncState は連携の同期状態を更新する。
	// status、consecutive_errors、last_error、last_synced_at、next_sync_atを更新する。
	UpdateSyncState(ctx context.Context, integration *model.Integration) error

	// Delete は指定IDの連携を削除する。
	Delete(ctx context.Context, id string) error

	// ListDueForSync は同期対象の連携を取得する。
	// next_sync_at <= now() かつ status が disconnected 以外の連携を
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForSync(ctx context.Context) ([]*model.Integration, error)

	// CountByStatus は顧客の連携数を状態別に集計する。
	CountByStatus(ctx context.Context, clientID string) (model.IntegrationHealth, error)
}

// SnapshotRepository は指標スナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// InsertBatch はスナップショットを同一トランザクションで保存し、新規に保存した件数を返す。
	// 同一連携・同一指標・同一取得日時の重複は無視する。
	InsertBatch(ctx context.Context, snapshots []*model.MetricSnapshot) (int, error)

	// ListByRange は指定期間 [from, to) のスナップショットを取得日時の昇順で返す。
	ListByRange(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error)

	// ListLatestPerMetric は顧客の指標ごとに最新2件のスナップショットを返す。
	// 指標ごとに取得日時の降順で並ぶ。
	ListLatestPerMetric(ctx context.Context, clientID string) ([]*model.MetricSnapshot, error)
}
