package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresAgentRepo はPostgreSQLを使用したエージェントリポジトリ。
type PostgresAgentRepo struct {
	db *sql.DB
}

// NewPostgresAgentRepo はPostgresAgentRepoを生成する。
func NewPostgresAgentRepo(db *sql.DB) *PostgresAgentRepo {
	return &PostgresAgentRepo{db: db}
}

const agentColumns = `id, client_id, name, channel, status, conversations_handled, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*model.Agent, error) {
	a := &model.Agent{}
	err := row.Scan(&a.ID, &a.ClientID, &a.Name, &a.Channel, &a.Status, &a.ConversationsHandled, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ListByClientID は顧客のエージェント一覧を作成順で返す。
func (r *PostgresAgentRepo) ListByClientID(ctx context.Context, clientID string) ([]*model.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+`
		 FROM agents WHERE client_id = $1 ORDER BY created_at ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("エージェント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("エージェント行の読み取りに失敗しました: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エージェント一覧の走査に失敗しました: %w", err)
	}
	return agents, nil
}

// FindByID は指定IDのエージェントを取得する。見つからない場合はnilを返す。
func (r *PostgresAgentRepo) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エージェントの取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create はエージェントを作成する。
func (r *PostgresAgentRepo) Create(ctx context.Context, a *model.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ClientID, a.Name, a.Channel, a.Status, a.ConversationsHandled, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("エージェントの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はエージェントの稼働状態を更新する。
func (r *PostgresAgentRepo) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("エージェントステータスの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("エージェントが見つかりません: %s", id)
	}
	return nil
}

// CountActiveByClientID は顧客の稼働中エージェント数を返す。
func (r *PostgresAgentRepo) CountActiveByClientID(ctx context.Context, clientID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE client_id = $1 AND status = 'active'`,
		clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("稼働中エージェント数の取得に失敗しました: %w", err)
	}
	return count, nil
}
