package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresClientRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresClientRepo struct {
	db *sql.DB
}

// NewPostgresClientRepo はPostgresClientRepoを生成する。
func NewPostgresClientRepo(db *sql.DB) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

// List は全顧客を名前順で返す。
func (r *PostgresClientRepo) List(ctx context.Context) ([]*model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, industry, status, created_at, updated_at
		 FROM clients ORDER BY name ASC, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("顧客一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var clients []*model.Client
	for rows.Next() {
		c := &model.Client{}
		var industry sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &industry, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("顧客行の読み取りに失敗しました: %w", err)
		}
		c.Industry = nullStringValue(industry)
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("顧客一覧の走査に失敗しました: %w", err)
	}
	return clients, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByID(ctx context.Context, id string) (*model.Client, error) {
	c := &model.Client{}
	var industry sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, industry, status, created_at, updated_at
		 FROM clients WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &industry, &c.Status, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	c.Industry = nullStringValue(industry)

	return c, nil
}

// Create は顧客を作成する。
func (r *PostgresClientRepo) Create(ctx context.Context, c *model.Client) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, industry, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, nullString(c.Industry), c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("顧客の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は顧客の契約状態を更新する。
func (r *PostgresClientRepo) UpdateStatus(ctx context.Context, id string, status model.ClientStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE clients SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("顧客ステータスの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("顧客が見つかりません: %s", id)
	}
	return nil
}
