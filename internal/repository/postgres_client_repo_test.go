package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresClientRepoはClientRepositoryインターフェースを満たすことを検証
func TestPostgresClientRepo_ImplementsInterface(t *testing.T) {
	var _ ClientRepository = (*PostgresClientRepo)(nil)
}

func newMockDB(t *testing.T) (*PostgresClientRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresClientRepo(db), mock
}

// 顧客一覧が名前順で取得され、NULLの業種が空文字列となることを検証
func TestPostgresClientRepo_List(t *testing.T) {
	repo, mock := newMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "industry", "status", "created_at", "updated_at"}).
		AddRow("c-1", "Acme", "retail", "active", now, now).
		AddRow("c-2", "Globex", nil, "paused", now, now)
	mock.ExpectQuery(`SELECT (.+) FROM clients ORDER BY name ASC`).WillReturnRows(rows)

	clients, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2", len(clients))
	}
	if clients[0].Industry != "retail" {
		t.Errorf("clients[0].Industry = %q, want %q", clients[0].Industry, "retail")
	}
	if clients[1].Industry != "" {
		t.Errorf("clients[1].Industry = %q, want empty", clients[1].Industry)
	}
	if clients[1].Status != model.ClientStatusPaused {
		t.Errorf("clients[1].Status = %q, want %q", clients[1].Status, model.ClientStatusPaused)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// 存在しない顧客の取得でnilが返ることを検証
func TestPostgresClientRepo_FindByID_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT (.+) FROM clients WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "industry", "status", "created_at", "updated_at"}))

	c, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if c != nil {
		t.Errorf("FindByID() = %+v, want nil", c)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// 顧客の作成で空の業種がNULLとして保存されることを検証
func TestPostgresClientRepo_Create(t *testing.T) {
	repo, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO clients`).
		WithArgs("c-1", "Acme", nil, "active", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &model.Client{
		ID:        "c-1",
		Name:      "Acme",
		Status:    model.ClientStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Errorf("Create() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// 存在しない顧客のステータス更新がエラーとなることを検証
func TestPostgresClientRepo_UpdateStatus_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE clients SET status = \$2`).
		WithArgs("missing", "churned").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateStatus(context.Background(), "missing", model.ClientStatusChurned); err == nil {
		t.Error("UpdateStatus() expected error for missing client")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// 稼働中エージェント数の集計を検証
func TestPostgresAgentRepo_CountActiveByClientID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	var _ AgentRepository = (*PostgresAgentRepo)(nil)
	repo := NewPostgresAgentRepo(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM agents WHERE client_id = \$1 AND status = 'active'`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountActiveByClientID(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("CountActiveByClientID() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// エージェント一覧の読み取りを検証
func TestPostgresAgentRepo_ListByClientID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewPostgresAgentRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "client_id", "name", "channel", "status", "conversations_handled", "created_at", "updated_at"}).
		AddRow("a-1", "c-1", "Concierge", "whatsapp", "active", 120, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE client_id = \$1`).
		WithArgs("c-1").
		WillReturnRows(rows)

	agents, err := repo.ListByClientID(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("ListByClientID() error = %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("len(agents) = %d, want 1", len(agents))
	}
	if agents[0].Channel != model.AgentChannelWhatsApp {
		t.Errorf("Channel = %q, want %q", agents[0].Channel, model.AgentChannelWhatsApp)
	}
	if agents[0].ConversationsHandled != 120 {
		t.Errorf("ConversationsHandled = %d, want 120", agents[0].ConversationsHandled)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
