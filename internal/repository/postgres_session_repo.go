package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/growthdash/internal/identity"
	"github.com/hitoshi/growthdash/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した認証セッションストア。
// 認証プロバイダーが発行したトークンをストレージキー単位でauth_sessionsに保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

var _ identity.SessionStore = (*PostgresSessionRepo)(nil)

// storedSession はauth_sessions.dataに保存するJSON表現。
type storedSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         *storedUser `json:"user,omitempty"`
}

type storedUser struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toStoredSession(s *model.Session) storedSession {
	stored := storedSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
	}
	if s.User != nil {
		stored.User = &storedUser{
			ID:        s.User.ID,
			Email:     s.User.Email,
			Metadata:  s.User.Metadata,
			CreatedAt: s.User.CreatedAt,
		}
	}
	return stored
}

func (s storedSession) toModel() *model.Session {
	session := &model.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
	}
	if s.User != nil {
		session.User = &model.User{
			ID:        s.User.ID,
			Email:     s.User.Email,
			Metadata:  s.User.Metadata,
			CreatedAt: s.User.CreatedAt,
		}
	}
	return session
}

// Load は指定キーのセッションを取得する。見つからない場合はnilを返す。
// 期限切れのセッションもリフレッシュのために返す。
func (r *PostgresSessionRepo) Load(ctx context.Context, key string) (*model.Session, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM auth_sessions WHERE storage_key = $1`,
		key,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return stored.toModel(), nil
}

// Save は指定キーでセッションを保存する（上書き）。
func (r *PostgresSessionRepo) Save(ctx context.Context, key string, session *model.Session) error {
	data, err := json.Marshal(toStoredSession(session))
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (storage_key, data, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (storage_key) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, data, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// Delete は指定キーのセッションを削除する。存在しない場合もエラーにしない。
func (r *PostgresSessionRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE storage_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}
