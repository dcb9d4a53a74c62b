package identity

import (
	"context"
	"sync"

	"github.com/hitoshi/growthdash/internal/model"
)

// SessionStore は認証セッションの永続化インターフェース。
// プロセス再起動後のセッション復元に使用する。
type SessionStore interface {
	// Load は指定キーのセッションを取得する。見つからない場合はnilを返す。
	Load(ctx context.Context, key string) (*model.Session, error)
	// Save は指定キーでセッションを保存する（上書き）。
	Save(ctx context.Context, key string, session *model.Session) error
	// Delete は指定キーのセッションを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}

// MemoryStore はプロセス内メモリにセッションを保持するSessionStore。
// テストおよびDBを使わない起動構成で使用する。
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]model.Session)}
}

// Load は指定キーのセッションのコピーを返す。
func (s *MemoryStore) Load(_ context.Context, key string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Save はセッションのコピーを保存する。
func (s *MemoryStore) Save(_ context.Context, key string, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = *session
	return nil
}

// Delete は指定キーのセッションを削除する。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

// compile-time interface check
var _ SessionStore = (*MemoryStore)(nil)
