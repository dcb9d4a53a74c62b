package session

import (
	"context"
	"fmt"

	"github.com/hitoshi/growthdash/internal/model"
)

type contextKey struct{}

// NewContext はManagerをスコープに登録したコンテキストを返す。
func NewContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext はスコープに登録されたManagerを返す。
// 登録されていない場合はmodel.ErrNotProvidedをラップしたエラーを返す。
func FromContext(ctx context.Context) (*Manager, error) {
	m, ok := ctx.Value(contextKey{}).(*Manager)
	if !ok || m == nil {
		return nil, fmt.Errorf("session manager: %w", model.ErrNotProvided)
	}
	return m, nil
}

// MustFromContext はFromContextと同様だが、未登録の場合はpanicする。
// スコープ外からのアクセスは配線ミスであり、実行時に回復すべきものではない。
func MustFromContext(ctx context.Context) *Manager {
	m, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return m
}
