// Package identity は外部の認証プロバイダー（ホスト型BaaSの認証API）との連携を提供する。
// セッショントークンの永続化と認証状態変更通知の配信もこのパッケージが担う。
package identity

import (
	"context"

	"github.com/hitoshi/growthdash/internal/model"
)

// Provider はセッション管理が利用する認証プロバイダーのインターフェース。
// すべての操作は非同期I/Oを伴い、プロバイダー定義のエラーで失敗しうる。
type Provider interface {
	// GetCurrentSession は永続化済みのセッションを取得する。セッションがない場合はnilを返す。
	GetCurrentSession(ctx context.Context) (*model.Session, error)
	// OnAuthStateChange は認証状態変更通知の購読を開始する。
	OnAuthStateChange() Subscription
	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResult, error)
	// SignUp はメールアドレスとパスワードでユーザーを登録する。
	SignUp(ctx context.Context, email, password string) (*model.AuthResult, error)
	// SignOut は現在のセッションを無効化する。
	SignOut(ctx context.Context) error
	// SendPasswordReset はパスワードリセットメールの送信を依頼する。
	SendPasswordReset(ctx context.Context, email string) error
}

// Subscription は認証状態変更通知の購読を表す。
type Subscription interface {
	// Events は通知を受け取るチャネルを返す。Unsubscribe後にクローズされる。
	Events() <-chan model.AuthEvent
	// Unsubscribe は購読を解除する。複数回呼び出しても安全。
	Unsubscribe()
}
