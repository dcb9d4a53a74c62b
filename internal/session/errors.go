package session

import (
	"errors"
	"fmt"
)

// ErrorKind はセッション管理で発生するエラーの分類。
type ErrorKind int

const (
	// KindAuthOperationFailed はサインイン・サインアップ・サインアウト・パスワードリセットの失敗。
	// 呼び出し元に返却し、同時にlast-errorとして記録する。
	KindAuthOperationFailed ErrorKind = iota + 1
	// KindSessionRestorationFailed は起動時のセッション復元の失敗。
	// 待ち受ける呼び出し元が存在しないため記録のみ行う。
	KindSessionRestorationFailed
)

// 分類ごとのセンチネル。errors.Isで分類を判定するために使用する。
var (
	ErrAuthOperationFailed      = errors.New("auth operation failed")
	ErrSessionRestorationFailed = errors.New("session restoration failed")
	// ErrMissingCredentials はメールアドレスまたはパスワードが空であることを示す。
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrMissingEmail はメールアドレスが空であることを示す。
	ErrMissingEmail = errors.New("email is required")
)

// String はエラー分類の名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindAuthOperationFailed:
		return "AuthOperationFailed"
	case KindSessionRestorationFailed:
		return "SessionRestorationFailed"
	default:
		return "Unknown"
	}
}

// AuthError はセッション管理の非同期操作境界で返される失敗結果。
// Kindで分類され、Errに原因となったエラーを保持する。
type AuthError struct {
	Kind ErrorKind
	Op   Operation
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is は分類センチネルとの比較をサポートする。
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrAuthOperationFailed:
		return e.Kind == KindAuthOperationFailed
	case ErrSessionRestorationFailed:
		return e.Kind == KindSessionRestorationFailed
	}
	return false
}
