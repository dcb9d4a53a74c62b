package session

import "github.com/hitoshi/growthdash/internal/model"

// Status はセッション管理の状態。
type Status int

const (
	// StatusUninitialized はStart前の初期状態。
	StatusUninitialized Status = iota
	// StatusLoading はセッション復元または認証操作が進行中の状態。
	StatusLoading
	// StatusAuthenticated はセッションが存在する状態。
	StatusAuthenticated
	// StatusUnauthenticated はセッションが存在しない状態。
	StatusUnauthenticated
	// StatusError は直近の認証操作が失敗し、まだ確認されていない状態。
	// AcknowledgeErrorで直前のAuthenticated/Unauthenticatedに戻る。
	StatusError
)

// String は状態名を返す。
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Operation はセッション管理が公開する認証操作の種別。
type Operation string

const (
	OpSignIn         Operation = "sign_in"
	OpSignUp         Operation = "sign_up"
	OpSignOut        Operation = "sign_out"
	OpResetPassword  Operation = "reset_password"
	OpRestoreSession Operation = "restore_session"
)

// Snapshot はある時点のセッション管理の状態のイミュータブルなコピー。
// 読み取り側はこの値のみを参照し、セッション管理の内部状態を直接変更しない。
type Snapshot struct {
	Status  Status
	User    *model.User
	Session *model.Session
	Loading bool
	Err     error
}

// Authenticated はセッションが存在するかどうかを返す。
// 操作の進行中やエラー未確認の間も、直前に確定したセッションの有無で判定する。
func (s Snapshot) Authenticated() bool {
	return s.Session != nil
}
