package model

// AuthEventType は認証状態変更通知の種別を表す。
type AuthEventType string

const (
	// AuthEventSignedIn はサインイン（サインアップ含む）の完了を示す。
	AuthEventSignedIn AuthEventType = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトまたはセッション失効を示す。
	AuthEventSignedOut AuthEventType = "SIGNED_OUT"
	// AuthEventTokenRefreshed はアクセストークンのリフレッシュを示す。
	AuthEventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	// AuthEventUserUpdated はユーザー情報の更新を示す。
	AuthEventUserUpdated AuthEventType = "USER_UPDATED"
)

// AuthEvent は認証プロバイダーから配信される認証状態変更通知。
// Sessionは通知時点の完全な状態を表し、nilはセッションなしを意味する。
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}
