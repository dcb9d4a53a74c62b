// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrNotProvided はプロビジョニングスコープ外からコンテキスト依存の値にアクセスしたことを示す。
// 配線ミスを表すプログラミングエラーであり、リトライしてはならない。
var ErrNotProvided = errors.New("not provided")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, client, integration, analytics, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthOperationFailed  = "AUTH_OPERATION_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeClientNotFound       = "CLIENT_NOT_FOUND"
	ErrCodeInvalidClientStatus  = "INVALID_CLIENT_STATUS"
	ErrCodeAgentNotFound        = "AGENT_NOT_FOUND"
	ErrCodeInvalidChannel       = "INVALID_CHANNEL"
	ErrCodeInvalidMetric        = "INVALID_METRIC"
	ErrCodeInvalidRange         = "INVALID_RANGE"
	ErrCodeIntegrationNotFound  = "INTEGRATION_NOT_FOUND"
	ErrCodeInvalidIntegration   = "INVALID_INTEGRATION"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeInvalidSyncInterval  = "INVALID_SYNC_INTERVAL"
	ErrCodeIntegrationConnected = "INTEGRATION_CONNECTED"
	ErrCodeDuplicateIntegration = "DUPLICATE_INTEGRATION"
)

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAuthOperationFailedError は認証操作の失敗エラーを生成する。
func NewAuthOperationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthOperationFailed,
		Message:  fmt.Sprintf("認証操作に失敗しました: %s", reason),
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認し、再度お試しください。",
	}
}

// NewClientNotFoundError は顧客未検出エラーを生成する。
func NewClientNotFoundError(clientID string) *APIError {
	return &APIError{
		Code:     ErrCodeClientNotFound,
		Message:  fmt.Sprintf("指定された顧客が見つかりません: %s", clientID),
		Category: "client",
		Action:   "顧客IDを確認してください。",
	}
}

// NewInvalidClientStatusError は無効な顧客ステータスエラーを生成する。
func NewInvalidClientStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClientStatus,
		Message:  fmt.Sprintf("無効な顧客ステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには active、paused、churned のいずれかを指定してください。",
	}
}

// NewAgentNotFoundError はエージェント未検出エラーを生成する。
func NewAgentNotFoundError(agentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAgentNotFound,
		Message:  fmt.Sprintf("指定されたエージェントが見つかりません: %s", agentID),
		Category: "client",
		Action:   "エージェントIDを確認してください。",
	}
}

// NewInvalidChannelError は無効なチャネルエラーを生成する。
func NewInvalidChannelError(channel string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidChannel,
		Message:  fmt.Sprintf("無効なチャネルです: %s", channel),
		Category: "validation",
		Action:   "チャネルには webchat、whatsapp、instagram、email、voice のいずれかを指定してください。",
	}
}

// NewInvalidMetricError は無効な指標エラーを生成する。
func NewInvalidMetricError(metric string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMetric,
		Message:  fmt.Sprintf("無効な指標です: %s", metric),
		Category: "validation",
		Action:   "定義済みの指標名を指定してください。",
	}
}

// NewInvalidRangeError は無効な期間指定エラーを生成する。
func NewInvalidRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRange,
		Message:  fmt.Sprintf("無効な期間です: %s", reason),
		Category: "validation",
		Action:   "開始日時は終了日時より前に、期間は366日以内で指定してください。",
	}
}

// NewIntegrationNotFoundError は連携未検出エラーを生成する。
func NewIntegrationNotFoundError(integrationID string) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrationNotFound,
		Message:  fmt.Sprintf("指定された連携が見つかりません: %s", integrationID),
		Category: "integration",
		Action:   "連携IDを確認してください。",
	}
}

// NewInvalidIntegrationError は連携設定の不正エラーを生成する。
func NewInvalidIntegrationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIntegration,
		Message:  fmt.Sprintf("連携設定が不正です: %s", reason),
		Category: "validation",
		Action:   "連携種別（crm、analytics、ads、messaging）とプロバイダー名を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されている連携先のURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewInvalidSyncIntervalError は同期間隔が無効な場合のエラーを生成する。
func NewInvalidSyncIntervalError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSyncInterval,
		Message:  fmt.Sprintf("無効な同期間隔です: %d分", minutes),
		Category: "validation",
		Action:   "同期間隔は30分から720分（12時間）の範囲で、30分刻みで指定してください。",
	}
}

// NewIntegrationConnectedError は正常接続中の連携に再接続を要求した場合のエラーを生成する。
func NewIntegrationConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeIntegrationConnected,
		Message:  "連携は既に接続中です。",
		Category: "integration",
		Action:   "再接続はエラーまたは切断状態の連携に対してのみ実行できます。",
	}
}

// NewDuplicateIntegrationError は同一エンドポイントの連携を重複登録しようとした場合のエラーを生成する。
func NewDuplicateIntegrationError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIntegration,
		Message:  "この連携先は既に登録されています。",
		Category: "integration",
		Action:   "連携一覧から該当の連携を確認してください。",
	}
}
