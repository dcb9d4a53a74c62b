package model

import "time"

// Integration は顧客に紐づく外部サービス連携（CRM、アクセス解析、広告、メッセージング）を表す。
type Integration struct {
	ID                  string
	ClientID            string
	Kind                IntegrationKind
	Provider            string // "hubspot", "ga4", "meta_ads" 等
	DisplayName         string
	EndpointURL         string
	Status              IntegrationStatus
	SyncIntervalMinutes int
	ConsecutiveErrors   int
	LastError           string
	LastSyncedAt        *time.Time
	NextSyncAt          time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IntegrationKind は連携先サービスの種別。
type IntegrationKind string

const (
	IntegrationKindCRM       IntegrationKind = "crm"
	IntegrationKindAnalytics IntegrationKind = "analytics"
	IntegrationKindAds       IntegrationKind = "ads"
	IntegrationKindMessaging IntegrationKind = "messaging"
)

// Valid は定義済みの連携種別かどうかを返す。
func (k IntegrationKind) Valid() bool {
	switch k {
	case IntegrationKindCRM, IntegrationKindAnalytics, IntegrationKindAds, IntegrationKindMessaging:
		return true
	}
	return false
}

// IntegrationStatus は連携の同期状態を表す。
type IntegrationStatus string

const (
	// IntegrationStatusConnected は正常に同期している状態。
	IntegrationStatusConnected IntegrationStatus = "connected"
	// IntegrationStatusError は連続エラーによりバックオフ中の状態。
	IntegrationStatusError IntegrationStatus = "error"
	// IntegrationStatusDisconnected は認証失効等により同期を停止した状態。
	IntegrationStatusDisconnected IntegrationStatus = "disconnected"
)

// IntegrationHealth は顧客単位の連携状態の集計。
type IntegrationHealth struct {
	Connected    int
	Error        int
	Disconnected int
}

// IntegrationRegistration は連携登録の入力値。
type IntegrationRegistration struct {
	ClientID            string
	Kind                IntegrationKind
	Provider            string
	DisplayName         string
	EndpointURL         string
	SyncIntervalMinutes int
}
