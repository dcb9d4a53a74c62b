package metricsync

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// PullOutcome はHTTPステータスコードに基づく取得結果の分類。
type PullOutcome int

const (
	// PullOutcomeOK は取得成功（200）。
	PullOutcomeOK PullOutcome = iota
	// PullOutcomeStop は同期停止が必要なステータス（401/403/404/410）。
	PullOutcomeStop
	// PullOutcomeBackoff はバックオフが必要なステータス（429/5xx）。
	PullOutcomeBackoff
	// PullOutcomeUnknown は未知のステータスコード。
	PullOutcomeUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// invalidPayloadThreshold は不正ペイロードによる同期停止の閾値。
	invalidPayloadThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) PullOutcome {
	switch {
	case statusCode == http.StatusOK:
		return PullOutcomeOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		// 認証情報の失効。再接続されるまで同期しない
		return PullOutcomeStop
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return PullOutcomeStop
	case statusCode == http.StatusTooManyRequests:
		return PullOutcomeBackoff
	case statusCode >= 500:
		return PullOutcomeBackoff
	default:
		return PullOutcomeUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop は連携の同期を停止する。
// statusをdisconnectedに設定し、再接続されるまでスケジューラの対象外とする。
func ApplyStop(integ *model.Integration, reason string) {
	integ.Status = model.IntegrationStatusDisconnected
	integ.LastError = reason
}

// ApplyBackoff は連携にバックオフ戦略を適用する。
// 連続エラー回数をインクリメントし、指数バックオフでnext_sync_atを設定する。
func ApplyBackoff(integ *model.Integration, reason string, now time.Time) {
	integ.ConsecutiveErrors++
	integ.Status = model.IntegrationStatusError
	integ.LastError = reason
	integ.NextSyncAt = now.Add(CalculateBackoff(integ.ConsecutiveErrors - 1))
}

// ApplySuccess は同期成功時に連携の状態をリセットする。
// 同期間隔に基づいてnext_sync_atを設定する。
func ApplySuccess(integ *model.Integration, now time.Time) {
	integ.Status = model.IntegrationStatusConnected
	integ.ConsecutiveErrors = 0
	integ.LastError = ""
	synced := now
	integ.LastSyncedAt = &synced
	integ.NextSyncAt = now.Add(syncInterval(integ))
}

// ApplyInvalidPayload は不正ペイロード受信時に連続エラー回数をインクリメントする。
// 連携先は応答しているため次回は通常の同期間隔で再試行し、閾値に達した場合は同期を停止する。
func ApplyInvalidPayload(integ *model.Integration, reason string, now time.Time) {
	integ.ConsecutiveErrors++
	integ.Status = model.IntegrationStatusError
	integ.LastError = fmt.Sprintf("不正なペイロード (%d回連続): %s", integ.ConsecutiveErrors, reason)
	integ.NextSyncAt = now.Add(syncInterval(integ))

	if integ.ConsecutiveErrors >= invalidPayloadThreshold {
		integ.Status = model.IntegrationStatusDisconnected
		integ.LastError = fmt.Sprintf("不正なペイロードが%d回連続したため同期を停止しました: %s", integ.ConsecutiveErrors, reason)
	}
}

func syncInterval(integ *model.Integration) time.Duration {
	minutes := integ.SyncIntervalMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}
