// Package integration は外部サービス連携（CRM、アクセス解析、広告、メッセージング）の
// 登録・管理と、連携先からの指標取得を提供する。
package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/repository"
	"github.com/hitoshi/growthdash/internal/security"
)

const (
	// MinSyncIntervalMinutes は同期間隔の下限（分）。
	MinSyncIntervalMinutes = 30
	// MaxSyncIntervalMinutes は同期間隔の上限（分）。
	MaxSyncIntervalMinutes = 720
	// syncIntervalStep は同期間隔の刻み（分）。
	syncIntervalStep = 30
	// DefaultSyncIntervalMinutes は登録時に同期間隔が未指定の場合の値（分）。
	DefaultSyncIntervalMinutes = 60

	maxProviderRunes    = 40
	maxDisplayNameRunes = 120
)

var _ apiset.Integrations = (*Service)(nil)

// Service は外部連携管理のサービス層。
type Service struct {
	repo       repository.IntegrationRepository
	clientRepo repository.ClientRepository
	guard      security.EndpointGuard
	sanitizer  security.TextSanitizer
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.IntegrationRepository,
	clientRepo repository.ClientRepository,
	guard security.EndpointGuard,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		repo:       repo,
		clientRepo: clientRepo,
		guard:      guard,
		sanitizer:  sanitizer,
		now:        time.Now,
	}
}

// ValidateSyncInterval は同期間隔が30分から720分の範囲で30分刻みかどうかを検証する。
func ValidateSyncInterval(minutes int) error {
	if minutes < MinSyncIntervalMinutes || minutes > MaxSyncIntervalMinutes || minutes%syncIntervalStep != 0 {
		return model.NewInvalidSyncIntervalError(minutes)
	}
	return nil
}

// List は顧客の連携一覧を返す。
func (s *Service) List(ctx context.Context, clientID string) ([]*model.Integration, error) {
	integrations, err := s.repo.ListByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("連携一覧の取得に失敗しました: %w", err)
	}
	return integrations, nil
}

// Get は指定IDの連携を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Integration, error) {
	integ, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("連携の取得に失敗しました: %w", err)
	}
	if integ == nil {
		return nil, model.NewIntegrationNotFoundError(id)
	}
	return integ, nil
}

// Register は連携を登録する。
// フロー: 入力検証 → エンドポイントのSSRF検証 → 顧客の存在確認 → 重複チェック → 保存
// 登録直後の連携は接続中とし、次回のスケジューラ実行で同期する。
func (s *Service) Register(ctx context.Context, reg model.IntegrationRegistration) (*model.Integration, error) {
	if !reg.Kind.Valid() {
		return nil, model.NewInvalidIntegrationError(fmt.Sprintf("未定義の連携種別です: %s", reg.Kind))
	}
	provider := strings.ToLower(s.sanitizer.Sanitize(reg.Provider, maxProviderRunes))
	if provider == "" {
		return nil, model.NewInvalidIntegrationError("プロバイダー名は必須です")
	}

	interval := reg.SyncIntervalMinutes
	if interval == 0 {
		interval = DefaultSyncIntervalMinutes
	}
	if err := ValidateSyncInterval(interval); err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(reg.EndpointURL)
	if err := s.guard.ValidateEndpoint(endpoint); err != nil {
		if errors.Is(err, security.ErrBlockedEndpoint) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	c, err := s.clientRepo.FindByID(ctx, reg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(reg.ClientID)
	}

	existing, err := s.repo.FindByClientAndEndpoint(ctx, reg.ClientID, endpoint)
	if err != nil {
		return nil, fmt.Errorf("連携の重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateIntegrationError()
	}

	displayName := s.sanitizer.Sanitize(reg.DisplayName, maxDisplayNameRunes)
	if displayName == "" {
		displayName = provider
	}

	now := s.now()
	integ := &model.Integration{
		ID:                  uuid.New().String(),
		ClientID:            reg.ClientID,
		Kind:                reg.Kind,
		Provider:            provider,
		DisplayName:         displayName,
		EndpointURL:         endpoint,
		Status:              model.IntegrationStatusConnected,
		SyncIntervalMinutes: interval,
		NextSyncAt:          now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, integ); err != nil {
		return nil, fmt.Errorf("連携の保存に失敗しました: %w", err)
	}
	return integ, nil
}

// UpdateSyncInterval は連携の同期間隔を更新する。
func (s *Service) UpdateSyncInterval(ctx context.Context, id string, minutes int) (*model.Integration, error) {
	if err := ValidateSyncInterval(minutes); err != nil {
		return nil, err
	}

	integ, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSyncInterval(ctx, id, minutes); err != nil {
		return nil, fmt.Errorf("同期間隔の更新に失敗しました: %w", err)
	}
	integ.SyncIntervalMinutes = minutes
	integ.UpdatedAt = s.now()
	return integ, nil
}

// Reconnect はエラーまたは切断状態の連携を接続中に戻し、即時に同期対象とする。
func (s *Service) Reconnect(ctx context.Context, id string) (*model.Integration, error) {
	integ, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if integ.Status == model.IntegrationStatusConnected {
		return nil, model.NewIntegrationConnectedError()
	}

	now := s.now()
	integ.Status = model.IntegrationStatusConnected
	integ.ConsecutiveErrors = 0
	integ.LastError = ""
	integ.NextSyncAt = now
	integ.UpdatedAt = now

	if err := s.repo.UpdateSyncState(ctx, integ); err != nil {
		return nil, fmt.Errorf("連携状態の更新に失敗しました: %w", err)
	}
	return integ, nil
}

// Remove は連携を削除する。取得済みのスナップショットは連携IDを外して保持される。
func (s *Service) Remove(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("連携の削除に失敗しました: %w", err)
	}
	return nil
}
