// Package client は顧客（コンサルティング契約先）管理のドメインロジックを提供する。
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/repository"
	"github.com/hitoshi/growthdash/internal/security"
)

const (
	// maxNameRunes は顧客名の最大文字数。
	maxNameRunes = 120
	// maxIndustryRunes は業種の最大文字数。
	maxIndustryRunes = 80
)

var _ apiset.Clients = (*Service)(nil)

// Service は顧客管理のサービス層。
type Service struct {
	repo      repository.ClientRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ClientRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は全顧客を返す。
func (s *Service) List(ctx context.Context) ([]*model.Client, error) {
	clients, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("顧客一覧の取得に失敗しました: %w", err)
	}
	return clients, nil
}

// Get は指定IDの顧客を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Client, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(id)
	}
	return c, nil
}

// Create は顧客を作成する。名前と業種はプレーンテキストに正規化して保存する。
func (s *Service) Create(ctx context.Context, name, industry string) (*model.Client, error) {
	name = s.sanitizer.Sanitize(name, maxNameRunes)
	if name == "" {
		return nil, model.NewInvalidRequestError("顧客名は必須です")
	}

	now := s.now()
	c := &model.Client{
		ID:        uuid.New().String(),
		Name:      name,
		Industry:  s.sanitizer.Sanitize(industry, maxIndustryRunes),
		Status:    model.ClientStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("顧客の作成に失敗しました: %w", err)
	}
	return c, nil
}

// UpdateStatus は顧客の契約状態を更新し、更新後の顧客を返す。
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.ClientStatus) (*model.Client, error) {
	if !status.Valid() {
		return nil, model.NewInvalidClientStatusError(string(status))
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("顧客ステータスの更新に失敗しました: %w", err)
	}
	c.Status = status
	c.UpdatedAt = s.now()
	return c, nil
}
