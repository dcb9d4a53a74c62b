// Package agent は顧客ごとの会話エージェント管理のドメインロジックを提供する。
package agent

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

// maxNameRunes はエージェント名の最大文字数。
const maxNameRunes = 80

var _ apiset.Agents = (*Service)(nil)

// Service はエージェント管理のサービス層。
// エージェントは必ず既存の顧客に紐づく。
type Service struct {
	agentRepo  repository.AgentRepository
	clientRepo repository.ClientRepository
	sanitizer  security.TextSanitizer
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	agentRepo repository.AgentRepository,
	clientRepo repository.ClientRepository,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		agentRepo:  agentRepo,
		clientRepo: clientRepo,
		sanitizer:  sanitizer,
		now:        time.Now,
	}
}

// List は顧客のエージェント一覧を返す。
func (s *Service) List(ctx context.Context, clientID string) ([]*model.Agent, error) {
	if err := s.ensureClient(ctx, clientID); err != nil {
		return nil, err
	}
	agents, err := s.agentRepo.ListByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("エージェント一覧の取得に失敗しました: %w", err)
	}
	return agents, nil
}

// Get は指定IDのエージェントを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Agent, error) {
	a, err := s.agentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("エージェントの取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAgentNotFoundError(id)
	}
	return a, nil
}

// Create はエージェントを稼働中の状態で作成する。
func (s *Service) Create(ctx context.Context, clientID, name string, channel model.AgentChannel) (*model.Agent, error) {
	if !channel.Valid() {
		return nil, model.NewInvalidChannelError(string(channel))
	}
	name = s.sanitizer.Sanitize(name, maxNameRunes)
	if name == "" {
		return nil, model.NewInvalidRequestError("エージェント名は必須です")
	}
	if err := s.ensureClient(ctx, clientID); err != nil {
		return nil, err
	}

	now := s.now()
	a := &model.Agent{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Name:      name,
		Channel:   channel,
		Status:    model.AgentStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.agentRepo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("エージェントの作成に失敗しました: %w", err)
	}
	return a, nil
}

// SetStatus はエージェントの稼働状態を切り替える。
func (s *Service) SetStatus(ctx context.Context, id string, status model.AgentStatus) (*model.Agent, error) {
	if status != model.AgentStatusActive && status != model.AgentStatusInactive {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("無効なエージェントステータスです: %s", status))
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}

	if err := s.agentRepo.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("エージェントステータスの更新に失敗しました: %w", err)
	}
	a.Status = status
	a.UpdatedAt = s.now()
	return a, nil
}

func (s *Service) ensureClient(ctx context.Context, clientID string) error {
	c, err := s.clientRepo.FindByID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if c == nil {
		return model.NewClientNotFoundError(clientID)
	}
	return nil
}
