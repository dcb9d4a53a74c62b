// Package apiset はアプリケーション全体で共有するデータアクセスハンドルの集合を提供する。
//
// Provideで5つのハンドルを1回だけ生成し、以降はコンテキスト経由で同一のハンドルを参照する。
// ハンドルの集合は生成後に変更できない。
package apiset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// Clients は顧客のデータアクセスハンドル。
type Clients interface {
	List(ctx context.Context) ([]*model.Client, error)
	Get(ctx context.Context, id string) (*model.Client, error)
	Create(ctx context.Context, name, industry string) (*model.Client, error)
	UpdateStatus(ctx context.Context, id string, status model.ClientStatus) (*model.Client, error)
}

// Agents はエージェントのデータアクセスハンドル。
type Agents interface {
	List(ctx context.Context, clientID string) ([]*model.Agent, error)
	Get(ctx context.Context, id string) (*model.Agent, error)
	Create(ctx context.Context, clientID, name string, channel model.AgentChannel) (*model.Agent, error)
	SetStatus(ctx context.Context, id string, status model.AgentStatus) (*model.Agent, error)
}

// Analytics は指標スナップショットのデータアクセスハンドル。
type Analytics interface {
	Series(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error)
	Record(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error)
}

// Integrations は外部連携のデータアクセスハンドル。
type Integrations interface {
	List(ctx context.Context, clientID string) ([]*model.Integration, error)
	Get(ctx context.Context, id string) (*model.Integration, error)
	Register(ctx context.Context, reg model.IntegrationRegistration) (*model.Integration, error)
	UpdateSyncInterval(ctx context.Context, id string, minutes int) (*model.Integration, error)
	Reconnect(ctx context.Context, id string) (*model.Integration, error)
	Remove(ctx context.Context, id string) error
}

// Dashboard はダッシュボード集計のデータアクセスハンドル。
type Dashboard interface {
	Summary(ctx context.Context, clientID string) (*model.DashboardSummary, error)
}

// Key はハンドル集合のキー。
type Key string

const (
	KeyClients      Key = "clients"
	KeyAgents       Key = "agents"
	KeyAnalytics    Key = "analytics"
	KeyIntegrations Key = "integrations"
	KeyDashboard    Key = "dashboard"
)

// Keys はハンドル集合の全キー。
var Keys = []Key{KeyClients, KeyAgents, KeyAnalytics, KeyIntegrations, KeyDashboard}

// ErrMissingHandle はファクトリが未設定、またはハンドルを返さなかったことを示す。
var ErrMissingHandle = errors.New("missing handle")

// Factories は各ハンドルを生成する外部ファクトリ。すべて必須。
type Factories struct {
	Clients      func() Clients
	Agents       func() Agents
	Analytics    func() Analytics
	Integrations func() Integrations
	Dashboard    func() Dashboard
}

// HandleSet は生成済みの5つのハンドル。読み取り専用で、アクセサ経由でのみ参照する。
type HandleSet struct {
	clients      Clients
	agents       Agents
	analytics    Analytics
	integrations Integrations
	dashboard    Dashboard
}

// Clients は顧客ハンドルを返す。
func (s *HandleSet) Clients() Clients { return s.clients }

// Agents はエージェントハンドルを返す。
func (s *HandleSet) Agents() Agents { return s.agents }

// Analytics は指標ハンドルを返す。
func (s *HandleSet) Analytics() Analytics { return s.analytics }

// Integrations は連携ハンドルを返す。
func (s *HandleSet) Integrations() Integrations { return s.integrations }

// Dashboard はダッシュボードハンドルを返す。
func (s *HandleSet) Dashboard() Dashboard { return s.dashboard }

// Get はキーに対応するハンドルを返す。未知のキーの場合はfalseを返す。
func (s *HandleSet) Get(key Key) (any, bool) {
	switch key {
	case KeyClients:
		return s.clients, true
	case KeyAgents:
		return s.agents, true
	case KeyAnalytics:
		return s.analytics, true
	case KeyIntegrations:
		return s.integrations, true
	case KeyDashboard:
		return s.dashboard, true
	}
	return nil, false
}

// Provide は5つのハンドルを1回ずつ生成し、ハンドル集合を保持したコンテキストを返す。
// いずれかのファクトリが未設定、またはnilを返した場合はエラーとし、部分的な集合は返さない。
func Provide(ctx context.Context, f Factories) (context.Context, *HandleSet, error) {
	if f.Clients == nil {
		return ctx, nil, missing(KeyClients)
	}
	if f.Agents == nil {
		return ctx, nil, missing(KeyAgents)
	}
	if f.Analytics == nil {
		return ctx, nil, missing(KeyAnalytics)
	}
	if f.Integrations == nil {
		return ctx, nil, missing(KeyIntegrations)
	}
	if f.Dashboard == nil {
		return ctx, nil, missing(KeyDashboard)
	}

	set := &HandleSet{
		clients:      f.Clients(),
		agents:       f.Agents(),
		analytics:    f.Analytics(),
		integrations: f.Integrations(),
		dashboard:    f.Dashboard(),
	}
	for _, key := range Keys {
		if h, _ := set.Get(key); h == nil {
			return ctx, nil, missing(key)
		}
	}

	return NewContext(ctx, set), set, nil
}

func missing(key Key) error {
	return fmt.Errorf("provide %s: %w", key, ErrMissingHandle)
}

type contextKey struct{}

// NewContext はハンドル集合をスコープに登録したコンテキストを返す。
// リクエストごとのコンテキストに同じ集合を引き継ぐ場合に使用する。
func NewContext(ctx context.Context, set *HandleSet) context.Context {
	return context.WithValue(ctx, contextKey{}, set)
}

// Access はスコープに登録されたハンドル集合を返す。
// スコープ外の場合はmodel.ErrNotProvidedをラップしたエラーを返す。
func Access(ctx context.Context) (*HandleSet, error) {
	set, ok := ctx.Value(contextKey{}).(*HandleSet)
	if !ok || set == nil {
		return nil, fmt.Errorf("api handle set: %w", model.ErrNotProvided)
	}
	return set, nil
}

// MustAccess はAccessと同様だが、スコープ外の場合はpanicする。
func MustAccess(ctx context.Context) *HandleSet {
	set, err := Access(ctx)
	if err != nil {
		panic(err)
	}
	return set
}
