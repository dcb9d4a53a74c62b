package apiset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

// --- スタブ ---

type stubClients struct{ Clients }
type stubAgents struct{ Agents }
type stubAnalytics struct{ Analytics }
type stubIntegrations struct{ Integrations }
type stubDashboard struct{ Dashboard }

func (s *stubDashboard) Summary(ctx context.Context, clientID string) (*model.DashboardSummary, error) {
	return &model.DashboardSummary{ClientID: clientID, GeneratedAt: time.Now()}, nil
}

// countingFactories は各ファクトリの呼び出し回数を数える。
type countingFactories struct {
	calls map[Key]int
}

func (c *countingFactories) factories() Factories {
	c.calls = make(map[Key]int)
	return Factories{
		Clients:      func() Clients { c.calls[KeyClients]++; return &stubClients{} },
		Agents:       func() Agents { c.calls[KeyAgents]++; return &stubAgents{} },
		Analytics:    func() Analytics { c.calls[KeyAnalytics]++; return &stubAnalytics{} },
		Integrations: func() Integrations { c.calls[KeyIntegrations]++; return &stubIntegrations{} },
		Dashboard:    func() Dashboard { c.calls[KeyDashboard]++; return &stubDashboard{} },
	}
}

// --- テスト ---

// TestProvide_ConstructsEachHandleOnce は各ハンドルが1回だけ生成されることを検証する。
func TestProvide_ConstructsEachHandleOnce(t *testing.T) {
	cf := &countingFactories{}

	ctx, set, err := Provide(context.Background(), cf.factories())
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := Access(ctx); err != nil {
			t.Fatalf("Access returned error: %v", err)
		}
	}

	for _, key := range Keys {
		if cf.calls[key] != 1 {
			t.Errorf("factory %s called %d times, want 1", key, cf.calls[key])
		}
		if h, ok := set.Get(key); !ok || h == nil {
			t.Errorf("handle %s missing", key)
		}
	}
}

// TestAccess_IdentityEqualPerKey はスコープ内のAccessが同一のハンドルを返すことを検証する。
func TestAccess_IdentityEqualPerKey(t *testing.T) {
	cf := &countingFactories{}
	ctx, _, err := Provide(context.Background(), cf.factories())
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}

	first := MustAccess(ctx)
	second := MustAccess(ctx)
	if first != second {
		t.Error("expected the same handle set for every access")
	}
	for _, key := range Keys {
		a, _ := first.Get(key)
		b, _ := second.Get(key)
		if a != b {
			t.Errorf("handle %s differs between accesses", key)
		}
	}
	if first.Clients() != second.Clients() || first.Dashboard() != second.Dashboard() {
		t.Error("accessor methods returned different handles")
	}
}

// TestAccess_PerRequestContext はNewContextで引き継いだコンテキストでも同一の集合を返すことを検証する。
func TestAccess_PerRequestContext(t *testing.T) {
	cf := &countingFactories{}
	_, set, err := Provide(context.Background(), cf.factories())
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(NewContext(context.Background(), set), time.Second)
	defer cancel()

	got, err := Access(reqCtx)
	if err != nil {
		t.Fatalf("Access returned error: %v", err)
	}
	if got != set {
		t.Error("expected the provided handle set")
	}

	summary, err := got.Dashboard().Summary(reqCtx, "client-1")
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if summary.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want %q", summary.ClientID, "client-1")
	}
}

// TestAccess_NotProvided はスコープ外のアクセスがErrNotProvidedとなることを検証する。
func TestAccess_NotProvided(t *testing.T) {
	set, err := Access(context.Background())
	if !errors.Is(err, model.ErrNotProvided) {
		t.Errorf("err = %v, want ErrNotProvided", err)
	}
	if set != nil {
		t.Errorf("set = %v, want nil", set)
	}
}

// TestMustAccess_Panics はスコープ外のMustAccessがpanicすることを検証する。
func TestMustAccess_Panics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, model.ErrNotProvided) {
			t.Errorf("panic value = %v, want ErrNotProvided", r)
		}
	}()
	MustAccess(context.Background())
	t.Fatal("expected panic")
}

// TestProvide_MissingFactory はファクトリの欠落で部分的な集合を返さないことを検証する。
func TestProvide_MissingFactory(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Factories)
		key    Key
	}{
		{"clients", func(f *Factories) { f.Clients = nil }, KeyClients},
		{"agents", func(f *Factories) { f.Agents = nil }, KeyAgents},
		{"analytics", func(f *Factories) { f.Analytics = nil }, KeyAnalytics},
		{"integrations", func(f *Factories) { f.Integrations = nil }, KeyIntegrations},
		{"dashboard", func(f *Factories) { f.Dashboard = nil }, KeyDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf := &countingFactories{}
			f := cf.factories()
			tt.mutate(&f)

			ctx, set, err := Provide(context.Background(), f)
			if !errors.Is(err, ErrMissingHandle) {
				t.Fatalf("err = %v, want ErrMissingHandle", err)
			}
			if set != nil {
				t.Error("expected no handle set")
			}
			if _, err := Access(ctx); !errors.Is(err, model.ErrNotProvided) {
				t.Errorf("Access err = %v, want ErrNotProvided", err)
			}
		})
	}
}

// TestProvide_NilHandle はファクトリがnilを返した場合に失敗することを検証する。
func TestProvide_NilHandle(t *testing.T) {
	cf := &countingFactories{}
	f := cf.factories()
	f.Analytics = func() Analytics { return nil }

	_, set, err := Provide(context.Background(), f)
	if !errors.Is(err, ErrMissingHandle) {
		t.Fatalf("err = %v, want ErrMissingHandle", err)
	}
	if set != nil {
		t.Error("expected no handle set")
	}
}

// TestHandleSet_GetUnknownKey は未知のキーでfalseを返すことを検証する。
func TestHandleSet_GetUnknownKey(t *testing.T) {
	cf := &countingFactories{}
	_, set, err := Provide(context.Background(), cf.factories())
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}
	if _, ok := set.Get(Key("billing")); ok {
		t.Error("expected unknown key to be reported as missing")
	}
}
