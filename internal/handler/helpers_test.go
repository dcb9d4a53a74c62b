package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/identity"
	"github.com/hitoshi/growthdash/internal/middleware"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/session"
)

const (
	testStorageKey  = "handler-test-auth"
	testCSRFToken   = "test-csrf-token"
	testUserID      = "user-123"
	testAccessToken = "access-" + testUserID
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- 認証プロバイダー ---

// signTestToken はテスト用のアクセストークンを発行する。
func signTestToken(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// writeTokenResponse は認証プロバイダーのトークンレスポンスを書き込む。
func writeTokenResponse(t *testing.T, w http.ResponseWriter, userID, email string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  signTestToken(t, userID, email),
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + userID,
		"user":          map[string]any{"id": userID, "email": email},
	})
}

// newTestManager はセッション管理を生成して起動する。
// providerがnilの場合は到達不能なプロバイダーを使用する。
// seedUserIDが空でない場合は永続化済みセッションを復元した状態で起動する。
func newTestManager(t *testing.T, provider http.HandlerFunc, seedUserID string) *session.Manager {
	t.Helper()
	logger := newTestLogger()

	baseURL := "http://auth.invalid"
	if provider != nil {
		server := httptest.NewServer(provider)
		t.Cleanup(server.Close)
		baseURL = server.URL
	}

	store := identity.NewMemoryStore()
	if seedUserID != "" {
		err := store.Save(context.Background(), testStorageKey, &model.Session{
			AccessToken:  "access-" + seedUserID,
			RefreshToken: "refresh-" + seedUserID,
			TokenType:    "bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
			User:         &model.User{ID: seedUserID, Email: seedUserID + "@example.com"},
		})
		if err != nil {
			t.Fatalf("failed to save session: %v", err)
		}
	}

	client := identity.NewClient(identity.ClientConfig{
		BaseURL:    baseURL,
		APIKey:     "anon",
		StorageKey: testStorageKey,
	}, store, logger)

	mgr := session.NewManager(client, logger, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

// waitForStatus はセッション管理が指定の状態になるまで待つ。
func waitForStatus(t *testing.T, mgr *session.Manager, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", mgr.Snapshot().Status, want)
}

// --- データアクセスハンドルのモック ---

type mockClients struct {
	listFn         func(ctx context.Context) ([]*model.Client, error)
	getFn          func(ctx context.Context, id string) (*model.Client, error)
	createFn       func(ctx context.Context, name, industry string) (*model.Client, error)
	updateStatusFn func(ctx context.Context, id string, status model.ClientStatus) (*model.Client, error)
}

func (m *mockClients) List(ctx context.Context) ([]*model.Client, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockClients) Get(ctx context.Context, id string) (*model.Client, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewClientNotFoundError(id)
}

func (m *mockClients) Create(ctx context.Context, name, industry string) (*model.Client, error) {
	if m.createFn != nil {
		return m.createFn(ctx, name, industry)
	}
	return nil, nil
}

func (m *mockClients) UpdateStatus(ctx context.Context, id string, status model.ClientStatus) (*model.Client, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil, nil
}

type mockAgents struct {
	listFn      func(ctx context.Context, clientID string) ([]*model.Agent, error)
	getFn       func(ctx context.Context, id string) (*model.Agent, error)
	createFn    func(ctx context.Context, clientID, name string, channel model.AgentChannel) (*model.Agent, error)
	setStatusFn func(ctx context.Context, id string, status model.AgentStatus) (*model.Agent, error)
}

func (m *mockAgents) List(ctx context.Context, clientID string) ([]*model.Agent, error) {
	if m.listFn != nil {
		return m.listFn(ctx, clientID)
	}
	return nil, nil
}

func (m *mockAgents) Get(ctx context.Context, id string) (*model.Agent, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewAgentNotFoundError(id)
}

func (m *mockAgents) Create(ctx context.Context, clientID, name string, channel model.AgentChannel) (*model.Agent, error) {
	if m.createFn != nil {
		return m.createFn(ctx, clientID, name, channel)
	}
	return nil, nil
}

func (m *mockAgents) SetStatus(ctx context.Context, id string, status model.AgentStatus) (*model.Agent, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, id, status)
	}
	return nil, nil
}

type mockAnalytics struct {
	seriesFn func(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error)
}

func (m *mockAnalytics) Series(ctx context.Context, clientID string, metric model.MetricKind, from, to time.Time) ([]*model.MetricSnapshot, error) {
	if m.seriesFn != nil {
		return m.seriesFn(ctx, clientID, metric, from, to)
	}
	return nil, nil
}

func (m *mockAnalytics) Record(ctx context.Context, clientID, integrationID string, samples []model.MetricSample) (int, error) {
	return len(samples), nil
}

type mockIntegrations struct {
	listFn               func(ctx context.Context, clientID string) ([]*model.Integration, error)
	getFn                func(ctx context.Context, id string) (*model.Integration, error)
	registerFn           func(ctx context.Context, reg model.IntegrationRegistration) (*model.Integration, error)
	updateSyncIntervalFn func(ctx context.Context, id string, minutes int) (*model.Integration, error)
	reconnectFn          func(ctx context.Context, id string) (*model.Integration, error)
	removeFn             func(ctx context.Context, id string) error
}

func (m *mockIntegrations) List(ctx context.Context, clientID string) ([]*model.Integration, error) {
	if m.listFn != nil {
		return m.listFn(ctx, clientID)
	}
	return nil, nil
}

func (m *mockIntegrations) Get(ctx context.Context, id string) (*model.Integration, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewIntegrationNotFoundError(id)
}

func (m *mockIntegrations) Register(ctx context.Context, reg model.IntegrationRegistration) (*model.Integration, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, reg)
	}
	return nil, nil
}

func (m *mockIntegrations) UpdateSyncInterval(ctx context.Context, id string, minutes int) (*model.Integration, error) {
	if m.updateSyncIntervalFn != nil {
		return m.updateSyncIntervalFn(ctx, id, minutes)
	}
	return nil, nil
}

func (m *mockIntegrations) Reconnect(ctx context.Context, id string) (*model.Integration, error) {
	if m.reconnectFn != nil {
		return m.reconnectFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIntegrations) Remove(ctx context.Context, id string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, id)
	}
	return nil
}

type mockDashboard struct {
	summaryFn func(ctx context.Context, clientID string) (*model.DashboardSummary, error)
}

func (m *mockDashboard) Summary(ctx context.Context, clientID string) (*model.DashboardSummary, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx, clientID)
	}
	return nil, model.NewClientNotFoundError(clientID)
}

// testHandles はテストで差し替えるハンドル。未設定のハンドルは空のモックを使う。
type testHandles struct {
	clients      *mockClients
	agents       *mockAgents
	analytics    *mockAnalytics
	integrations *mockIntegrations
	dashboard    *mockDashboard
}

func (h testHandles) provide(t *testing.T) *apiset.HandleSet {
	t.Helper()
	if h.clients == nil {
		h.clients = &mockClients{}
	}
	if h.agents == nil {
		h.agents = &mockAgents{}
	}
	if h.analytics == nil {
		h.analytics = &mockAnalytics{}
	}
	if h.integrations == nil {
		h.integrations = &mockIntegrations{}
	}
	if h.dashboard == nil {
		h.dashboard = &mockDashboard{}
	}

	_, set, err := apiset.Provide(context.Background(), apiset.Factories{
		Clients:      func() apiset.Clients { return h.clients },
		Agents:       func() apiset.Agents { return h.agents },
		Analytics:    func() apiset.Analytics { return h.analytics },
		Integrations: func() apiset.Integrations { return h.integrations },
		Dashboard:    func() apiset.Dashboard { return h.dashboard },
	})
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}
	return set
}

// --- ルーターとリクエスト ---

// newTestRouter はテスト用のルーターを生成する。
func newTestRouter(t *testing.T, mgr *session.Manager, handles testHandles) http.Handler {
	t.Helper()
	return NewRouter(&RouterDeps{
		Manager:           mgr,
		Handles:           handles.provide(t),
		CORSAllowedOrigin: "http://localhost:3000",
		CSRF:              middleware.CSRFConfig{},
		Logger:            newTestLogger(),
	})
}

// newAuthenticatedRouter はサインイン済みのセッション管理でルーターを生成する。
// 返すハンドラーは現在のアクセストークンを提示するクライアントとして振る舞う。
func newAuthenticatedRouter(t *testing.T, handles testHandles) http.Handler {
	t.Helper()
	return withBearer(newTestRouter(t, newTestManager(t, nil, testUserID), handles), testAccessToken)
}

// withBearer はAuthorizationヘッダーのないリクエストにBearerトークンを付与する。
func withBearer(next http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		next.ServeHTTP(w, r)
	})
}

// doRequest はルーターにリクエストを送る。状態変更メソッドにはCSRFトークンを付与する。
func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestWithCookies(t, router, method, path, body, nil)
}

// doRequestWithCookies はCookieを付与してルーターにリクエストを送る。
func doRequestWithCookies(t *testing.T, router http.Handler, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
		req.Header.Set("X-CSRF-Token", testCSRFToken)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// sessionCookie はレスポンスが設定したセッションCookieを返す。
func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(strings.NewReader(w.Body.String())).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%s)", err, w.Body.String())
	}
}

// withScope はルーターを経由せずにハンドラーを呼ぶため、
// スコープミドルウェアと同じ値を注入したリクエストを生成する。
func withScope(t *testing.T, method, path string, handles testHandles) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	ctx := session.NewContext(req.Context(), newTestManager(t, nil, testUserID))
	ctx = apiset.NewContext(ctx, handles.provide(t))
	return req.WithContext(ctx)
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serve はハンドラー関数を直接呼び出す。
func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, r)
	return w
}
