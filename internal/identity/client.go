package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/growthdash/internal/model"
)

const (
	defaultStorageKey    = "growthdash-auth"
	defaultRefreshMargin = 60 * time.Second
	defaultHTTPTimeout   = 10 * time.Second
	// maxResponseSize はプロバイダーのレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// ProviderError は認証プロバイダーが返したエラーレスポンスを表す。
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Message)
}

// IsClientError はプロバイダーが4xxを返したエラーかどうかを判定する。
func IsClientError(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode >= 400 && perr.StatusCode < 500
	}
	return false
}

// ClientConfig は認証プロバイダークライアントの設定。
type ClientConfig struct {
	BaseURL       string // 例: https://xyz.example.co/auth/v1
	APIKey        string // 公開(anon)キー。全リクエストのapikeyヘッダーに付与する
	StorageKey    string // SessionStoreのキー
	RefreshMargin time.Duration
	RedirectURL   string // パスワードリセットメールのリダイレクト先（任意）
	JWTSecret     []byte // 設定時はアクセストークンの署名を検証する（任意）
	HTTPClient    *http.Client
}

// Client はGoTrue互換のREST認証APIに対するProvider実装。
// セッションはSessionStoreに永続化し、状態変更はHubで購読者に通知する。
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	store      SessionStore
	hub        *Hub
	tokens     *TokenParser
	logger     *slog.Logger
	now        func() time.Time

	// refreshMu はリフレッシュトークンの多重使用を防ぐ。
	refreshMu sync.Mutex

	// commitMu はストアへの反映と通知を直列化する。
	// generationはサインイン・サインアップ・サインアウトのたびに増え、
	// それより前に開始したリフレッシュの結果を破棄するために使う。
	commitMu   sync.Mutex
	generation uint64
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig, store SessionStore, logger *slog.Logger) *Client {
	if config.StorageKey == "" {
		config.StorageKey = defaultStorageKey
	}
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = defaultRefreshMargin
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		store:      store,
		hub:        NewHub(0),
		tokens:     NewTokenParser(config.JWTSecret),
		logger:     logger,
		now:        time.Now,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// userResponse はプロバイダーのユーザーオブジェクト。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// errorResponse はプロバイダーのエラーレスポンス。バージョンによりフィールドが異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OnAuthStateChange は認証状態変更通知の購読を開始する。
func (c *Client) OnAuthStateChange() Subscription {
	return c.hub.Subscribe()
}

// SignInWithPassword はパスワード認証でサインインし、セッションを永続化する。
// 成功時はSIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResult, error) {
	var tr tokenResponse
	query := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, "/token", query, credentialsRequest{Email: email, Password: password}, "", &tr); err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	session, err := c.sessionFromToken(&tr)
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	if err := c.replaceSession(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("signed in", slog.String("user_id", session.User.ID))

	return &model.AuthResult{User: session.User, Session: session}, nil
}

// SignUp はユーザーを登録する。
// メール確認が不要な構成ではセッションが発行され、SIGNED_INを通知する。
// メール確認が必要な構成ではユーザーのみを返し、セッションは発行されない。
func (c *Client) SignUp(ctx context.Context, email, password string) (*model.AuthResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", nil, credentialsRequest{Email: email, Password: password}, "", &raw); err != nil {
		return nil, fmt.Errorf("sign up failed: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse sign up response: %w", err)
	}

	if tr.AccessToken == "" {
		// メール確認待ち: レスポンスはユーザーオブジェクトそのもの
		var ur userResponse
		if err := json.Unmarshal(raw, &ur); err != nil {
			return nil, fmt.Errorf("failed to parse sign up user: %w", err)
		}
		if ur.ID == "" {
			return nil, fmt.Errorf("sign up failed: empty user in response")
		}
		c.logger.Info("signed up, email confirmation pending", slog.String("user_id", ur.ID))
		return &model.AuthResult{User: toUser(&ur)}, nil
	}

	session, err := c.sessionFromToken(&tr)
	if err != nil {
		return nil, fmt.Errorf("sign up failed: %w", err)
	}
	if err := c.replaceSession(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("signed up", slog.String("user_id", session.User.ID))

	return &model.AuthResult{User: session.User, Session: session}, nil
}

// SignOut はプロバイダー側のセッションを無効化し、永続化済みセッションを削除する。
// プロバイダーがトークンを既に無効と判断した場合（401/403/404）もローカルのセッションは削除する。
// 成功時はSIGNED_OUTを通知する。
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.store.Load(ctx, c.config.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if session != nil && session.AccessToken != "" {
		err := c.do(ctx, http.MethodPost, "/logout", nil, nil, session.AccessToken, nil)
		if err != nil && !isInvalidTokenError(err) {
			return fmt.Errorf("sign out failed: %w", err)
		}
	}

	if err := c.replaceSession(ctx, nil); err != nil {
		return err
	}
	c.logger.Info("signed out")
	return nil
}

// replaceSession は永続化済みセッションを置き換え（nilの場合は削除し）、
// 進行中のリフレッシュの結果が反映されないよう世代を進めてから通知する。
func (c *Client) replaceSession(ctx context.Context, session *model.Session) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.generation++
	if session == nil {
		if err := c.store.Delete(ctx, c.config.StorageKey); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		c.hub.Publish(model.AuthEvent{Type: model.AuthEventSignedOut})
		return nil
	}

	if err := c.store.Save(ctx, c.config.StorageKey, session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	c.hub.Publish(model.AuthEvent{Type: model.AuthEventSignedIn, Session: session})
	return nil
}

// currentGeneration は現在のセッション世代を返す。
func (c *Client) currentGeneration() uint64 {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.generation
}

// SendPasswordReset はパスワードリセットメールの送信をプロバイダーに依頼する。
// ローカルのセッション状態は変更しない。
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	var query url.Values
	if c.config.RedirectURL != "" {
		query = url.Values{"redirect_to": {c.config.RedirectURL}}
	}

	if err := c.do(ctx, http.MethodPost, "/recover", query, map[string]string{"email": email}, "", nil); err != nil {
		return fmt.Errorf("password reset request failed: %w", err)
	}

	c.logger.Info("password reset requested")
	return nil
}

// GetCurrentSession は永続化済みのセッションを返す。
// 期限切れまたはリフレッシュマージン内のセッションはリフレッシュしてから返す。
// リフレッシュが拒否された場合はセッションを削除してnilを返す。
func (c *Client) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	session, err := c.store.Load(ctx, c.config.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if !session.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return session, nil
	}

	return c.refresh(ctx)
}

// StartAutoRefresh はintervalごとにセッションの期限を確認し、必要ならリフレッシュする。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.refresh(ctx); err != nil {
				c.logger.Error("session auto refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refresh は必要な場合のみリフレッシュトークンでセッションを更新する。
// 成功時はTOKEN_REFRESHED、拒否時（セッション失効）はSIGNED_OUTを通知する。
func (c *Client) refresh(ctx context.Context) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// ロック待ちの間に他のゴルーチンが更新している可能性があるため再読み込みする
	gen := c.currentGeneration()
	session, err := c.store.Load(ctx, c.config.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if !session.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return session, nil
	}

	if session.RefreshToken == "" {
		return c.expire(ctx, gen, "missing refresh token")
	}

	var tr tokenResponse
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": session.RefreshToken}
	if err := c.do(ctx, http.MethodPost, "/token", query, body, "", &tr); err != nil {
		if IsClientError(err) {
			return c.expire(ctx, gen, err.Error())
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	refreshed, err := c.sessionFromToken(&tr)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.generation != gen {
		return c.discardRefresh(ctx)
	}
	if err := c.store.Save(ctx, c.config.StorageKey, refreshed); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	c.logger.Info("session refreshed",
		slog.String("user_id", refreshed.User.ID),
		slog.Time("expires_at", refreshed.ExpiresAt),
	)
	c.hub.Publish(model.AuthEvent{Type: model.AuthEventTokenRefreshed, Session: refreshed})

	return refreshed, nil
}

// discardRefresh はリフレッシュ中にサインイン・サインアウトが行われた場合に呼ばれ、
// 結果を反映せずにその時点の永続化済みセッションを返す。commitMuを保持して呼ぶ。
func (c *Client) discardRefresh(ctx context.Context) (*model.Session, error) {
	c.logger.Info("discarded refresh result superseded by a newer session change")
	session, err := c.store.Load(ctx, c.config.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// expire は失効したセッションを削除し、SIGNED_OUTを通知する。
// genの後にセッションが置き換えられていた場合は何もしない。
func (c *Client) expire(ctx context.Context, gen uint64, reason string) (*model.Session, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.generation != gen {
		return c.discardRefresh(ctx)
	}

	if err := c.store.Delete(ctx, c.config.StorageKey); err != nil {
		return nil, fmt.Errorf("failed to delete expired session: %w", err)
	}

	c.logger.Warn("session expired", slog.String("reason", reason))
	c.hub.Publish(model.AuthEvent{Type: model.AuthEventSignedOut})
	return nil, nil
}

// sessionFromToken はトークンレスポンスからセッションを構築する。
func (c *Client) sessionFromToken(tr *tokenResponse) (*model.Session, error) {
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	claims, err := c.tokens.parse(tr.AccessToken)
	if err != nil {
		return nil, err
	}

	var expiresAt time.Time
	switch {
	case tr.ExpiresAt > 0:
		expiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		expiresAt = claims.expiry()
	}
	if expiresAt.IsZero() {
		return nil, fmt.Errorf("%w: no expiry", ErrInvalidToken)
	}

	var user *model.User
	if tr.User != nil {
		if claims.Subject != "" && tr.User.ID != claims.Subject {
			return nil, fmt.Errorf("%w: subject does not match user", ErrInvalidToken)
		}
		user = toUser(tr.User)
	} else {
		if claims.Subject == "" {
			return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
		}
		user = &model.User{ID: claims.Subject, Email: claims.Email}
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &model.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

// do はプロバイダーAPIにJSONリクエストを送信する。
// 2xx以外のレスポンスは*ProviderErrorとして返す。outがnilの場合はボディを読み捨てる。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string, out any) error {
	reqURL := c.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to identity provider failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseProviderError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseProviderError はエラーレスポンスのボディからProviderErrorを構築する。
func parseProviderError(statusCode int, body []byte) *ProviderError {
	perr := &ProviderError{StatusCode: statusCode}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		perr.Message = strings.TrimSpace(string(body))
		return perr
	}

	perr.Code = er.ErrorCode
	if perr.Code == "" {
		perr.Code = er.Error
	}
	for _, msg := range []string{er.ErrorDescription, er.Msg, er.Message, er.Error} {
		if msg != "" {
			perr.Message = msg
			break
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(statusCode)
	}
	return perr
}

// isInvalidTokenError はサインアウト時に無視してよいエラー（トークン既に無効）かを判定する。
func isInvalidTokenError(err error) bool {
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// toUser はプロバイダーのユーザーオブジェクトをドメインモデルに変換する。
func toUser(ur *userResponse) *model.User {
	metadata := make(map[string]any, 2)
	if len(ur.UserMetadata) > 0 {
		metadata["user_metadata"] = ur.UserMetadata
	}
	if len(ur.AppMetadata) > 0 {
		metadata["app_metadata"] = ur.AppMetadata
	}
	return &model.User{
		ID:        ur.ID,
		Email:     ur.Email,
		Metadata:  metadata,
		CreatedAt: ur.CreatedAt,
	}
}

// compile-time interface check
var _ Provider = (*Client)(nil)
