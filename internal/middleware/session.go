// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/session"
)

// errNoUser はセッションにユーザーが存在しないことを示す。
var errNoUser = errors.New("no signed-in user")

// NewScopeMiddleware はセッション管理とデータアクセスハンドル集合を
// リクエストコンテキストに注入するミドルウェアを返す。
// 両者はプロセスで1つずつ生成され、すべてのリクエストで同じインスタンスを参照する。
func NewScopeMiddleware(mgr *session.Manager, handles *apiset.HandleSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := session.NewContext(r.Context(), mgr)
			ctx = apiset.NewContext(ctx, handles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionCookieName はサインインしたブラウザをセッションに結び付けるCookieの名前。
const SessionCookieName = "session_id"

// sessionCookieMaxAge はセッションCookieの有効期間（秒）。
const sessionCookieMaxAge = 7 * 86400

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Secure bool
	Domain string
}

// SessionGuard はリクエストが提示した資格情報と、プロセスが保持するセッションを照合する。
// 資格情報はサインイン時に発行するHttpOnly Cookie、または
// Authorization: Bearer ヘッダーの現在のアクセストークンのいずれか。
type SessionGuard struct {
	config SessionCookieConfig

	mu      sync.Mutex
	cookie  string // 発行済みCookieの値
	boundTo string // Cookieを発行したユーザーID
}

// NewSessionGuard はSessionGuardを生成する。
func NewSessionGuard(config SessionCookieConfig) *SessionGuard {
	return &SessionGuard{config: config}
}

// Bind は新しいCookie値を発行してuserIDに結び付け、レスポンスに設定する。
// 以前に発行したCookieは無効になる。
func (g *SessionGuard) Bind(w http.ResponseWriter, userID string) error {
	if userID == "" {
		return errNoUser
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("セッションCookieの生成に失敗: %w", err)
	}
	value := hex.EncodeToString(b)

	g.mu.Lock()
	g.cookie = value
	g.boundTo = userID
	g.mu.Unlock()

	g.setCookie(w, value, sessionCookieMaxAge)
	return nil
}

// Unbind は発行済みのCookieを無効化し、レスポンスでCookieを削除する。
func (g *SessionGuard) Unbind(w http.ResponseWriter) {
	g.mu.Lock()
	g.cookie = ""
	g.boundTo = ""
	g.mu.Unlock()

	g.setCookie(w, "", -1)
}

// Verify はリクエストの資格情報がスナップショットのセッションに一致するかを返す。
func (g *SessionGuard) Verify(r *http.Request, snap session.Snapshot) bool {
	if !snap.Authenticated() {
		return false
	}

	if token, ok := bearerToken(r); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(snap.Session.AccessToken)) == 1
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cookie == "" || snap.User == nil || g.boundTo != snap.User.ID {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(g.cookie)) == 1
}

func (g *SessionGuard) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   g.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// bearerToken はAuthorizationヘッダーのBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// NewRequireAuthenticatedMiddleware はリクエストの資格情報がプロセスの
// 現在のセッションに一致しないリクエストを401 Unauthorizedで拒否するミドルウェアを返す。
func NewRequireAuthenticatedMiddleware(guard *SessionGuard, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mgr, err := session.FromContext(r.Context())
			if err != nil {
				logger.Error("session manager is not in request scope",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if !guard.Verify(r, mgr.Snapshot()) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストスコープのセッション管理からサインイン中のユーザーIDを取得する。
// スコープミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	mgr, err := session.FromContext(ctx)
	if err != nil {
		return "", err
	}
	user := mgr.Snapshot().User
	if user == nil || user.ID == "" {
		return "", errNoUser
	}
	return user.ID, nil
}
