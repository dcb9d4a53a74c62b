package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/growthdash/internal/middleware"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/session"
)

// AuthHandler はセッション管理の認証操作を公開するHTTPハンドラー。
// セッション管理はリクエストコンテキストから取得する。
// サインインしたリクエストにはguardがセッションCookieを発行する。
type AuthHandler struct {
	guard  *middleware.SessionGuard
	logger *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(guard *middleware.SessionGuard, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{guard: guard, logger: logger}
}

// credentialsRequest はサインイン・サインアップのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// resetPasswordRequest はパスワードリセットのリクエストボディ。
type resetPasswordRequest struct {
	Email string `json:"email"`
}

// userResponse はユーザー情報のJSONレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// authResultResponse はサインイン・サインアップのJSONレスポンス。
// メール確認が必要な場合はconfirmation_requiredがtrueとなる。
type authResultResponse struct {
	User                 *userResponse `json:"user,omitempty"`
	ConfirmationRequired bool          `json:"confirmation_required"`
}

// stateResponse はセッション管理の状態のJSONレスポンス。
type stateResponse struct {
	Status    string        `json:"status"`
	Loading   bool          `json:"loading"`
	User      *userResponse `json:"user,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Error     *stateError   `json:"error,omitempty"`
}

// stateError は直近の認証エラーの要約。
type stateError struct {
	Kind      string `json:"kind"`
	Operation string `json:"operation"`
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	result, err := session.MustFromContext(r.Context()).SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if !h.bindSession(w, result) {
		return
	}

	writeJSON(w, http.StatusOK, toAuthResultResponse(result))
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	result, err := session.MustFromContext(r.Context()).SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if !h.bindSession(w, result) {
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResultResponse(result))
}

// SignOut は現在のセッションを無効化する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := session.MustFromContext(r.Context()).SignOut(r.Context()); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.guard.Unbind(w)
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword はパスワードリセットメールの送信を依頼する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	if err := session.MustFromContext(r.Context()).ResetPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// State はリクエストから見たセッション管理の現在の状態を返す。
// 資格情報を提示しないリクエストには、プロセスがサインイン中でもUnauthenticatedを返す。
// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	snap := session.MustFromContext(r.Context()).Snapshot()
	writeJSON(w, http.StatusOK, h.stateFor(r, snap))
}

// AcknowledgeError は未確認の認証エラーを確認済みとし、更新後の状態を返す。
// POST /auth/state/ack
func (h *AuthHandler) AcknowledgeError(w http.ResponseWriter, r *http.Request) {
	mgr := session.MustFromContext(r.Context())
	mgr.AcknowledgeError()
	writeJSON(w, http.StatusOK, h.stateFor(r, mgr.Snapshot()))
}

// bindSession はセッションが発行された場合にリクエスト元へセッションCookieを発行する。
// 失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *AuthHandler) bindSession(w http.ResponseWriter, result *model.AuthResult) bool {
	if result == nil || result.Session == nil {
		return true
	}
	user := result.User
	if user == nil {
		user = result.Session.User
	}
	var userID string
	if user != nil {
		userID = user.ID
	}
	if err := h.guard.Bind(w, userID); err != nil {
		h.logger.Error("failed to bind session cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return false
	}
	return true
}

func (h *AuthHandler) stateFor(r *http.Request, snap session.Snapshot) stateResponse {
	if snap.Authenticated() && !h.guard.Verify(r, snap) {
		return stateResponse{Status: session.StatusUnauthenticated.String(), Loading: snap.Loading}
	}
	return toStateResponse(snap)
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Email: u.Email}
}

func toAuthResultResponse(result *model.AuthResult) authResultResponse {
	if result == nil {
		return authResultResponse{}
	}
	return authResultResponse{
		User:                 toUserResponse(result.User),
		ConfirmationRequired: result.Session == nil,
	}
}

func toStateResponse(snap session.Snapshot) stateResponse {
	resp := stateResponse{
		Status:  snap.Status.String(),
		Loading: snap.Loading,
		User:    toUserResponse(snap.User),
	}
	if snap.Session != nil && !snap.Session.ExpiresAt.IsZero() {
		expiresAt := snap.Session.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	if authErr, ok := snap.Err.(*session.AuthError); ok {
		resp.Error = &stateError{
			Kind:      authErr.Kind.String(),
			Operation: string(authErr.Op),
		}
	}
	return resp
}
