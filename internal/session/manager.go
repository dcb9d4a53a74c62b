// Package session はログイン中のプリンシパルとセッションを一元管理する。
//
// Managerは認証プロバイダーの認証状態変更通知を購読し、通知ごとにセッションと
// ユーザーを丸ごと置き換える。セッションとユーザーを書き換えるのはManagerのみで、
// 利用側はSnapshotで取得したコピーを読み取るだけとする。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/growthdash/internal/identity"
	"github.com/hitoshi/growthdash/internal/model"
)

// Recorder はセッション管理のメトリクス記録インターフェース。
type Recorder interface {
	RecordAuthOperation(op string, success bool)
	RecordAuthNotification(eventType string)
	SetSessionStatus(status string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthOperation(string, bool) {}
func (noopRecorder) RecordAuthNotification(string)    {}
func (noopRecorder) SetSessionStatus(string)          {}

// Manager はログイン状態の唯一の情報源。
type Manager struct {
	provider identity.Provider
	logger   *slog.Logger
	recorder Recorder

	mu         sync.RWMutex
	started    bool
	closed     bool
	session    *model.Session
	inFlight   int
	lastErr    error
	errPending bool
	// applied は適用済みの通知数。復元結果が新しい通知を上書きしないよう比較に使う。
	applied uint64

	sub  identity.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager はManagerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewManager(provider identity.Provider, logger *slog.Logger, recorder Recorder) *Manager {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{
		provider: provider,
		logger:   logger,
		recorder: recorder,
		stop:     make(chan struct{}),
	}
}

// Start は認証状態変更通知の購読を開始し、永続化済みセッションを1回だけ復元する。
// 復元の完了までブロックし、その間の状態はLoadingとなる。
// 復元の失敗はSessionRestorationFailedとして記録するのみで返さない（Unauthenticatedで継続する）。
// 二重に呼び出した場合、またはClose後に呼び出した場合はエラーを返す。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("session manager is closed")
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.started = true
	m.inFlight++
	seen := m.applied

	// 復元中に届いた通知を取りこぼさないよう、復元より先に購読する
	sub := m.provider.OnAuthStateChange()
	m.sub = sub
	m.wg.Add(1)
	m.mu.Unlock()

	m.recorder.SetSessionStatus(StatusLoading.String())
	go m.listen(sub)

	restored, err := m.provider.GetCurrentSession(ctx)

	m.mu.Lock()
	m.inFlight--
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.lastErr = &AuthError{Kind: KindSessionRestorationFailed, Op: OpRestoreSession, Err: err}
	} else if m.applied == seen {
		m.session = restored
	}
	status := m.statusLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("session restoration failed", slog.String("error", err.Error()))
	} else {
		m.logger.Info("session restored", slog.String("status", status.String()))
	}
	m.recorder.SetSessionStatus(status.String())

	return nil
}

// Close は通知の購読を解除し、通知処理のゴルーチンの終了を待つ。
// Closeが返った後は、遅れて届いた通知によって状態が変わることはない。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sub := m.sub
	m.mu.Unlock()

	close(m.stop)
	if sub != nil {
		sub.Unsubscribe()
	}
	m.wg.Wait()
}

// listen は購読チャネルから通知を受け取り、状態に反映する。
func (m *Manager) listen(sub identity.Subscription) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.apply(ev)
		}
	}
}

// apply は通知1件でセッションとユーザーを丸ごと置き換える。
func (m *Manager) apply(ev model.AuthEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.session = ev.Session
	m.applied++
	status := m.statusLocked()
	m.mu.Unlock()

	attrs := []any{
		slog.String("event", string(ev.Type)),
		slog.String("status", status.String()),
	}
	if ev.Session != nil && ev.Session.User != nil {
		attrs = append(attrs, slog.String("user_id", ev.Session.User.ID))
	}
	m.logger.Info("auth state changed", attrs...)

	m.recorder.RecordAuthNotification(string(ev.Type))
	m.recorder.SetSessionStatus(status.String())
}

// SignIn はメールアドレスとパスワードでサインインする。
// セッションとユーザーは後続の認証状態変更通知で反映される。
func (m *Manager) SignIn(ctx context.Context, email, password string) (*model.AuthResult, error) {
	return runOperation(ctx, m, OpSignIn, func(ctx context.Context) (*model.AuthResult, error) {
		if email == "" || password == "" {
			return nil, ErrMissingCredentials
		}
		return m.provider.SignInWithPassword(ctx, email, password)
	})
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
func (m *Manager) SignUp(ctx context.Context, email, password string) (*model.AuthResult, error) {
	return runOperation(ctx, m, OpSignUp, func(ctx context.Context) (*model.AuthResult, error) {
		if email == "" || password == "" {
			return nil, ErrMissingCredentials
		}
		return m.provider.SignUp(ctx, email, password)
	})
}

// SignOut は現在のセッションを無効化する。
// Unauthenticatedへの遷移は後続のSIGNED_OUT通知で反映される。
func (m *Manager) SignOut(ctx context.Context) error {
	_, err := runOperation(ctx, m, OpSignOut, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.provider.SignOut(ctx)
	})
	return err
}

// ResetPassword はパスワードリセットを依頼する。ローカルのセッション状態は変更しない。
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	_, err := runOperation(ctx, m, OpResetPassword, func(ctx context.Context) (struct{}, error) {
		if email == "" {
			return struct{}{}, ErrMissingEmail
		}
		return struct{}{}, m.provider.SendPasswordReset(ctx, email)
	})
	return err
}

// runOperation は操作の実行中をLoadingとし、失敗時はAuthOperationFailedを記録した上で返す。
func runOperation[T any](ctx context.Context, m *Manager, op Operation, fn func(context.Context) (T, error)) (T, error) {
	m.begin()

	result, err := fn(ctx)
	if authErr := m.finish(op, err); authErr != nil {
		var zero T
		return zero, authErr
	}
	return result, nil
}

// begin は操作の開始を記録する。直前のエラーはクリアする。
func (m *Manager) begin() {
	m.mu.Lock()
	m.inFlight++
	m.lastErr = nil
	m.errPending = false
	m.mu.Unlock()

	m.recorder.SetSessionStatus(StatusLoading.String())
}

// finish は操作の完了を記録し、失敗時は記録したAuthErrorを返す。
func (m *Manager) finish(op Operation, err error) *AuthError {
	var authErr *AuthError
	if err != nil {
		authErr = &AuthError{Kind: KindAuthOperationFailed, Op: op, Err: err}
	}

	m.mu.Lock()
	m.inFlight--
	if authErr != nil && !m.closed {
		m.lastErr = authErr
		m.errPending = true
	}
	status := m.statusLocked()
	m.mu.Unlock()

	if authErr != nil {
		m.logger.Warn("auth operation failed",
			slog.String("op", string(op)),
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("auth operation completed", slog.String("op", string(op)))
	}
	m.recorder.RecordAuthOperation(string(op), authErr == nil)
	m.recorder.SetSessionStatus(status.String())

	return authErr
}

// Snapshot は現在の状態のコピーを返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Status:  m.statusLocked(),
		Loading: m.inFlight > 0,
		Err:     m.lastErr,
	}
	if m.session != nil {
		sess := *m.session
		if sess.User != nil {
			user := *sess.User
			sess.User = &user
			snap.User = &user
		}
		snap.Session = &sess
	}
	return snap
}

// AcknowledgeError はError状態を確認済みとし、直前のAuthenticated/Unauthenticatedに戻す。
func (m *Manager) AcknowledgeError() {
	m.mu.Lock()
	m.lastErr = nil
	m.errPending = false
	status := m.statusLocked()
	m.mu.Unlock()

	m.recorder.SetSessionStatus(status.String())
}

// statusLocked は現在の状態を算出する。呼び出し側でロックを保持すること。
func (m *Manager) statusLocked() Status {
	switch {
	case !m.started:
		return StatusUninitialized
	case m.inFlight > 0:
		return StatusLoading
	case m.errPending:
		return StatusError
	case m.session != nil:
		return StatusAuthenticated
	default:
		return StatusUnauthenticated
	}
}
