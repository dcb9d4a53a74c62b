// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/growthdash/internal/middleware"
	"github.com/hitoshi/growthdash/internal/model"
	"github.com/hitoshi/growthdash/internal/session"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MiB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。
// 不正なJSONの場合はINVALID_REQUESTのAPIErrorを返す。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError("リクエストボディが不正です")
	}
	return nil
}

// handleServiceError はサービス層・セッション管理から返されたエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		switch {
		case errors.Is(err, session.ErrMissingCredentials):
			middleware.WriteAPIError(w, model.NewInvalidRequestError("メールアドレスとパスワードは必須です"))
		case errors.Is(err, session.ErrMissingEmail):
			middleware.WriteAPIError(w, model.NewInvalidRequestError("メールアドレスは必須です"))
		default:
			middleware.WriteAPIError(w, model.NewAuthOperationFailedError(string(authErr.Op)))
		}
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
