package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
)

// IntegrationHandler は外部連携のHTTPハンドラー。
type IntegrationHandler struct {
	logger *slog.Logger
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{logger: logger}
}

type registerIntegrationRequest struct {
	Kind                string `json:"kind"`
	Provider            string `json:"provider"`
	DisplayName         string `json:"display_name"`
	EndpointURL         string `json:"endpoint_url"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`
}

type updateSettingsRequest struct {
	SyncIntervalMinutes int `json:"sync_interval_minutes"`
}

// integrationResponse は連携のJSONレスポンス。
type integrationResponse struct {
	ID                  string     `json:"id"`
	ClientID            string     `json:"client_id"`
	Kind                string     `json:"kind"`
	Provider            string     `json:"provider"`
	DisplayName         string     `json:"display_name"`
	EndpointURL         string     `json:"endpoint_url"`
	Status              string     `json:"status"`
	SyncIntervalMinutes int        `json:"sync_interval_minutes"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	LastSyncedAt        *time.Time `json:"last_synced_at,omitempty"`
	NextSyncAt          time.Time  `json:"next_sync_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ListIntegrations は顧客の連携一覧を返す。
// GET /api/clients/{clientID}/integrations
func (h *IntegrationHandler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := apiset.MustAccess(r.Context()).Integrations().List(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]integrationResponse, len(integrations))
	for i, integ := range integrations {
		resp[i] = toIntegrationResponse(integ)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterIntegration は顧客に連携を登録する。
// POST /api/clients/{clientID}/integrations
func (h *IntegrationHandler) RegisterIntegration(w http.ResponseWriter, r *http.Request) {
	var req registerIntegrationRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	integ, err := apiset.MustAccess(r.Context()).Integrations().Register(r.Context(), model.IntegrationRegistration{
		ClientID:            chi.URLParam(r, "clientID"),
		Kind:                model.IntegrationKind(req.Kind),
		Provider:            req.Provider,
		DisplayName:         req.DisplayName,
		EndpointURL:         req.EndpointURL,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntegrationResponse(integ))
}

// GetIntegration は連携を返す。
// GET /api/integrations/{integrationID}
func (h *IntegrationHandler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	integ, err := apiset.MustAccess(r.Context()).Integrations().Get(r.Context(), chi.URLParam(r, "integrationID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationResponse(integ))
}

// UpdateSettings は連携の同期間隔を更新する。
// PUT /api/integrations/{integrationID}/settings
func (h *IntegrationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	integ, err := apiset.MustAccess(r.Context()).Integrations().UpdateSyncInterval(
		r.Context(), chi.URLParam(r, "integrationID"), req.SyncIntervalMinutes,
	)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationResponse(integ))
}

// Reconnect はエラー・切断状態の連携を再開する。
// POST /api/integrations/{integrationID}/reconnect
func (h *IntegrationHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	integ, err := apiset.MustAccess(r.Context()).Integrations().Reconnect(r.Context(), chi.URLParam(r, "integrationID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationResponse(integ))
}

// RemoveIntegration は連携を削除する。
// DELETE /api/integrations/{integrationID}
func (h *IntegrationHandler) RemoveIntegration(w http.ResponseWriter, r *http.Request) {
	if err := apiset.MustAccess(r.Context()).Integrations().Remove(r.Context(), chi.URLParam(r, "integrationID")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toIntegrationResponse(integ *model.Integration) integrationResponse {
	resp := integrationResponse{
		ID:                  integ.ID,
		ClientID:            integ.ClientID,
		Kind:                string(integ.Kind),
		Provider:            integ.Provider,
		DisplayName:         integ.DisplayName,
		EndpointURL:         integ.EndpointURL,
		Status:              string(integ.Status),
		SyncIntervalMinutes: integ.SyncIntervalMinutes,
		LastSyncedAt:        integ.LastSyncedAt,
		NextSyncAt:          integ.NextSyncAt,
		CreatedAt:           integ.CreatedAt,
	}
	if integ.LastError != "" {
		msg := integ.LastError
		resp.ErrorMessage = &msg
	}
	return resp
}
