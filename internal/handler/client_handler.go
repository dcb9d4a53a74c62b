package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/model"
)

// ClientHandler は顧客とエージェントのHTTPハンドラー。
type ClientHandler struct {
	logger *slog.Logger
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(logger *slog.Logger) *ClientHandler {
	return &ClientHandler{logger: logger}
}

type createClientRequest struct {
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type createAgentRequest struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

// clientResponse は顧客のJSONレスポンス。
type clientResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// agentResponse はエージェントのJSONレスポンス。
type agentResponse struct {
	ID                   string    `json:"id"`
	ClientID             string    `json:"client_id"`
	Name                 string    `json:"name"`
	Channel              string    `json:"channel"`
	Status               string    `json:"status"`
	ConversationsHandled int       `json:"conversations_handled"`
	CreatedAt            time.Time `json:"created_at"`
}

// ListClients は顧客一覧を返す。
// GET /api/clients
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := apiset.MustAccess(r.Context()).Clients().List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]clientResponse, len(clients))
	for i, c := range clients {
		resp[i] = toClientResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateClient は顧客を登録する。
// POST /api/clients
func (h *ClientHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	client, err := apiset.MustAccess(r.Context()).Clients().Create(r.Context(), req.Name, req.Industry)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientResponse(client))
}

// GetClient は顧客を返す。
// GET /api/clients/{clientID}
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := apiset.MustAccess(r.Context()).Clients().Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(client))
}

// UpdateClientStatus は顧客の契約状態を更新する。
// PUT /api/clients/{clientID}/status
func (h *ClientHandler) UpdateClientStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	client, err := apiset.MustAccess(r.Context()).Clients().UpdateStatus(
		r.Context(), chi.URLParam(r, "clientID"), model.ClientStatus(req.Status),
	)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(client))
}

// ListAgents は顧客のエージェント一覧を返す。
// GET /api/clients/{clientID}/agents
func (h *ClientHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := apiset.MustAccess(r.Context()).Agents().List(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]agentResponse, len(agents))
	for i, a := range agents {
		resp[i] = toAgentResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAgent は顧客にエージェントを登録する。
// POST /api/clients/{clientID}/agents
func (h *ClientHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	agent, err := apiset.MustAccess(r.Context()).Agents().Create(
		r.Context(), chi.URLParam(r, "clientID"), req.Name, model.AgentChannel(req.Channel),
	)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// GetAgent はエージェントを返す。
// GET /api/agents/{agentID}
func (h *ClientHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := apiset.MustAccess(r.Context()).Agents().Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// UpdateAgentStatus はエージェントの稼働状態を更新する。
// PUT /api/agents/{agentID}/status
func (h *ClientHandler) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	agent, err := apiset.MustAccess(r.Context()).Agents().SetStatus(
		r.Context(), chi.URLParam(r, "agentID"), model.AgentStatus(req.Status),
	)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func toClientResponse(c *model.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Industry:  c.Industry,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toAgentResponse(a *model.Agent) agentResponse {
	return agentResponse{
		ID:                   a.ID,
		ClientID:             a.ClientID,
		Name:                 a.Name,
		Channel:              string(a.Channel),
		Status:               string(a.Status),
		ConversationsHandled: a.ConversationsHandled,
		CreatedAt:            a.CreatedAt,
	}
}
