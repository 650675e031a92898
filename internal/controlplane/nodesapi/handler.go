// Package nodesapi implements the control-plane node registry route group:
// register/heartbeat/list, per spec.md §4.4.6/§6.
package nodesapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	controlplaneapi "github.com/relaymesh/gatewayd/internal/controlplane/api"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/platform/store"

	"github.com/go-chi/chi/v5"
)

// registerRequest is the body of POST /api/v1/nodes/register.
type registerRequest struct {
	NodeID string `json:"node_id"`
}

// heartbeatRequest is the body of POST /api/v1/nodes/heartbeat. The field
// is applied_sequence rather than spec.md's applied_version_id: sequence
// numbers are strictly monotonic (spec.md §5 ordering guarantee (c)), so a
// heartbeat can be compared against the latest published sequence without
// a round trip to resolve a version id.
type heartbeatRequest struct {
	NodeID          string `json:"node_id"`
	AppliedSequence int64  `json:"applied_sequence"`
	Healthy         bool   `json:"healthy"`
	Message         string `json:"message,omitempty"`
}

type nodeResponse struct {
	NodeID          string    `json:"node_id"`
	AppliedSequence int64     `json:"applied_sequence"`
	Healthy         bool      `json:"healthy"`
	Message         string    `json:"message,omitempty"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

func toNodeResponse(n *store.NodeStatus) nodeResponse {
	return nodeResponse{
		NodeID:          n.NodeID,
		AppliedSequence: n.AppliedSequence,
		Healthy:         n.Healthy,
		Message:         n.Message,
		LastHeartbeatAt: n.LastHeartbeatAt,
	}
}

// Handler implements the /api/v1/nodes/* handlers.
type Handler struct {
	nodes  store.NodeStore
	logger *slog.Logger
}

// NewHandler creates a nodes route-group handler.
func NewHandler(nodes store.NodeStore, logger *slog.Logger) *Handler {
	return &Handler{nodes: nodes, logger: logutil.NoopIfNil(logger)}
}

// Mount registers the node routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/register", h.HandleRegister)
	r.Post("/heartbeat", h.HandleHeartbeat)
	r.Get("/", h.HandleList)
}

// HandleRegister handles POST /api/v1/nodes/register.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		controlplaneapi.WriteBadRequest(w, "failed to parse request body")
		return
	}
	if req.NodeID == "" {
		controlplaneapi.WriteBadRequest(w, "node_id is required")
		return
	}

	n := &store.NodeStatus{
		NodeID:          req.NodeID,
		Healthy:         true,
		LastHeartbeatAt: time.Now(),
	}
	if err := h.nodes.UpsertNodeStatus(r.Context(), n); err != nil {
		h.logger.Error("register node failed", "error", err, "node_id", req.NodeID)
		controlplaneapi.WriteInternalError(w, "failed to register node")
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusCreated, toNodeResponse(n))
}

// HandleHeartbeat handles POST /api/v1/nodes/heartbeat.
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		controlplaneapi.WriteBadRequest(w, "failed to parse request body")
		return
	}
	if req.NodeID == "" {
		controlplaneapi.WriteBadRequest(w, "node_id is required")
		return
	}

	n := &store.NodeStatus{
		NodeID:          req.NodeID,
		AppliedSequence: req.AppliedSequence,
		Healthy:         req.Healthy,
		Message:         req.Message,
		LastHeartbeatAt: time.Now(),
	}
	if err := h.nodes.UpsertNodeStatus(r.Context(), n); err != nil {
		h.logger.Error("heartbeat failed", "error", err, "node_id", req.NodeID)
		controlplaneapi.WriteInternalError(w, "failed to record heartbeat")
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, toNodeResponse(n))
}

// HandleList handles GET /api/v1/nodes.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.ListNodeStatuses(r.Context())
	if err != nil {
		h.logger.Error("list nodes failed", "error", err)
		controlplaneapi.WriteInternalError(w, "failed to list nodes")
		return
	}
	out := make([]nodeResponse, len(nodes))
	for i, n := range nodes {
		out[i] = toNodeResponse(n)
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, out)
}
