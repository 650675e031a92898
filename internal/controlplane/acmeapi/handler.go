// Package acmeapi implements the control-plane ACME challenge lookup
// route group, per spec.md §4.5/§6: "the core only requires an endpoint
// /acme/challenge/{token} -> {key_auth} answering HTTP-01 challenges".
package acmeapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	controlplaneapi "github.com/relaymesh/gatewayd/internal/controlplane/api"
	"github.com/relaymesh/gatewayd/internal/platform/acmechallenge"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
)

type challengeResponse struct {
	KeyAuth string `json:"key_auth"`
}

// Handler implements the /api/v1/acme/challenge/* handler.
type Handler struct {
	challenges *acmechallenge.Store
	logger     *slog.Logger
}

// NewHandler creates an acme route-group handler.
func NewHandler(challenges *acmechallenge.Store, logger *slog.Logger) *Handler {
	return &Handler{challenges: challenges, logger: logutil.NoopIfNil(logger)}
}

// Mount registers the acme routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/challenge/{token}", h.HandleChallenge)
}

// HandleChallenge handles GET /api/v1/acme/challenge/{token}.
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	keyAuth, ok := h.challenges.Get(token)
	if !ok {
		controlplaneapi.WriteNotFound(w, "unknown or expired challenge token")
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, challengeResponse{KeyAuth: keyAuth})
}
