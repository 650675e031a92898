// Package configapi implements the control-plane config route group:
// validate/publish/rollback/list/get and the snapshot feed, per spec.md
// §4.2/§4.3/§6.
package configapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	controlplaneapi "github.com/relaymesh/gatewayd/internal/controlplane/api"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/publisher"
)

// Handler implements the /api/v1/config/* handlers.
type Handler struct {
	publisher *publisher.Publisher
	logger    *slog.Logger
}

// NewHandler creates a config route-group handler.
func NewHandler(p *publisher.Publisher, logger *slog.Logger) *Handler {
	return &Handler{publisher: p, logger: logutil.NoopIfNil(logger)}
}

// Mount registers the config routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/validate", h.HandleValidate)
	r.Post("/publish", h.HandlePublish)
	r.Post("/rollback", h.HandleRollback)
	r.Get("/versions", h.HandleListVersions)
	r.Get("/versions/{id}", h.HandleGetVersion)
	r.Get("/published", h.HandlePublished)
}

// HandleValidate handles POST /api/v1/config/validate.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		controlplaneapi.WriteBadRequest(w, "failed to parse request body")
		return
	}

	valid, errs := h.publisher.Validate(&req.Snapshot)
	controlplaneapi.WriteJSON(w, http.StatusOK, validateResponse{
		Valid:  valid,
		Errors: validationKinds(errs),
	})
}

// HandlePublish handles POST /api/v1/config/publish.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		controlplaneapi.WriteBadRequest(w, "failed to parse request body")
		return
	}
	if req.Actor == "" {
		controlplaneapi.WriteBadRequest(w, "actor is required")
		return
	}

	v, err := h.publisher.Publish(r.Context(), &req.Snapshot, req.Actor)
	if err != nil {
		h.writePublishError(w, err)
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusCreated, toVersionResponse(v))
}

// HandleRollback handles POST /api/v1/config/rollback.
func (h *Handler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		controlplaneapi.WriteBadRequest(w, "failed to parse request body")
		return
	}
	if req.VersionID == "" || req.Actor == "" {
		controlplaneapi.WriteBadRequest(w, "version_id and actor are required")
		return
	}

	v, err := h.publisher.Rollback(r.Context(), req.VersionID, req.Actor)
	if err != nil {
		h.writePublishError(w, err)
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusCreated, toVersionResponse(v))
}

// HandleListVersions handles GET /api/v1/config/versions.
func (h *Handler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.publisher.ListVersions(r.Context(), 0)
	if err != nil {
		h.logger.Error("list versions failed", "error", err)
		controlplaneapi.WriteInternalError(w, "failed to list versions")
		return
	}
	out := make([]versionResponse, len(versions))
	for i, v := range versions {
		out[i] = toVersionResponse(v)
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, out)
}

// HandleGetVersion handles GET /api/v1/config/versions/{id}.
func (h *Handler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.publisher.GetVersion(r.Context(), id)
	if err != nil {
		if errors.Is(err, publisher.ErrVersionNotFound) {
			controlplaneapi.WriteNotFound(w, "version not found")
			return
		}
		h.logger.Error("get version failed", "error", err)
		controlplaneapi.WriteInternalError(w, "failed to get version")
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, toVersionResponse(v))
}

// HandlePublished handles GET /api/v1/config/published, the snapshot feed
// polled by data-plane nodes (spec.md §4.3).
func (h *Handler) HandlePublished(w http.ResponseWriter, r *http.Request) {
	pub, err := h.publisher.Published(r.Context())
	if err != nil {
		if errors.Is(err, publisher.ErrNoPublishedVersion) {
			controlplaneapi.WriteNotFound(w, "no published version")
			return
		}
		h.logger.Error("get published failed", "error", err)
		controlplaneapi.WriteInternalError(w, "failed to get published version")
		return
	}
	controlplaneapi.WriteJSON(w, http.StatusOK, publishedResponse{
		VersionID: pub.VersionID,
		Sequence:  pub.Sequence,
		Snapshot:  *pub.Snapshot,
	})
}

func (h *Handler) writePublishError(w http.ResponseWriter, err error) {
	var valErr *publisher.ErrValidationFailed
	switch {
	case errors.As(err, &valErr):
		controlplaneapi.WriteValidationFailed(w, validationKinds(valErr.Errors))
	case errors.Is(err, publisher.ErrVersionNotFound):
		controlplaneapi.WriteNotFound(w, "version not found")
	case errors.Is(err, publisher.ErrConflict):
		controlplaneapi.WriteConflict(w, "a concurrent publish won the race, refetch and reissue")
	default:
		h.logger.Error("publish failed", "error", err)
		controlplaneapi.WriteInternalError(w, "failed to publish")
	}
}
