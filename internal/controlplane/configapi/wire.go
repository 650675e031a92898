package configapi

import (
	"time"

	"github.com/relaymesh/gatewayd/internal/platform/store"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// validateRequest is the body of POST /api/v1/config/validate.
type validateRequest struct {
	Snapshot snapshot.Snapshot `json:"snapshot"`
}

// validateResponse mirrors spec.md §4.1's {valid, errors} shape.
type validateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// publishRequest is the body of POST /api/v1/config/publish.
type publishRequest struct {
	Actor    string            `json:"actor"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
}

// rollbackRequest is the body of POST /api/v1/config/rollback.
type rollbackRequest struct {
	VersionID string `json:"version_id"`
	Actor     string `json:"actor"`
}

// versionResponse is the wire shape of a store.ConfigVersion.
type versionResponse struct {
	ID          string    `json:"id"`
	Sequence    int64     `json:"sequence"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

func toVersionResponse(v *store.ConfigVersion) versionResponse {
	return versionResponse{
		ID:          v.ID,
		Sequence:    v.Sequence,
		Status:      string(v.Status),
		Description: v.Description,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		PublishedAt: v.PublishedAt,
	}
}

// publishedResponse is the snapshot feed response (spec.md §4.3/§6).
// Sequence is included alongside VersionID so a data-plane node can report
// applied_sequence on its next heartbeat without a separate lookup.
type publishedResponse struct {
	VersionID string            `json:"version_id"`
	Sequence  int64             `json:"sequence"`
	Snapshot  snapshot.Snapshot `json:"snapshot"`
}

func validationKinds(errs []snapshot.ValidationError) []string {
	kinds := make([]string, len(errs))
	for i, e := range errs {
		kinds[i] = e.Kind
	}
	return kinds
}
