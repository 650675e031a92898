package configapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/gatewayd/internal/frameworks/service"
	"github.com/relaymesh/gatewayd/internal/platform/deps"
)

func init() {
	service.MustRegister("config", New)
}

// Service mounts the config route group at /api/v1/config.
type Service struct {
	router chi.Router
}

func (s *Service) Handler() http.Handler { return s.router }
func (s *Service) Prefix() string        { return "api/v1/config" }
func (s *Service) Close() error          { return nil }

// Unprotected lists the paths open to unauthenticated callers: the snapshot
// feed is polled by data-plane nodes (spec.md §4.3). No auth middleware is
// mounted on the control-plane router, so the other paths are open as well.
func (s *Service) Unprotected() []string { return []string{"published"} }

// New constructs the config service from shared deps.
func New(conf map[string]any, log *slog.Logger) (service.Service, error) {
	d := deps.GetDeps()
	if d == nil || d.Publisher == nil {
		return nil, errors.New("configapi: shared deps not initialized")
	}

	r := chi.NewRouter()
	NewHandler(d.Publisher, log).Mount(r)
	return &Service{router: r}, nil
}
