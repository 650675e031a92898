package nodesapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/gatewayd/internal/frameworks/service"
	"github.com/relaymesh/gatewayd/internal/platform/deps"
)

func init() {
	service.MustRegister("nodes", New)
}

// Service mounts the nodes route group at /api/v1/nodes.
type Service struct {
	router chi.Router
}

func (s *Service) Handler() http.Handler  { return s.router }
func (s *Service) Prefix() string         { return "api/v1/nodes" }
func (s *Service) Close() error           { return nil }
func (s *Service) Unprotected() []string  { return []string{"register", "heartbeat"} }

// New constructs the nodes service from shared deps.
func New(conf map[string]any, log *slog.Logger) (service.Service, error) {
	d := deps.GetDeps()
	if d == nil || d.Store == nil {
		return nil, errors.New("nodesapi: shared deps not initialized")
	}

	r := chi.NewRouter()
	NewHandler(d.Store, log).Mount(r)
	return &Service{router: r}, nil
}
