package acmeapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/gatewayd/internal/frameworks/service"
	"github.com/relaymesh/gatewayd/internal/platform/deps"
)

func init() {
	service.MustRegister("acme", New)
}

// Service mounts the acme route group at /api/v1/acme.
type Service struct {
	router chi.Router
}

func (s *Service) Handler() http.Handler { return s.router }
func (s *Service) Prefix() string        { return "api/v1/acme" }
func (s *Service) Close() error          { return nil }

// Unprotected: the challenge lookup must be reachable by an unauthenticated
// ACME orchestrator performing the HTTP-01 flow.
func (s *Service) Unprotected() []string { return []string{"challenge/*"} }

// New constructs the acme service from shared deps.
func New(conf map[string]any, log *slog.Logger) (service.Service, error) {
	d := deps.GetDeps()
	if d == nil || d.ACMEChallenges == nil {
		return nil, errors.New("acmeapi: shared deps not initialized")
	}

	r := chi.NewRouter()
	NewHandler(d.ACMEChallenges, log).Mount(r)
	return &Service{router: r}, nil
}
