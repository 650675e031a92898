package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/relaymesh/gatewayd/internal/frameworks/service/httpwrap"
	httpmw "github.com/relaymesh/gatewayd/internal/platform/http/middleware"
	"github.com/relaymesh/gatewayd/internal/platform/http/realip"
)

// NewRouter returns a chi.Router with the standard control-plane middleware
// chain mounted: RequestID -> request-scoped logger -> access log ->
// Recoverer -> raw-path clearing. Callers mount route groups on the
// returned router.
func NewRouter(logger *slog.Logger, trustedProxies *realip.TrustedProxies) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(logger, trustedProxies))
	r.Use(httpmw.AccessLogMiddleware(logger, trustedProxies))
	r.Use(chimw.Recoverer)
	r.Use(httpwrap.ClearRawPath)
	return r
}
