// Package deps provides shared dependencies for a process's components.
// Only the control-plane executable calls SetDeps.
package deps

import (
	"log/slog"
	"sync"

	"github.com/relaymesh/gatewayd/internal/platform/acmechallenge"
	"github.com/relaymesh/gatewayd/internal/platform/cache"
	"github.com/relaymesh/gatewayd/internal/platform/config"
	httpclient "github.com/relaymesh/gatewayd/internal/platform/http/client"
	"github.com/relaymesh/gatewayd/internal/platform/store"
	"github.com/relaymesh/gatewayd/internal/publisher"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds the dependencies shared across a process's components. The
// control-plane process populates Config, Logger, Cache, Store, Publisher
// and ACMEChallenges; the data-plane process does not call SetDeps.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	// Cache is the control plane's cache instance; no control-plane
	// component reads it.
	Cache cache.CacheWithCounter

	// Store is the control-plane persistence driver. Nil on a data-plane-only
	// process.
	Store store.Driver

	// Publisher wraps Store with the snapshot validator and the
	// publish/rollback transaction (spec.md §4.2). Nil on a
	// data-plane-only process.
	Publisher *publisher.Publisher

	// ACMEChallenges backs GET /api/v1/acme/challenge/{token}. Nil on a
	// data-plane-only process.
	ACMEChallenges *acmechallenge.Store

	// ControlPlaneClient is an SSRF-guarded outbound client slot. No process
	// in this module sets it; the data plane's feed and heartbeat clients
	// are built in cmd/data-plane.
	ControlPlaneClient *httpclient.ContextClient
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any components are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies, or nil if SetDeps has not
// been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
