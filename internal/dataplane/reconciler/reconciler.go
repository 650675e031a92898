// Package reconciler implements the data plane's convergence loop, per
// spec.md §4.4: poll the snapshot feed, and when a new version appears,
// swing the listener manager, TLS resolver, router, and health checker
// onto it without disturbing existing connections.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/dataplane/feed"
	"github.com/relaymesh/gatewayd/internal/dataplane/listener"
	"github.com/relaymesh/gatewayd/internal/dataplane/router"
	"github.com/relaymesh/gatewayd/internal/dataplane/tlsresolver"
	"github.com/relaymesh/gatewayd/internal/dataplane/upstream"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// Reconciler owns the data plane's convergence loop and every subsystem it
// drives onto each new snapshot.
type Reconciler struct {
	feed       *feed.Client
	listeners  *listener.Manager
	tls        *tlsresolver.Resolver
	router     *router.Router
	health     *upstream.HealthChecker
	selector   *upstream.Selector
	dispatcher *upstream.Dispatcher
	logger     *slog.Logger

	pollInterval time.Duration

	active          atomic.Pointer[snapshot.Snapshot]
	appliedVersion  atomic.Pointer[string]
	appliedSequence atomic.Int64
	degraded        atomic.Pointer[[]degradedListener]
}

// degradedListener records one listener port that failed to bind or
// activate on the most recent reconcile. It stays parked (serving 503)
// rather than aborting the rest of that snapshot's listener activation.
type degradedListener struct {
	port   int
	reason string
}

// Config bundles the collaborators a Reconciler drives. Each field is
// normally built once at data-plane startup and shared for the process
// lifetime.
type Config struct {
	Feed         *feed.Client
	Listeners    *listener.Manager
	TLS          *tlsresolver.Resolver
	Router       *router.Router
	Health       *upstream.HealthChecker
	Selector     *upstream.Selector
	Dispatcher   *upstream.Dispatcher
	PollInterval time.Duration
	Logger       *slog.Logger
}

// New creates a Reconciler from cfg.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		feed:         cfg.Feed,
		listeners:    cfg.Listeners,
		tls:          cfg.TLS,
		router:       cfg.Router,
		health:       cfg.Health,
		selector:     cfg.Selector,
		dispatcher:   cfg.Dispatcher,
		pollInterval: cfg.PollInterval,
		logger:       logutil.NoopIfNil(cfg.Logger),
	}
	r.active.Store(&snapshot.Snapshot{})
	empty := ""
	r.appliedVersion.Store(&empty)
	noDegraded := []degradedListener{}
	r.degraded.Store(&noDegraded)
	return r
}

// Run polls the feed every PollInterval until ctx is canceled. A fetch
// failure or "no published version" retains the current active state and
// is retried on the next tick, per spec.md §4.4 step 1.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	result, err := r.feed.Fetch(ctx)
	if err != nil {
		r.logger.Warn("snapshot feed fetch failed", "error", err)
		return
	}

	if *r.appliedVersion.Load() == result.VersionID {
		return
	}

	r.apply(result.Snapshot)

	r.appliedVersion.Store(&result.VersionID)
	r.appliedSequence.Store(result.Sequence)
	r.active.Store(result.Snapshot)
	r.logger.Info("reconciled to new snapshot", "version_id", result.VersionID, "sequence", result.Sequence)
}

// apply swings every subsystem onto candidate. applyListeners runs first and
// never aborts the snapshot: a bind/activate failure on one port marks that
// listener degraded (parked) and the rest of the snapshot's listeners still
// activate, per spec.md §7. Because nothing here can fail the whole
// reconcile, tick always commits r.active/appliedVersion/appliedSequence
// immediately after apply returns — so no in-flight request can ever observe
// router/tls/health already swapped onto candidate while r.active (and
// therefore pool/target resolution) still points at the previous snapshot
// (spec.md §8 Snapshot isolation).
func (r *Reconciler) apply(candidate *snapshot.Snapshot) {
	r.applyListeners(candidate)
	r.router.Reconcile(candidate)
	r.tls.Reconcile(candidate)
	r.health.Reconcile(candidate, func() *snapshot.Snapshot { return r.active.Load() })
}

// applyListeners pre-binds any new listener port on demand, activates every
// enabled listener's dispatch handler, and parks ports dropped from the
// snapshot. Ports within a pre-bound range were already bound at startup;
// this only binds ports outside any configured range, per spec.md §4.4.1. A
// bind or activate failure marks that single port degraded rather than
// aborting activation of the rest of the snapshot's listeners.
func (r *Reconciler) applyListeners(s *snapshot.Snapshot) {
	desired := make(map[int]snapshot.Listener, len(s.Listeners))
	for _, l := range s.Listeners {
		if !l.Enabled {
			continue
		}
		desired[l.Port] = l
	}

	var degraded []degradedListener

	for port, l := range desired {
		var bindErr error
		if l.Protocol == snapshot.ProtocolHTTPS {
			bindErr = r.listeners.PreBindHTTPS([]int{port})
		} else {
			bindErr = r.listeners.PreBindHTTP([]int{port})
		}
		if bindErr != nil {
			r.logger.Error("listener degraded: bind failed", "port", port, "error", bindErr)
			degraded = append(degraded, degradedListener{port: port, reason: bindErr.Error()})
			continue
		}

		handler := &listenerHandler{listenerID: l.ID, rec: r}
		if err := r.listeners.Activate(port, l.Protocol, handler); err != nil {
			r.logger.Error("listener degraded: activate failed", "port", port, "error", err)
			degraded = append(degraded, degradedListener{port: port, reason: err.Error()})
			continue
		}
	}

	sort.Slice(degraded, func(i, j int) bool { return degraded[i].port < degraded[j].port })
	r.degraded.Store(&degraded)

	for _, port := range r.listeners.ActivePorts() {
		if _, ok := desired[port]; !ok {
			if err := r.listeners.Deactivate(port); err != nil {
				r.logger.Warn("failed to park dropped listener", "port", port, "error", err)
			}
		}
	}
}

// HeartbeatState returns the fields reported on the next heartbeat tick,
// read fresh so it always reflects the most recently reconciled snapshot.
// healthy is false and message lists every currently degraded listener port
// when applyListeners left any port parked due to a bind/activate failure.
func (r *Reconciler) HeartbeatState() (appliedSequence int64, healthy bool, message string) {
	degraded := *r.degraded.Load()
	if len(degraded) == 0 {
		return r.appliedSequence.Load(), true, ""
	}

	parts := make([]string, 0, len(degraded))
	for _, d := range degraded {
		parts = append(parts, fmt.Sprintf("port %d degraded: %s", d.port, d.reason))
	}
	return r.appliedSequence.Load(), false, strings.Join(parts, "; ")
}

// listenerHandler dispatches one pre-bound listener's requests through the
// router and, on a match, the upstream dispatcher.
type listenerHandler struct {
	listenerID uuid.UUID
	rec        *Reconciler
}

func (h *listenerHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s := h.rec.active.Load()

	route, ok := h.rec.router.Match(h.listenerID, req)
	if !ok {
		http.NotFound(w, req)
		return
	}

	pool, ok := s.PoolByID(route.UpstreamPoolID)
	if !ok {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	targets := s.TargetsForPool(pool.ID)
	h.rec.dispatcher.Proxy(pool, targets).ServeHTTP(w, req)
}
