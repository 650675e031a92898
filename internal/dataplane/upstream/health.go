// Package upstream implements pool-level target selection and health
// tracking for the data plane, per spec.md §4.4.4/§4.4.5: load-balancing
// policies (round_robin, weighted, least_conn) over up+enabled targets, and
// a per-pool background health checker feeding the "up" half of that
// filter.
package upstream

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// DefaultHealthCheckInterval is used when a pool sets no IntervalSecs. The
// HEALTH_CHECK_INTERVAL_SECS setting is not passed to the checker.
const DefaultHealthCheckInterval = 10 * time.Second

// DefaultHealthCheckTimeout bounds a single dial attempt.
const DefaultHealthCheckTimeout = 2 * time.Second

// HealthChecker runs one cooperative goroutine per upstream pool, dialing
// each target on an interval and recording up/down state. State lives
// outside the snapshot: up/down is operational, not configuration, so it is
// never part of the published Snapshot itself.
type HealthChecker struct {
	mu      sync.Mutex
	pools   map[uuid.UUID]context.CancelFunc
	up      sync.Map // uuid.UUID (target id) -> bool
	logger  *slog.Logger
	dialer  func(ctx context.Context, network, addr string, timeout time.Duration) error
}

// NewHealthChecker creates a HealthChecker with no pools running yet.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		pools:  make(map[uuid.UUID]context.CancelFunc),
		logger: logutil.NoopIfNil(logger),
		dialer: dialTCP,
	}
}

func dialTCP(ctx context.Context, network, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Reconcile starts a checker goroutine for every pool in s that doesn't
// already have one, and stops any running goroutine for a pool no longer
// present. Existing pools keep their running goroutine and accumulated
// up/down state across reconciles; only the target list they read is live
// (run calls currentSnapshot once per tick and probes that snapshot's
// targets), so an in-flight probe round is never torn mid-scan.
func (h *HealthChecker) Reconcile(s *snapshot.Snapshot, currentSnapshot func() *snapshot.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[uuid.UUID]bool, len(s.UpstreamPools))
	for _, pool := range s.UpstreamPools {
		seen[pool.ID] = true
		if _, running := h.pools[pool.ID]; running {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.pools[pool.ID] = cancel
		go h.run(ctx, pool.ID, currentSnapshot)
	}

	for poolID, cancel := range h.pools {
		if !seen[poolID] {
			cancel()
			delete(h.pools, poolID)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, poolID uuid.UUID, currentSnapshot func() *snapshot.Snapshot) {
	interval := DefaultHealthCheckInterval
	timeout := DefaultHealthCheckTimeout

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := currentSnapshot()
			if s == nil {
				continue
			}
			pool, ok := s.PoolByID(poolID)
			if !ok {
				continue
			}
			if pool.HealthCheck != nil {
				if pool.HealthCheck.IntervalSecs != nil {
					if want := time.Duration(*pool.HealthCheck.IntervalSecs) * time.Second; want != interval {
						interval = want
						ticker.Reset(interval)
					}
				}
				if pool.HealthCheck.TimeoutMS != nil {
					timeout = time.Duration(*pool.HealthCheck.TimeoutMS) * time.Millisecond
				}
			}
			h.probeAll(ctx, s.TargetsForPool(poolID), timeout)
		}
	}
}

func (h *HealthChecker) probeAll(ctx context.Context, targets []snapshot.UpstreamTarget, timeout time.Duration) {
	for _, target := range targets {
		if !target.Enabled {
			h.up.Store(target.ID, false)
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := h.dialer(probeCtx, "tcp", target.Address, timeout)
		cancel()

		wasUp, _ := h.up.Load(target.ID)
		nowUp := err == nil
		h.up.Store(target.ID, nowUp)

		if wasUp != nil && wasUp.(bool) != nowUp {
			if nowUp {
				h.logger.Info("upstream target recovered", "target_id", target.ID, "address", target.Address)
			} else {
				h.logger.Warn("upstream target unhealthy", "target_id", target.ID, "address", target.Address, "error", err)
			}
		}
	}
}

// IsUp reports whether targetID's most recent probe succeeded. A target
// never probed (no pool running yet, or probed is still in flight for the
// first time) reports up=true: spec.md §4.4.5 doesn't mandate a target
// start excluded before its first tick, and the selector already filters on
// Enabled separately.
func (h *HealthChecker) IsUp(targetID uuid.UUID) bool {
	v, ok := h.up.Load(targetID)
	if !ok {
		return true
	}
	return v.(bool)
}

// Close stops every running pool checker goroutine.
func (h *HealthChecker) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for poolID, cancel := range h.pools {
		cancel()
		delete(h.pools, poolID)
	}
}
