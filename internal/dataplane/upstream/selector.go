package upstream

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// ErrNoHealthyTarget is returned when a pool has no up+enabled target to
// dispatch to.
var ErrNoHealthyTarget = errors.New("upstream: no healthy target in pool")

// poolState is the Selector's per-pool mutable selection state: a
// round-robin cursor (also used to break least_conn ties) and, for
// least_conn, an in-flight counter per target.
type poolState struct {
	cursor    atomic.Uint64
	inflight  sync.Map // uuid.UUID (target id) -> *atomic.Int64
}

func (p *poolState) counter(targetID uuid.UUID) *atomic.Int64 {
	v, _ := p.inflight.LoadOrStore(targetID, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// Selector picks a dispatch target within a pool according to its
// LBPolicy, per spec.md §4.4.4. State is keyed by pool id and survives
// across reconciles so a round-robin cursor or in-flight counts aren't
// reset just because a new snapshot was published.
type Selector struct {
	health *HealthChecker

	mu    sync.Mutex
	pools map[uuid.UUID]*poolState
}

// NewSelector creates a Selector. health may be nil, in which case every
// enabled target is treated as up (useful in tests that don't exercise the
// health checker).
func NewSelector(health *HealthChecker) *Selector {
	return &Selector{health: health, pools: make(map[uuid.UUID]*poolState)}
}

func (s *Selector) state(poolID uuid.UUID) *poolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pools[poolID]
	if !ok {
		ps = &poolState{}
		s.pools[poolID] = ps
	}
	return ps
}

func (s *Selector) isUp(targetID uuid.UUID) bool {
	if s.health == nil {
		return true
	}
	return s.health.IsUp(targetID)
}

func (s *Selector) eligible(targets []snapshot.UpstreamTarget) []snapshot.UpstreamTarget {
	out := make([]snapshot.UpstreamTarget, 0, len(targets))
	for _, t := range targets {
		if t.Enabled && s.isUp(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

// Pick selects one target from pool's targets according to policy.
func (s *Selector) Pick(pool snapshot.UpstreamPool, targets []snapshot.UpstreamTarget) (snapshot.UpstreamTarget, error) {
	live := s.eligible(targets)
	if len(live) == 0 {
		return snapshot.UpstreamTarget{}, ErrNoHealthyTarget
	}

	ps := s.state(pool.ID)

	switch pool.Policy {
	case snapshot.LBWeighted:
		return s.pickWeighted(live), nil
	case snapshot.LBLeastConn:
		return s.pickLeastConn(ps, live), nil
	case snapshot.LBRoundRobin:
		fallthrough
	default:
		return s.pickRoundRobin(ps, live), nil
	}
}

func (s *Selector) pickRoundRobin(ps *poolState, live []snapshot.UpstreamTarget) snapshot.UpstreamTarget {
	idx := ps.cursor.Add(1) - 1
	return live[idx%uint64(len(live))]
}

// pickWeighted does a cumulative-weight draw over live using math/rand/v2.
// A target with Weight <= 0 is treated as weight 1 so a misconfigured zero
// weight doesn't silently starve it.
func (s *Selector) pickWeighted(live []snapshot.UpstreamTarget) snapshot.UpstreamTarget {
	total := 0
	weights := make([]int, len(live))
	for i, t := range live {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	draw := rand.IntN(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if draw < cum {
			return live[i]
		}
	}
	return live[len(live)-1]
}

// pickLeastConn scans live for the lowest in-flight counter, breaking ties
// with the round-robin cursor so equally-idle targets still rotate.
func (s *Selector) pickLeastConn(ps *poolState, live []snapshot.UpstreamTarget) snapshot.UpstreamTarget {
	best := live[0]
	bestCount := ps.counter(best.ID).Load()

	for _, t := range live[1:] {
		c := ps.counter(t.ID).Load()
		if c < bestCount {
			best, bestCount = t, c
		}
	}

	// Among ties, rotate via the round-robin cursor rather than always
	// returning the first in snapshot order.
	var tied []snapshot.UpstreamTarget
	for _, t := range live {
		if ps.counter(t.ID).Load() == bestCount {
			tied = append(tied, t)
		}
	}
	if len(tied) > 1 {
		idx := ps.cursor.Add(1) - 1
		return tied[idx%uint64(len(tied))]
	}
	return best
}

// Begin increments poolID/targetID's in-flight counter; callers dispatching
// through least_conn pools should call Begin before proxying and End (via
// the returned func) once the response completes.
func (s *Selector) Begin(poolID, targetID uuid.UUID) func() {
	ps := s.state(poolID)
	c := ps.counter(targetID)
	c.Add(1)
	return func() { c.Add(-1) }
}
