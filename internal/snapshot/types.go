// Package snapshot defines the immutable configuration bundle published by
// the control plane and consumed by the data-plane reconciler: listeners,
// routes, upstream pools and targets, TLS policies and certificates.
package snapshot

import (
	"time"

	"github.com/google/uuid"
)

// Protocol is a Listener's wire protocol.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Listener binds one port to one protocol and, for https, one TLS policy.
type Listener struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Port         int        `json:"port"`
	Protocol     Protocol   `json:"protocol"`
	TLSPolicyID  *uuid.UUID `json:"tls_policy_id,omitempty"`
	Enabled      bool       `json:"enabled"`
}

// RouteKind selects how a Route's match_expr is interpreted.
type RouteKind string

const (
	RouteKindPort RouteKind = "port"
	RouteKindPath RouteKind = "path"
	RouteKindWS   RouteKind = "ws"
)

// MatchExpr is the set of predicates a Route evaluates against a request.
// Every non-nil/non-empty field must match for the route to match; a nil or
// empty field imposes no constraint. Decoded from raw map[string]any config
// storage via mapstructure at snapshot-compile time (see Decode).
type MatchExpr struct {
	Host       string            `mapstructure:"host" json:"host,omitempty"`
	PathPrefix string            `mapstructure:"path_prefix" json:"path_prefix,omitempty"`
	PathRegex  string            `mapstructure:"path_regex" json:"path_regex,omitempty"`
	Method     []string          `mapstructure:"method" json:"method,omitempty"`
	Headers    map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Query      map[string]string `mapstructure:"query" json:"query,omitempty"`
	WS         *bool             `mapstructure:"ws" json:"ws,omitempty"`
}

// Route matches requests on a Listener and dispatches to an UpstreamPool.
type Route struct {
	ID             uuid.UUID `json:"id"`
	ListenerID     uuid.UUID `json:"listener_id"`
	Kind           RouteKind `json:"kind"`
	Match          MatchExpr `json:"match_expr"`
	Priority       int       `json:"priority"`
	UpstreamPoolID uuid.UUID `json:"upstream_pool_id"`
	Enabled        bool      `json:"enabled"`
}

// LBPolicy is an UpstreamPool's load-balancing algorithm.
type LBPolicy string

const (
	LBRoundRobin LBPolicy = "round_robin"
	LBLeastConn  LBPolicy = "least_conn"
	LBWeighted   LBPolicy = "weighted"
)

// HealthCheckKind is the probe method a pool's health checker uses. "tcp" is
// the only kind this spec defines.
type HealthCheckKind string

const HealthCheckTCP HealthCheckKind = "tcp"

// HealthCheck configures a pool's background health probe. IntervalSecs and
// TimeoutMS are optional; nil falls back to the process-wide default.
type HealthCheck struct {
	Kind         HealthCheckKind `json:"kind"`
	IntervalSecs *int            `json:"interval_secs,omitempty"`
	TimeoutMS    *int            `json:"timeout_ms,omitempty"`
}

// UpstreamPool groups targets behind one load-balancing policy.
type UpstreamPool struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Policy      LBPolicy     `json:"policy"`
	HealthCheck *HealthCheck `json:"health_check,omitempty"`
}

// UpstreamTarget is one dispatch destination within a pool.
type UpstreamTarget struct {
	ID      uuid.UUID `json:"id"`
	PoolID  uuid.UUID `json:"pool_id"`
	Address string    `json:"address"` // host:port, DNS resolution deferred to dispatch time
	Weight  int       `json:"weight"`
	Enabled bool      `json:"enabled"`
}

// TLSMode selects whether a TlsPolicy's certificates are ACME-issued or
// manually uploaded.
type TLSMode string

const (
	TLSModeAuto   TLSMode = "auto"
	TLSModeManual TLSMode = "manual"
)

// TLSPolicyStatus is the operational state of a TlsPolicy's certificate set.
type TLSPolicyStatus string

const (
	TLSPolicyActive  TLSPolicyStatus = "active"
	TLSPolicyError   TLSPolicyStatus = "error"
	TLSPolicyPending TLSPolicyStatus = "pending"
)

// TlsPolicy names the domain set an https Listener serves certificates for.
type TlsPolicy struct {
	ID      uuid.UUID       `json:"id"`
	Mode    TLSMode         `json:"mode"`
	Domains []string        `json:"domains"`
	Status  TLSPolicyStatus `json:"status"`
}

// CertStatus is a Certificate's lifecycle state.
type CertStatus string

const (
	CertActive  CertStatus = "active"
	CertExpired CertStatus = "expired"
	CertError   CertStatus = "error"
)

// Certificate is one PEM key pair covering a single domain. The cert store
// maps domain to its newest non-expired Certificate.
type Certificate struct {
	ID        uuid.UUID  `json:"id"`
	Domain    string     `json:"domain"`
	CertPEM   string     `json:"cert_pem"`
	KeyPEM    string     `json:"key_pem"`
	ExpiresAt time.Time  `json:"expires_at"`
	Status    CertStatus `json:"status"`
}

// Snapshot is the full immutable configuration bundle. Published as the
// payload of a store.ConfigVersion and fed verbatim to data-plane nodes by
// the snapshot feed endpoint.
type Snapshot struct {
	Listeners       []Listener       `json:"listeners"`
	Routes          []Route          `json:"routes"`
	UpstreamPools   []UpstreamPool   `json:"upstream_pools"`
	UpstreamTargets []UpstreamTarget `json:"upstream_targets"`
	TLSPolicies     []TlsPolicy      `json:"tls_policies"`
	Certificates    []Certificate    `json:"certificates"`
}

// ListenerByID returns the listener with the given id, or false if absent.
func (s *Snapshot) ListenerByID(id uuid.UUID) (Listener, bool) {
	for _, l := range s.Listeners {
		if l.ID == id {
			return l, true
		}
	}
	return Listener{}, false
}

// PoolByID returns the upstream pool with the given id, or false if absent.
func (s *Snapshot) PoolByID(id uuid.UUID) (UpstreamPool, bool) {
	for _, p := range s.UpstreamPools {
		if p.ID == id {
			return p, true
		}
	}
	return UpstreamPool{}, false
}

// TLSPolicyByID returns the TLS policy with the given id, or false if absent.
func (s *Snapshot) TLSPolicyByID(id uuid.UUID) (TlsPolicy, bool) {
	for _, p := range s.TLSPolicies {
		if p.ID == id {
			return p, true
		}
	}
	return TlsPolicy{}, false
}

// TargetsForPool returns the targets belonging to poolID, in snapshot order.
func (s *Snapshot) TargetsForPool(poolID uuid.UUID) []UpstreamTarget {
	var out []UpstreamTarget
	for _, t := range s.UpstreamTargets {
		if t.PoolID == poolID {
			out = append(out, t)
		}
	}
	return out
}

// RoutesForListener returns the routes belonging to listenerID, sorted by
// (priority DESC, id ASC) per spec.md §4.4.3. Callers needing "enabled only"
// filter before use; this returns all routes for the listener.
func (s *Snapshot) RoutesForListener(listenerID uuid.UUID) []Route {
	var out []Route
	for _, r := range s.Routes {
		if r.ListenerID == listenerID {
			out = append(out, r)
		}
	}
	sortRoutesByPriority(out)
	return out
}
