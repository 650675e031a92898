package snapshot

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// Canonical validator error kind strings. Part of the §6 wire contract;
// never rename without a protocol version bump.
const (
	KindDuplicateListener      = "duplicate listener"
	KindInvalidProtocol        = "invalid protocol"
	KindHTTPSRequiresTLSPolicy = "https requires tls_policy_id"
	KindInvalidRouteType       = "invalid route type"
	KindInvalidMatchExpr       = "invalid match_expr"
	KindInvalidUpstreamAddress = "invalid upstream target address"
	KindPortOutOfRange         = "port out of range"
	KindInvalidCertificate     = "invalid certificate"
)

// ValidationError reports one invariant violation. Error() renders only the
// canonical Kind string so wire-contract stability holds even though the Go
// type carries more (EntityID for admin-surface display).
type ValidationError struct {
	Kind     string
	EntityID uuid.UUID
	Message  string
}

func (e ValidationError) Error() string { return e.Kind }

// PortRange is an inclusive [Low, High] TCP port interval, decoupled from
// platform/config.PortRange so this package stays free of a config import.
type PortRange struct {
	Low  int
	High int
}

// Contains reports whether port lies within the range. A nil range contains
// no port (the "no range policy configured" case is handled by the caller
// never invoking the check, not by Contains returning true).
func (r *PortRange) Contains(port int) bool {
	if r == nil {
		return false
	}
	return port >= r.Low && port <= r.High
}

// ValidateOptions carries the port-range policy from config (§6
// HTTP_PORT_RANGE/HTTPS_PORT_RANGE); nil fields disable that check for the
// corresponding protocol.
type ValidateOptions struct {
	HTTPPortRange  *PortRange
	HTTPSPortRange *PortRange
}

// Validate is a pure function: snapshot -> {valid, errors[]}, spec.md §4.1.
// Errors are emitted in a fixed, deterministic order: by entity kind
// (listeners, routes, targets, certificates), each walked in ascending id
// order, so the same input always yields byte-for-byte identical error
// output (§8 Validator determinism).
func Validate(s *Snapshot, opts *ValidateOptions) (valid bool, errs []ValidationError) {
	if opts == nil {
		opts = &ValidateOptions{}
	}

	errs = append(errs, validateListeners(s, opts)...)
	errs = append(errs, validateRoutes(s)...)
	errs = append(errs, validateTargets(s)...)
	errs = append(errs, validateCertificates(s)...)

	return len(errs) == 0, errs
}

func sortedListeners(s *Snapshot) []Listener {
	out := append([]Listener(nil), s.Listeners...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func sortedRoutes(s *Snapshot) []Route {
	out := append([]Route(nil), s.Routes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func sortedTargets(s *Snapshot) []UpstreamTarget {
	out := append([]UpstreamTarget(nil), s.UpstreamTargets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func sortedCertificates(s *Snapshot) []Certificate {
	out := append([]Certificate(nil), s.Certificates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// validateListeners enforces L1 (unique (port, protocol) among enabled
// listeners), L2 (https requires a resolvable tls_policy_id), and the
// optional port-range policy.
func validateListeners(s *Snapshot, opts *ValidateOptions) []ValidationError {
	var errs []ValidationError

	type portProto struct {
		port     int
		protocol Protocol
	}
	seen := make(map[portProto]bool)

	for _, l := range sortedListeners(s) {
		if l.Protocol != ProtocolHTTP && l.Protocol != ProtocolHTTPS {
			errs = append(errs, ValidationError{Kind: KindInvalidProtocol, EntityID: l.ID,
				Message: fmt.Sprintf("listener %s: unknown protocol %q", l.ID, l.Protocol)})
			continue
		}

		if l.Enabled {
			key := portProto{l.Port, l.Protocol}
			if seen[key] {
				errs = append(errs, ValidationError{Kind: KindDuplicateListener, EntityID: l.ID,
					Message: fmt.Sprintf("listener %s: port %d/%s already in use", l.ID, l.Port, l.Protocol)})
			}
			seen[key] = true
		}

		if l.Protocol == ProtocolHTTPS {
			if l.TLSPolicyID == nil {
				errs = append(errs, ValidationError{Kind: KindHTTPSRequiresTLSPolicy, EntityID: l.ID,
					Message: fmt.Sprintf("listener %s: https requires tls_policy_id", l.ID)})
			} else if _, ok := s.TLSPolicyByID(*l.TLSPolicyID); !ok {
				errs = append(errs, ValidationError{Kind: KindHTTPSRequiresTLSPolicy, EntityID: l.ID,
					Message: fmt.Sprintf("listener %s: tls_policy_id %s not found in snapshot", l.ID, *l.TLSPolicyID)})
			}
		}

		var rng *PortRange
		switch l.Protocol {
		case ProtocolHTTP:
			rng = opts.HTTPPortRange
		case ProtocolHTTPS:
			rng = opts.HTTPSPortRange
		}
		if rng != nil && !rng.Contains(l.Port) {
			errs = append(errs, ValidationError{Kind: KindPortOutOfRange, EntityID: l.ID,
				Message: fmt.Sprintf("listener %s: port %d outside configured range [%d-%d]", l.ID, l.Port, rng.Low, rng.High)})
		}
	}

	return errs
}

// validateRoutes enforces R1-R3: kind-specific match_expr requirements and
// that listener_id/upstream_pool_id resolve within the same snapshot.
func validateRoutes(s *Snapshot) []ValidationError {
	var errs []ValidationError

	for _, r := range sortedRoutes(s) {
		switch r.Kind {
		case RouteKindPort, RouteKindPath, RouteKindWS:
			// recognized
		default:
			errs = append(errs, ValidationError{Kind: KindInvalidRouteType, EntityID: r.ID,
				Message: fmt.Sprintf("route %s: unknown kind %q", r.ID, r.Kind)})
			continue
		}

		if (r.Kind == RouteKindPath || r.Kind == RouteKindWS) &&
			r.Match.Host == "" && r.Match.PathPrefix == "" && r.Match.PathRegex == "" {
			errs = append(errs, ValidationError{Kind: KindInvalidMatchExpr, EntityID: r.ID,
				Message: fmt.Sprintf("route %s: kind %q requires host, path_prefix, or path_regex", r.ID, r.Kind)})
		}

		if r.Kind == RouteKindWS && (r.Match.WS == nil || !*r.Match.WS) {
			errs = append(errs, ValidationError{Kind: KindInvalidMatchExpr, EntityID: r.ID,
				Message: fmt.Sprintf("route %s: kind ws requires match_expr.ws = true", r.ID)})
		}

		if r.Match.PathRegex != "" {
			if _, err := regexp.Compile(r.Match.PathRegex); err != nil {
				errs = append(errs, ValidationError{Kind: KindInvalidMatchExpr, EntityID: r.ID,
					Message: fmt.Sprintf("route %s: path_regex does not compile: %v", r.ID, err)})
			}
		}

		if _, ok := s.ListenerByID(r.ListenerID); !ok {
			errs = append(errs, ValidationError{Kind: KindInvalidMatchExpr, EntityID: r.ID,
				Message: fmt.Sprintf("route %s: listener_id %s not found in snapshot", r.ID, r.ListenerID)})
		}
		if _, ok := s.PoolByID(r.UpstreamPoolID); !ok {
			errs = append(errs, ValidationError{Kind: KindInvalidMatchExpr, EntityID: r.ID,
				Message: fmt.Sprintf("route %s: upstream_pool_id %s not found in snapshot", r.ID, r.UpstreamPoolID)})
		}
	}

	return errs
}

// validateTargets enforces T1: address must be a syntactically parseable
// host:port pair. DNS resolution of the host is deferred to dispatch time.
func validateTargets(s *Snapshot) []ValidationError {
	var errs []ValidationError

	for _, t := range sortedTargets(s) {
		host, port, err := net.SplitHostPort(t.Address)
		if err != nil || host == "" || port == "" {
			errs = append(errs, ValidationError{Kind: KindInvalidUpstreamAddress, EntityID: t.ID,
				Message: fmt.Sprintf("target %s: address %q is not a valid host:port", t.ID, t.Address)})
			continue
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, ValidationError{Kind: KindInvalidUpstreamAddress, EntityID: t.ID,
				Message: fmt.Sprintf("target %s: address %q has an invalid port", t.ID, t.Address)})
		}
	}

	return errs
}

// validateCertificates enforces C1: cert_pem/key_pem must parse and form a
// valid key pair, and domain must match the leaf certificate's Subject/SAN.
func validateCertificates(s *Snapshot) []ValidationError {
	var errs []ValidationError

	for _, c := range sortedCertificates(s) {
		pair, err := tls.X509KeyPair([]byte(c.CertPEM), []byte(c.KeyPEM))
		if err != nil {
			errs = append(errs, ValidationError{Kind: KindInvalidCertificate, EntityID: c.ID,
				Message: fmt.Sprintf("certificate %s: cert_pem/key_pem do not form a valid key pair: %v", c.ID, err)})
			continue
		}

		leaf := pair.Leaf
		if leaf == nil {
			leaf, err = x509.ParseCertificate(pair.Certificate[0])
			if err != nil {
				errs = append(errs, ValidationError{Kind: KindInvalidCertificate, EntityID: c.ID,
					Message: fmt.Sprintf("certificate %s: cannot parse leaf certificate: %v", c.ID, err)})
				continue
			}
		}

		if err := leaf.VerifyHostname(c.Domain); err != nil {
			errs = append(errs, ValidationError{Kind: KindInvalidCertificate, EntityID: c.ID,
				Message: fmt.Sprintf("certificate %s: domain %q does not match certificate Subject/SAN: %v", c.ID, c.Domain, err)})
		}
	}

	return errs
}
