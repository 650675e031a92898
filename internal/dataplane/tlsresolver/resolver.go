// Package tlsresolver resolves a TLS ClientHello to a certificate for the
// data plane's shared HTTPS listeners, per spec.md §4.4.2. One
// *crypto/tls.Config is shared across every https port; GetCertificate
// first maps the handshake back to the local port it arrived on, then
// walks that port's TlsPolicy domain set by SNI, falling back to the
// policy's first configured domain when the SNI doesn't match any of them.
package tlsresolver

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	platformtls "github.com/relaymesh/gatewayd/internal/platform/http/tls"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// entry is one https listener's resolved certificate set.
type entry struct {
	policy   snapshot.TlsPolicy
	certs    map[string]*tls.Certificate // lowercased domain -> certificate
	fallback *tls.Certificate            // dev self-signed/static, used when certs has no match
}

// Resolver holds the data plane's current port -> TLS policy certificate
// mapping, hot-swapped as a whole on every reconciliation.
type Resolver struct {
	table atomic.Pointer[map[int]*entry]

	// devIssuer, when non-nil, issues a fallback certificate (self-signed
	// or static, per its configured mode) for a policy whose domains have
	// no matching stored Certificate -- local/dev use, never ACME (spec.md
	// §4.5 keeps ACME issuance strictly outside the core).
	devIssuer *platformtls.Issuer

	logger *slog.Logger
}

// New creates a Resolver. devIssuer may be nil to disable the
// self-signed/static fallback entirely (certificates must come from the
// snapshot's Certificates in that case).
func New(devIssuer *platformtls.Issuer, logger *slog.Logger) *Resolver {
	empty := map[int]*entry{}
	r := &Resolver{devIssuer: devIssuer, logger: logutil.NoopIfNil(logger)}
	r.table.Store(&empty)
	return r
}

// Reconcile rebuilds the port -> certificate-set table from s and swaps it
// in atomically. A domain whose certificate fails to parse is logged and
// skipped (the listener keeps its other domains) rather than failing the
// whole reconcile, so one
// bad TLS policy doesn't take every other listener's certificates down.
func (r *Resolver) Reconcile(s *snapshot.Snapshot) {
	table := make(map[int]*entry, len(s.Listeners))

	for _, l := range s.Listeners {
		if !l.Enabled || l.Protocol != snapshot.ProtocolHTTPS || l.TLSPolicyID == nil {
			continue
		}
		policy, ok := s.TLSPolicyByID(*l.TLSPolicyID)
		if !ok {
			r.logger.Warn("https listener references unknown tls policy", "listener_id", l.ID, "tls_policy_id", *l.TLSPolicyID)
			continue
		}

		e := &entry{policy: policy, certs: make(map[string]*tls.Certificate)}
		for _, domain := range policy.Domains {
			cert, err := latestCertForDomain(s, domain)
			if err != nil {
				r.logger.Warn("skipping domain with no usable certificate", "domain", domain, "tls_policy_id", policy.ID, "error", err)
				continue
			}
			if cert != nil {
				e.certs[strings.ToLower(domain)] = cert
			}
		}

		if len(e.certs) == 0 && r.devIssuer != nil {
			cert, err := r.devIssuer.Certificate(policy.Domains)
			if err != nil {
				r.logger.Warn("dev fallback certificate issuance failed", "tls_policy_id", policy.ID, "error", err)
			} else if cert != nil {
				e.fallback = cert
			}
		}

		table[l.Port] = e
	}

	r.table.Store(&table)
}

// latestCertForDomain parses and returns the newest active certificate for
// domain, or (nil, nil) if none is stored. If that certificate does not
// parse, an error is returned; older certificates are not tried.
func latestCertForDomain(s *snapshot.Snapshot, domain string) (*tls.Certificate, error) {
	var best *snapshot.Certificate
	for i := range s.Certificates {
		c := &s.Certificates[i]
		if !strings.EqualFold(c.Domain, domain) || c.Status != snapshot.CertActive {
			continue
		}
		if best == nil || c.ExpiresAt.After(best.ExpiresAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cert, err := tls.X509KeyPair([]byte(best.CertPEM), []byte(best.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("tlsresolver: parse certificate %s for domain %s: %w", best.ID, domain, err)
	}
	return &cert, nil
}

// TLSConfig returns the single *tls.Config every https listener shares.
func (r *Resolver) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.getCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

func (r *Resolver) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	port, err := localPort(hello)
	if err != nil {
		return nil, err
	}

	table := *r.table.Load()
	e, ok := table[port]
	if !ok {
		return nil, fmt.Errorf("tlsresolver: no tls policy active on port %d", port)
	}

	name := strings.ToLower(hello.ServerName)
	if cert, ok := e.certs[name]; ok {
		return cert, nil
	}
	if len(e.policy.Domains) > 0 {
		if cert, ok := e.certs[strings.ToLower(e.policy.Domains[0])]; ok {
			return cert, nil
		}
	}
	if e.fallback != nil {
		return e.fallback, nil
	}
	return nil, fmt.Errorf("tlsresolver: no certificate for sni %q on port %d", hello.ServerName, port)
}

func localPort(hello *tls.ClientHelloInfo) (int, error) {
	if hello.Conn == nil {
		return 0, fmt.Errorf("tlsresolver: client hello has no connection")
	}
	addr, ok := hello.Conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("tlsresolver: local address is not tcp: %v", hello.Conn.LocalAddr())
	}
	return addr.Port, nil
}
