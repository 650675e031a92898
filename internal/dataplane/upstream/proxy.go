package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/platform/cache"
	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// Dispatcher resolves a matched Route to its UpstreamPool, selects a target
// via Selector, and proxies the request through net/http/httputil.
// ReverseProxy, per spec.md §4.4.4. DNS resolution of UpstreamTarget.address
// happens here, at dispatch time (spec.md §3 invariant T1), and is memoized
// in a cache.Cache keyed by hostname with TTLDNSResolution.
type Dispatcher struct {
	selector *Selector
	resolver *net.Resolver
	dnsCache cache.Cache
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. dnsCache may be nil to disable
// memoization (every dispatch re-resolves).
func NewDispatcher(selector *Selector, dnsCache cache.Cache, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		selector: selector,
		resolver: net.DefaultResolver,
		dnsCache: dnsCache,
		logger:   logutil.NoopIfNil(logger),
	}
}

// Proxy builds a *httputil.ReverseProxy that dispatches every request to a
// target selected from pool/targets. Reused across requests for the same
// pool; selection happens per request inside Director, not once at build
// time, so the load-balancing policy is honored per call.
func (d *Dispatcher) Proxy(pool snapshot.UpstreamPool, targets []snapshot.UpstreamTarget) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Director: func(r *http.Request) {
			target, err := d.selector.Pick(pool, targets)
			if err != nil {
				// Director has no error return; ModifyResponse/ErrorHandler
				// can't observe a failed Director either, so the selection
				// failure is stashed on the request context and surfaced by
				// a RoundTripper that immediately fails the request, routing
				// it through ErrorHandler's single 502 path.
				*r = *r.WithContext(context.WithValue(r.Context(), dispatchErrKey{}, err))
				r.URL.Host = ""
				return
			}

			addr, resolveErr := d.resolveAddress(r.Context(), target.Address)
			if resolveErr != nil {
				*r = *r.WithContext(context.WithValue(r.Context(), dispatchErrKey{}, resolveErr))
				r.URL.Host = ""
				return
			}

			// Stash the picked target id so the Transport can bracket the
			// actual round trip with Selector.Begin/End: least_conn's
			// in-flight counter must reflect real request lifetimes, not
			// just Director's (near-instant) target-selection step.
			*r = *r.WithContext(context.WithValue(r.Context(), dispatchTargetKey{}, target.ID))

			r.URL.Scheme = "http"
			r.URL.Host = addr
			r.Header.Set("X-Forwarded-Host", r.Host)
			r.Host = addr
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			d.logger.Warn("upstream dispatch failed", "pool_id", pool.ID, "error", err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
		Transport: &failFastTransport{base: http.DefaultTransport, selector: d.selector, poolID: pool.ID},
	}
}

type dispatchErrKey struct{}

type dispatchTargetKey struct{}

// failFastTransport short-circuits a request whose Director already
// recorded a selection/resolution failure, instead of letting it reach the
// network with an empty Host. It also brackets the real RoundTrip with
// selector.Begin/End for the request's picked target, so least_conn's
// in-flight counter reflects actual in-flight requests instead of staying
// permanently at zero.
type failFastTransport struct {
	base     http.RoundTripper
	selector *Selector
	poolID   uuid.UUID
}

func (t *failFastTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err, ok := r.Context().Value(dispatchErrKey{}).(error); ok {
		return nil, err
	}

	targetID, ok := r.Context().Value(dispatchTargetKey{}).(uuid.UUID)
	if !ok {
		return t.base.RoundTrip(r)
	}

	end := t.selector.Begin(t.poolID, targetID)
	defer end()
	return t.base.RoundTrip(r)
}

// resolveAddress resolves the host half of a host:port address, memoizing
// the result in d.dnsCache for cache.TTLDNSResolution. IP-literal hosts,
// and addresses that do not split as host:port, are returned unchanged; a
// failed or empty lookup is returned as an error.
func (d *Dispatcher) resolveAddress(ctx context.Context, hostport string) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, nil
	}
	if net.ParseIP(host) != nil {
		return hostport, nil
	}

	if d.dnsCache != nil {
		if cached, err := d.dnsCache.Get(ctx, dnsCacheKey(host)); err == nil {
			return net.JoinHostPort(string(cached), port), nil
		}
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return "", fmt.Errorf("upstream: resolve %q: %w", host, err)
	}
	resolved := ips[0]

	if d.dnsCache != nil {
		_ = d.dnsCache.Set(ctx, dnsCacheKey(host), []byte(resolved), cache.TTLDNSResolution)
	}

	return net.JoinHostPort(resolved, port), nil
}

func dnsCacheKey(host string) string {
	return "dns:" + strings.ToLower(host)
}
