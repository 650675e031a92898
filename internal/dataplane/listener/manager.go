// Package listener owns the data plane's pre-bound TCP listeners, per
// spec.md §4.4.1. Ports are bound once, up front, from the configured
// HTTP_PORT_RANGE/HTTPS_PORT_RANGE; reconciliation only ever flips a
// listener between "parked" (bound, serving 503) and "active" (bound,
// dispatching to a handler) by swapping an atomic pointer. A listener is
// never re-bound, so mid-flight connections on a port that stays active
// across a reconcile are never disturbed.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/relaymesh/gatewayd/internal/platform/logutil"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// ErrNotBound is returned by Activate/Deactivate for a port the manager
// never pre-bound.
var ErrNotBound = errors.New("listener: port not pre-bound")

// state is the handler an active listener dispatches to. A bound listener
// with a nil *state is parked.
type state struct {
	protocol snapshot.Protocol
	handler  http.Handler
}

// bound is one pre-bound port: its raw listener plus the handler it
// currently dispatches to, if any.
type bound struct {
	port    int
	ln      net.Listener
	https   bool
	current atomic.Pointer[state]
	srv     *http.Server
}

// ServeHTTP dispatches to the currently active handler, or responds 503 if
// the listener is parked.
func (b *bound) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := b.current.Load()
	if st == nil {
		http.Error(w, "listener not active", http.StatusServiceUnavailable)
		return
	}
	st.handler.ServeHTTP(w, r)
}

// Manager owns every pre-bound port for one data-plane process.
type Manager struct {
	mu        sync.Mutex
	listeners map[int]*bound
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// NewManager creates a Manager. tlsConfig is the single shared TLS
// configuration every https port is wrapped with (see
// internal/dataplane/tlsresolver); it may be nil if HTTPS_PORT_RANGE is
// never used.
func NewManager(tlsConfig *tls.Config, logger *slog.Logger) *Manager {
	return &Manager{
		listeners: make(map[int]*bound),
		tlsConfig: tlsConfig,
		logger:    logutil.NoopIfNil(logger),
	}
}

// PreBindHTTP binds every port in ports as plain TCP, parked until
// activated.
func (m *Manager) PreBindHTTP(ports []int) error {
	for _, port := range ports {
		if err := m.preBind(port, false); err != nil {
			return err
		}
	}
	return nil
}

// PreBindHTTPS binds every port in ports wrapped in TLS using the
// Manager's shared tlsConfig, parked until activated.
func (m *Manager) PreBindHTTPS(ports []int) error {
	if len(ports) > 0 && m.tlsConfig == nil {
		return errors.New("listener: PreBindHTTPS requires a non-nil tlsConfig")
	}
	for _, port := range ports {
		if err := m.preBind(port, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) preBind(port int, https bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[port]; exists {
		return nil
	}

	rawLn, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listener: bind port %d: %w", port, err)
	}

	ln := rawLn
	if https {
		ln = tls.NewListener(rawLn, m.tlsConfig)
	}

	b := &bound{port: port, ln: ln, https: https, srv: &http.Server{}}
	if https {
		// ALPN negotiates "h2" via the shared tlsConfig (tlsresolver sets
		// NextProtos); ConfigureServer wires the TLSNextProto handler that
		// dispatches an already-established *tls.Conn to HTTP/2.
		if err := http2.ConfigureServer(b.srv, &http2.Server{}); err != nil {
			return fmt.Errorf("listener: configure http2 for port %d: %w", port, err)
		}
		b.srv.Handler = b
	} else {
		// h2c.NewHandler serves HTTP/2 cleartext (prior-knowledge or
		// Upgrade-header negotiated) over the same plain TCP listener,
		// per spec.md's HTTP/2-cleartext non-goal carve-out.
		b.srv.Handler = h2c.NewHandler(b, &http2.Server{})
	}
	m.listeners[port] = b

	go m.serve(b)

	m.logger.Info("pre-bound listener", "port", port, "https", https)
	return nil
}

func (m *Manager) serve(b *bound) {
	if err := b.srv.Serve(b.ln); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("listener serve loop exited", "port", b.port, "error", err)
	}
}

// Activate swaps port's dispatch handler in, making it live for the next
// accepted connection. Returns ErrNotBound if the port was never
// pre-bound.
func (m *Manager) Activate(port int, protocol snapshot.Protocol, handler http.Handler) error {
	m.mu.Lock()
	b, ok := m.listeners[port]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: port %d", ErrNotBound, port)
	}
	b.current.Store(&state{protocol: protocol, handler: handler})
	return nil
}

// Deactivate parks port: already-bound but no longer dispatching.
func (m *Manager) Deactivate(port int) error {
	m.mu.Lock()
	b, ok := m.listeners[port]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: port %d", ErrNotBound, port)
	}
	b.current.Store(nil)
	return nil
}

// ActivePorts returns the ports currently dispatching to a handler.
func (m *Manager) ActivePorts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for port, b := range m.listeners {
		if b.current.Load() != nil {
			out = append(out, port)
		}
	}
	return out
}

// Close abruptly closes every pre-bound listener, dropping in-flight
// connections. Prefer Shutdown for an orderly stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, b := range m.listeners {
		if err := b.srv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := b.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown drains every pre-bound listener's in-flight requests up to
// ctx's deadline, then force-closes anything still open, matching spec.md
// §5's graceful-shutdown requirement. Each listener drains concurrently so
// one slow port doesn't starve another's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	bounds := make([]*bound, 0, len(m.listeners))
	for _, b := range m.listeners {
		bounds = append(bounds, b)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(bounds))
	for i, b := range bounds {
		wg.Add(1)
		go func(i int, b *bound) {
			defer wg.Done()
			errs[i] = b.srv.Shutdown(ctx)
		}(i, b)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
