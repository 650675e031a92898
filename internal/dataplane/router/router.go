// Package router compiles a snapshot's routes into a per-listener match
// table and dispatches requests against it, per spec.md §4.4.3. Compiled
// once per reconciliation and swapped in as a whole via
// atomic.Pointer[Table] so an in-flight request always sees a single
// consistent table, never a half-updated one.
package router

import (
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/platform/hostport"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// compiledRoute is a Route plus its pre-parsed path_regex, if any.
type compiledRoute struct {
	route snapshot.Route
	regex *regexp.Regexp
}

// Table is an immutable, fully compiled route set for one snapshot.
type Table struct {
	byListener map[uuid.UUID][]compiledRoute
}

// Router holds the data plane's current Table, hot-swapped on every
// reconciliation.
type Router struct {
	table atomic.Pointer[Table]
}

// New creates a Router with an empty table.
func New() *Router {
	r := &Router{}
	r.table.Store(&Table{byListener: map[uuid.UUID][]compiledRoute{}})
	return r
}

// Compile builds a Table from s. path_regex is validated as compilable at
// snapshot-validate time (snapshot.Validate), so a compile failure here
// indicates a snapshot that reached the router without validation and is
// treated as a per-route skip rather than a fatal error.
func Compile(s *snapshot.Snapshot) *Table {
	t := &Table{byListener: make(map[uuid.UUID][]compiledRoute)}

	for _, l := range s.Listeners {
		routes := s.RoutesForListener(l.ID) // already (priority DESC, id ASC)
		compiled := make([]compiledRoute, 0, len(routes))
		for _, route := range routes {
			if !route.Enabled {
				continue
			}
			cr := compiledRoute{route: route}
			if route.Match.PathRegex != "" {
				re, err := regexp.Compile(route.Match.PathRegex)
				if err != nil {
					continue
				}
				cr.regex = re
			}
			compiled = append(compiled, cr)
		}
		t.byListener[l.ID] = compiled
	}

	return t
}

// Reconcile recompiles s and swaps the new Table in atomically.
func (r *Router) Reconcile(s *snapshot.Snapshot) {
	r.table.Store(Compile(s))
}

// Match returns the first enabled route on listenerID whose match_expr
// matches req, in (priority DESC, id ASC) order, or false if none match.
func (r *Router) Match(listenerID uuid.UUID, req *http.Request) (snapshot.Route, bool) {
	table := r.table.Load()
	for _, cr := range table.byListener[listenerID] {
		if matches(cr, req) {
			return cr.route, true
		}
	}
	return snapshot.Route{}, false
}

func matches(cr compiledRoute, req *http.Request) bool {
	m := cr.route.Match

	if m.Host != "" {
		scheme := "http"
		if req.TLS != nil {
			scheme = "https"
		}
		reqHost, err := hostport.Normalize(req.Host, scheme)
		if err != nil {
			return false
		}
		wantHost, err := hostport.Normalize(m.Host, scheme)
		if err != nil {
			return false
		}
		if reqHost != wantHost {
			return false
		}
	}

	if m.PathPrefix != "" && !strings.HasPrefix(req.URL.Path, m.PathPrefix) {
		return false
	}

	if cr.regex != nil && !cr.regex.MatchString(req.URL.Path) {
		return false
	}

	if len(m.Method) > 0 && !containsFold(m.Method, req.Method) {
		return false
	}

	for name, want := range m.Headers {
		if req.Header.Get(name) != want {
			return false
		}
	}

	for name, want := range m.Query {
		if req.URL.Query().Get(name) != want {
			return false
		}
	}

	if m.WS != nil {
		if *m.WS != isWebSocketUpgrade(req) {
			return false
		}
	}

	return true
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket") &&
		containsFold(strings.Split(req.Header.Get("Connection"), ","), "upgrade")
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
