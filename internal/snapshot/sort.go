package snapshot

import "sort"

// sortRoutesByPriority orders routes by (priority DESC, id ASC), the tie-break
// spec.md §3 Invariant R4 and §4.4.3 mandate for router compilation.
func sortRoutesByPriority(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Priority != routes[j].Priority {
			return routes[i].Priority > routes[j].Priority
		}
		return routes[i].ID.String() < routes[j].ID.String()
	})
}
