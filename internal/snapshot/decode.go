package snapshot

import (
	"fmt"

	svccfg "github.com/relaymesh/gatewayd/internal/frameworks/service/cfg"
)

// DecodeMatchExpr decodes a route's raw match_expr (as stored in JSON config
// entity CRUD, e.g. from an admin-surface request body) into a typed
// MatchExpr. No code outside tests calls it: snapshots reach the publisher
// through encoding/json, which fills Route.Match directly and ignores
// unknown match_expr keys.
func DecodeMatchExpr(raw map[string]any) (MatchExpr, error) {
	var m MatchExpr
	if raw == nil {
		return m, nil
	}
	// MustDecodeStrict rejects unknown keys, reporting them as an
	// "invalid match_expr" error instead of ignoring them.
	if err := svccfg.MustDecodeStrict(raw, &m); err != nil {
		return MatchExpr{}, fmt.Errorf("snapshot: invalid match_expr: %w", err)
	}
	return m, nil
}
