// Package loader registers store drivers via blank imports.
// Import this package to ensure the default store drivers are available.
//
// Usage in main.go:
//
//	import _ "github.com/relaymesh/gatewayd/internal/platform/store/loader"
package loader

import (
	// Register the sqlite store driver
	_ "github.com/relaymesh/gatewayd/internal/platform/store/sqlite"

	// Register the json store driver
	_ "github.com/relaymesh/gatewayd/internal/platform/store/json"
)
