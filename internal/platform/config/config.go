// Package config provides configuration loading and validation for both the
// control-plane and data-plane executables.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/relaymesh/gatewayd/internal/platform/instanceid"
)

// Config holds the process configuration. Both planes read from the same
// struct; RunControlPlane/RunDataPlane gate which fields are required.
type Config struct {
	// RunControlPlane and RunDataPlane select which plane(s) this process
	// runs, from RUN_CONTROL_PLANE / RUN_DATA_PLANE.
	RunControlPlane bool
	RunDataPlane    bool

	// DatabaseURL is required on the control plane. Scheme selects the
	// store driver: "sqlite://<path-to-dir>" or "json://<path-to-dir>".
	DatabaseURL string

	// ControlPlaneAddr is the control-plane listen address.
	ControlPlaneAddr string

	// ControlPlaneURL is the data plane's base URL for the control plane.
	ControlPlaneURL string

	// NodeID identifies this data-plane node to the control plane.
	NodeID string

	PollIntervalSecs        int
	HeartbeatIntervalSecs   int
	HealthCheckIntervalSecs int
	HealthCheckTimeoutMS    int

	// CertsDir is where certificates are mirrored as PEM files.
	CertsDir string

	// HTTPPortRange and HTTPSPortRange are optional pre-bound port ranges
	// for the data-plane listener manager. Nil disables pre-binding for
	// that protocol.
	HTTPPortRange  *PortRange
	HTTPSPortRange *PortRange

	ACME ACMEConfig

	// Cache selects the cache driver; the data plane uses the cache for DNS
	// resolution memoization.
	Cache CacheConfig

	Logging LoggingConfig
}

// PortRange is an inclusive [Low, High] TCP port interval.
type PortRange struct {
	Low  int
	High int
}

// Contains reports whether port lies within the range.
func (r *PortRange) Contains(port int) bool {
	if r == nil {
		return false
	}
	return port >= r.Low && port <= r.High
}

// ACMEConfig holds ACME HTTP-01 contract settings (spec.md §4.5, §6).
// The core never performs ACME client mechanics itself; it only answers
// HTTP-01 challenges via an in-memory token store that an external ACME
// orchestrator can drive.
type ACMEConfig struct {
	Enabled      bool
	ContactEmail string
	DirectoryURL string
	StorageDir   string
}

// CacheConfig selects the cache driver backing DNS-resolution memoization.
type CacheConfig struct {
	Driver string // "memory" (default) or "redis"
	Addr   string // redis address; loaded and logged, but not passed to the cache driver
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string
}

// Validate checks cross-field invariants not expressible as simple defaults.
func (c *Config) Validate() error {
	if !c.RunControlPlane && !c.RunDataPlane {
		return fmt.Errorf("config: at least one of RUN_CONTROL_PLANE or RUN_DATA_PLANE must be truthy")
	}
	if c.RunControlPlane && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required when RUN_CONTROL_PLANE is set")
	}
	if c.RunDataPlane && c.ControlPlaneURL == "" {
		return fmt.Errorf("config: CONTROL_PLANE_URL is required when RUN_DATA_PLANE is set")
	}
	if c.RunDataPlane {
		normalized, err := instanceid.NormalizeBaseURL(c.ControlPlaneURL)
		if err != nil {
			return fmt.Errorf("config: CONTROL_PLANE_URL: %w", err)
		}
		c.ControlPlaneURL = normalized
	}
	return nil
}

// StoreDriverConfig splits DatabaseURL into a driver name and data directory
// suitable for store.New.
func (c *Config) StoreDriverConfig() (driver string, dataDir string, err error) {
	if c.DatabaseURL == "" {
		return "", "", fmt.Errorf("config: DATABASE_URL not set")
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", "", fmt.Errorf("config: invalid DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite", "json":
		// both drivers take a filesystem directory
	default:
		return "", "", fmt.Errorf("config: unsupported DATABASE_URL scheme %q (want sqlite or json)", u.Scheme)
	}
	dataDir = u.Path
	if u.Host != "" {
		// "sqlite://./data" parses Host="." Path="/data" for relative-looking
		// values; rejoin so both sqlite:///abs/path and sqlite://rel/path work.
		dataDir = u.Host + u.Path
	}
	if dataDir == "" {
		return "", "", fmt.Errorf("config: DATABASE_URL %q has no path", c.DatabaseURL)
	}
	return u.Scheme, dataDir, nil
}

// Redacted renders the config for startup logging with secrets scrubbed.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  RunControlPlane: %v, RunDataPlane: %v,\n", c.RunControlPlane, c.RunDataPlane)
	fmt.Fprintf(&sb, "  DatabaseURL: %q,\n", redactDSN(c.DatabaseURL))
	fmt.Fprintf(&sb, "  ControlPlaneAddr: %q, ControlPlaneURL: %q,\n", c.ControlPlaneAddr, c.ControlPlaneURL)
	fmt.Fprintf(&sb, "  NodeID: %q,\n", c.NodeID)
	fmt.Fprintf(&sb, "  PollIntervalSecs: %d, HeartbeatIntervalSecs: %d,\n", c.PollIntervalSecs, c.HeartbeatIntervalSecs)
	fmt.Fprintf(&sb, "  HealthCheckIntervalSecs: %d, HealthCheckTimeoutMS: %d,\n", c.HealthCheckIntervalSecs, c.HealthCheckTimeoutMS)
	fmt.Fprintf(&sb, "  CertsDir: %q,\n", c.CertsDir)
	fmt.Fprintf(&sb, "  HTTPPortRange: %s, HTTPSPortRange: %s,\n", formatRange(c.HTTPPortRange), formatRange(c.HTTPSPortRange))
	fmt.Fprintf(&sb, "  ACME: {Enabled: %v, ContactEmail: %q, DirectoryURL: %q, StorageDir: %q},\n",
		c.ACME.Enabled, c.ACME.ContactEmail, c.ACME.DirectoryURL, c.ACME.StorageDir)
	fmt.Fprintf(&sb, "  Cache: {Driver: %q, Addr: %q},\n", c.Cache.Driver, c.Cache.Addr)
	fmt.Fprintf(&sb, "  Logging: {Level: %q},\n", c.Logging.Level)
	sb.WriteString("}")
	return sb.String()
}

func formatRange(r *PortRange) string {
	if r == nil {
		return "none"
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// redactDSN strips userinfo credentials from a DSN-like URL before logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.UserPassword("[REDACTED]", "[REDACTED]")
	return u.String()
}
