// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is an optional TOML file providing defaults that
	// environment variables then override. Unlike env vars, which are
	// the primary interface, the file is a convenience for local/dev use.
	// If provided but unreadable or invalid, loading fails.
	ConfigPath string

	// Environ, if non-nil, is used instead of os.Environ/os.LookupEnv.
	// Tests inject a fixed map; production leaves this nil.
	Environ map[string]string

	// Logger is used for warning messages. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// fileConfig mirrors Config in TOML form, for the optional overlay file.
// Field presence (non-zero) determines whether a value overrides the
// built-in default; env vars always override file values afterward.
type fileConfig struct {
	RunControlPlane *bool  `toml:"run_control_plane"`
	RunDataPlane    *bool  `toml:"run_data_plane"`
	DatabaseURL     string `toml:"database_url"`

	ControlPlaneAddr string `toml:"control_plane_addr"`
	ControlPlaneURL  string `toml:"control_plane_url"`

	NodeID string `toml:"node_id"`

	PollIntervalSecs        int `toml:"poll_interval_secs"`
	HeartbeatIntervalSecs   int `toml:"heartbeat_interval_secs"`
	HealthCheckIntervalSecs int `toml:"health_check_interval_secs"`
	HealthCheckTimeoutMS    int `toml:"health_check_timeout_ms"`

	CertsDir string `toml:"certs_dir"`

	HTTPPortRange  string `toml:"http_port_range"`
	HTTPSPortRange string `toml:"https_port_range"`

	ACME    *acmeFileConfig    `toml:"acme"`
	Cache   *cacheFileConfig   `toml:"cache"`
	Logging *loggingFileConfig `toml:"logging"`
}

type acmeFileConfig struct {
	Enabled      *bool  `toml:"enabled"`
	ContactEmail string `toml:"contact_email"`
	DirectoryURL string `toml:"directory_url"`
	StorageDir   string `toml:"storage_dir"`
}

type cacheFileConfig struct {
	Driver string `toml:"driver"`
	Addr   string `toml:"addr"`
}

type loggingFileConfig struct {
	Level string `toml:"level"`
}

// defaults returns the built-in baseline before any overlay is applied.
func defaults() *Config {
	return &Config{
		ControlPlaneAddr:        ":9443",
		PollIntervalSecs:        5,
		HeartbeatIntervalSecs:   10,
		HealthCheckIntervalSecs: 10,
		HealthCheckTimeoutMS:    2000,
		CertsDir:                ".gatewayd/certs",
		ACME: ACMEConfig{
			DirectoryURL: "https://acme-v02.api.letsencrypt.org/directory",
			StorageDir:   ".gatewayd/acme",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a Config with the following precedence, low to high:
//  1. built-in defaults
//  2. optional TOML file (LoaderOptions.ConfigPath)
//  3. environment variables
//
// Environment variables are the primary interface; the TOML file exists
// only to avoid repeating long env var sets in local/dev environments.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := defaults()

	if opts.ConfigPath != "" {
		var fc fileConfig
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
		overlayFileConfig(cfg, &fc)
	}

	env := newEnvReader(opts.Environ)
	if err := overlayEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.RunControlPlane != nil {
		cfg.RunControlPlane = *fc.RunControlPlane
	}
	if fc.RunDataPlane != nil {
		cfg.RunDataPlane = *fc.RunDataPlane
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.ControlPlaneAddr != "" {
		cfg.ControlPlaneAddr = fc.ControlPlaneAddr
	}
	if fc.ControlPlaneURL != "" {
		cfg.ControlPlaneURL = fc.ControlPlaneURL
	}
	if fc.NodeID != "" {
		cfg.NodeID = fc.NodeID
	}
	if fc.PollIntervalSecs != 0 {
		cfg.PollIntervalSecs = fc.PollIntervalSecs
	}
	if fc.HeartbeatIntervalSecs != 0 {
		cfg.HeartbeatIntervalSecs = fc.HeartbeatIntervalSecs
	}
	if fc.HealthCheckIntervalSecs != 0 {
		cfg.HealthCheckIntervalSecs = fc.HealthCheckIntervalSecs
	}
	if fc.HealthCheckTimeoutMS != 0 {
		cfg.HealthCheckTimeoutMS = fc.HealthCheckTimeoutMS
	}
	if fc.CertsDir != "" {
		cfg.CertsDir = fc.CertsDir
	}
	if fc.HTTPPortRange != "" {
		if r, err := parsePortRange(fc.HTTPPortRange); err == nil {
			cfg.HTTPPortRange = r
		}
	}
	if fc.HTTPSPortRange != "" {
		if r, err := parsePortRange(fc.HTTPSPortRange); err == nil {
			cfg.HTTPSPortRange = r
		}
	}
	if fc.ACME != nil {
		if fc.ACME.Enabled != nil {
			cfg.ACME.Enabled = *fc.ACME.Enabled
		}
		if fc.ACME.ContactEmail != "" {
			cfg.ACME.ContactEmail = fc.ACME.ContactEmail
		}
		if fc.ACME.DirectoryURL != "" {
			cfg.ACME.DirectoryURL = fc.ACME.DirectoryURL
		}
		if fc.ACME.StorageDir != "" {
			cfg.ACME.StorageDir = fc.ACME.StorageDir
		}
	}
	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if fc.Cache.Addr != "" {
			cfg.Cache.Addr = fc.Cache.Addr
		}
	}
	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
	}
}

// envReader abstracts os.LookupEnv so tests can inject a fixed environment.
type envReader struct {
	fixed map[string]string
}

func newEnvReader(fixed map[string]string) *envReader {
	return &envReader{fixed: fixed}
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.fixed != nil {
		v, ok := e.fixed[key]
		return v, ok
	}
	return os.LookupEnv(key)
}

func overlayEnv(cfg *Config, env *envReader) error {
	if v, ok := env.lookup("RUN_CONTROL_PLANE"); ok {
		cfg.RunControlPlane = parseBool(v)
	}
	if v, ok := env.lookup("RUN_DATA_PLANE"); ok {
		cfg.RunDataPlane = parseBool(v)
	}
	if v, ok := env.lookup("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := env.lookup("CONTROL_PLANE_ADDR"); ok {
		cfg.ControlPlaneAddr = v
	}
	if v, ok := env.lookup("CONTROL_PLANE_URL"); ok {
		cfg.ControlPlaneURL = v
	}
	if v, ok := env.lookup("NODE_ID"); ok {
		cfg.NodeID = v
	}
	if v, ok := env.lookup("POLL_INTERVAL_SECS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid POLL_INTERVAL_SECS %q: %w", v, err)
		}
		cfg.PollIntervalSecs = n
	}
	if v, ok := env.lookup("HEARTBEAT_INTERVAL_SECS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid HEARTBEAT_INTERVAL_SECS %q: %w", v, err)
		}
		cfg.HeartbeatIntervalSecs = n
	}
	if v, ok := env.lookup("HEALTH_CHECK_INTERVAL_SECS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid HEALTH_CHECK_INTERVAL_SECS %q: %w", v, err)
		}
		cfg.HealthCheckIntervalSecs = n
	}
	if v, ok := env.lookup("HEALTH_CHECK_TIMEOUT_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid HEALTH_CHECK_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.HealthCheckTimeoutMS = n
	}
	if v, ok := env.lookup("CERTS_DIR"); ok {
		cfg.CertsDir = v
	}
	if v, ok := env.lookup("HTTP_PORT_RANGE"); ok {
		r, err := parsePortRange(v)
		if err != nil {
			return fmt.Errorf("config: invalid HTTP_PORT_RANGE %q: %w", v, err)
		}
		cfg.HTTPPortRange = r
	}
	if v, ok := env.lookup("HTTPS_PORT_RANGE"); ok {
		r, err := parsePortRange(v)
		if err != nil {
			return fmt.Errorf("config: invalid HTTPS_PORT_RANGE %q: %w", v, err)
		}
		cfg.HTTPSPortRange = r
	}
	if v, ok := env.lookup("ACME_ENABLED"); ok {
		cfg.ACME.Enabled = parseBool(v)
	}
	if v, ok := env.lookup("ACME_CONTACT_EMAIL"); ok {
		cfg.ACME.ContactEmail = v
	}
	if v, ok := env.lookup("ACME_DIRECTORY_URL"); ok {
		cfg.ACME.DirectoryURL = v
	}
	if v, ok := env.lookup("ACME_STORAGE_DIR"); ok {
		cfg.ACME.StorageDir = v
	}
	if v, ok := env.lookup("CACHE_DRIVER"); ok {
		cfg.Cache.Driver = v
	}
	if v, ok := env.lookup("CACHE_ADDR"); ok {
		cfg.Cache.Addr = v
	}
	if v, ok := env.lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parsePortRange parses "low-high" into a PortRange.
func parsePortRange(s string) (*PortRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected format <low>-<high>, got %q", s)
	}
	low, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid low port %q: %w", parts[0], err)
	}
	high, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid high port %q: %w", parts[1], err)
	}
	if low <= 0 || high <= 0 || low > high || high > 65535 {
		return nil, fmt.Errorf("invalid port range %d-%d", low, high)
	}
	return &PortRange{Low: low, High: high}, nil
}
