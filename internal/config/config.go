// Package config loads, validates, and watches the sidesync settings
// file.
//
// Settings live in a pretty-printed JSON file that is written out with
// defaults on first run. A sidesync.toml next to it overrides values
// per checkout, and SIDESYNC_* environment variables override both per
// process. Precedence: env > toml > json > defaults.
//
// The config_version field gates the schema: files from a different
// major version are rejected at load, not silently reinterpreted.
package config

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/sidesync/sidesync/internal/audit"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

// SchemaMajor is the supported config_version major.
const SchemaMajor = "v1"

// Config is the full settings tree.
type Config struct {
	// Version is the config schema version. Majors other than
	// SchemaMajor fail validation.
	Version string `mapstructure:"config_version" json:"config_version"`

	// Debug enables verbose logging across all components.
	Debug bool `mapstructure:"debug" json:"debug"`

	Server   Server   `mapstructure:"server" json:"server"`
	Sync     Sync     `mapstructure:"sync" json:"sync"`
	Provider Provider `mapstructure:"provider" json:"provider"`
	Audit    Audit    `mapstructure:"audit" json:"audit"`
}

// Server configures the static web server.
type Server struct {
	PreferredPort  int      `mapstructure:"preferred_port" json:"preferred_port"`
	AlternatePorts []int    `mapstructure:"alternate_ports" json:"alternate_ports"`
	Host           string   `mapstructure:"host" json:"host"`
	Dir            string   `mapstructure:"dir" json:"dir"`
	IndexFile      string   `mapstructure:"index_file" json:"index_file"`
	CORS           bool     `mapstructure:"cors" json:"cors"`
	CORSMethods    []string `mapstructure:"cors_methods" json:"cors_methods"`
	CORSHeaders    []string `mapstructure:"cors_headers" json:"cors_headers"`
	CacheEnabled   bool     `mapstructure:"cache" json:"cache"`
	CacheMaxAge    int      `mapstructure:"cache_max_age" json:"cache_max_age"`
	ValidatePaths  bool     `mapstructure:"validate_paths" json:"validate_paths"`
	Timeout        Duration `mapstructure:"timeout" json:"timeout"`
	Events         bool     `mapstructure:"events" json:"events"`
}

// Sync configures the coordinator's retry policy.
type Sync struct {
	MaxAttempts       int      `mapstructure:"max_attempts" json:"max_attempts"`
	InitialDelay      Duration `mapstructure:"initial_delay" json:"initial_delay"`
	BackoffMultiplier float64  `mapstructure:"backoff_multiplier" json:"backoff_multiplier"`
	MaxDelay          Duration `mapstructure:"max_delay" json:"max_delay"`
	Jitter            bool     `mapstructure:"jitter" json:"jitter"`
}

// Provider selects and configures the storage backend.
type Provider struct {
	Kind         string   `mapstructure:"kind" json:"kind"`
	Path         string   `mapstructure:"path" json:"path"`
	SQLitePath   string   `mapstructure:"sqlite_path" json:"sqlite_path"`
	BoltPath     string   `mapstructure:"bolt_path" json:"bolt_path"`
	Debounce     Duration `mapstructure:"debounce" json:"debounce"`
	PollInterval Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

// Audit configures the audit trail.
type Audit struct {
	Enabled       bool     `mapstructure:"enabled" json:"enabled"`
	Dir           string   `mapstructure:"dir" json:"dir"`
	FileBase      string   `mapstructure:"file_base" json:"file_base"`
	MinSeverity   string   `mapstructure:"min_severity" json:"min_severity"`
	BufferSize    int      `mapstructure:"buffer_size" json:"buffer_size"`
	FlushInterval Duration `mapstructure:"flush_interval" json:"flush_interval"`
	MaxAgeDays    int      `mapstructure:"max_age_days" json:"max_age_days"`
	MaxFiles      int      `mapstructure:"max_files" json:"max_files"`
}

// Default returns the full default settings tree.
func Default() Config {
	return Config{
		Version: "1.0",
		Server: Server{
			PreferredPort:  8080,
			AlternatePorts: []int{8081, 8082, 8083, 8084},
			Host:           "localhost",
			Dir:            "web_content",
			IndexFile:      "index.html",
			CORS:           true,
			CORSMethods:    []string{"GET", "POST", "OPTIONS"},
			CORSHeaders:    []string{"Content-Type", "Authorization"},
			CacheEnabled:   true,
			CacheMaxAge:    3600,
			ValidatePaths:  true,
			Timeout:        Duration(30 * time.Second),
		},
		Sync: Sync{
			MaxAttempts:       3,
			InitialDelay:      Duration(time.Second),
			BackoffMultiplier: 2.0,
			MaxDelay:          Duration(30 * time.Second),
			Jitter:            true,
		},
		Provider: Provider{
			Kind:         provider.KindJSON.String(),
			Path:         "web_content/data/sync.json",
			SQLitePath:   "sidesync.db",
			BoltPath:     "sidesync.bolt",
			Debounce:     Duration(500 * time.Millisecond),
			PollInterval: Duration(time.Second),
		},
		Audit: Audit{
			Enabled:       true,
			Dir:           "logs",
			FileBase:      "auditoria",
			MinSeverity:   string(audit.SeverityInfo),
			BufferSize:    100,
			FlushInterval: Duration(30 * time.Second),
			MaxAgeDays:    30,
			MaxFiles:      30,
		},
	}
}

// Validate checks the whole tree and returns a CFG004 error listing
// every violation by its config key, or nil.
func (c Config) Validate() error {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	version := c.Version
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	switch {
	case strings.TrimSpace(c.Version) == "":
		add("config_version is required")
	case !semver.IsValid(version):
		add("config_version %q is not a valid version", c.Version)
	case semver.Major(version) != SchemaMajor:
		add("config_version %s is not supported (want %s.x)", c.Version, SchemaMajor)
	}

	validPort := func(p int) bool { return p >= 1024 && p <= 65535 }
	if !validPort(c.Server.PreferredPort) {
		add("server.preferred_port must be within [1024, 65535], got %d", c.Server.PreferredPort)
	}
	for _, p := range c.Server.AlternatePorts {
		if !validPort(p) {
			add("server.alternate_ports entry must be within [1024, 65535], got %d", p)
		}
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		add("server.host must not be empty")
	}
	if strings.TrimSpace(c.Server.Dir) == "" {
		add("server.dir must not be empty")
	}
	if strings.TrimSpace(c.Server.IndexFile) == "" {
		add("server.index_file must not be empty")
	}
	if c.Server.Timeout <= 0 {
		add("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Server.CacheMaxAge < 0 {
		add("server.cache_max_age must not be negative, got %d", c.Server.CacheMaxAge)
	}

	if c.Sync.MaxAttempts < 1 {
		add("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.InitialDelay <= 0 {
		add("sync.initial_delay must be positive, got %s", c.Sync.InitialDelay)
	}
	if c.Sync.BackoffMultiplier < 1 {
		add("sync.backoff_multiplier must be at least 1, got %g", c.Sync.BackoffMultiplier)
	}
	if c.Sync.MaxDelay < c.Sync.InitialDelay {
		add("sync.max_delay must not be below sync.initial_delay, got %s < %s",
			c.Sync.MaxDelay, c.Sync.InitialDelay)
	}

	kind := provider.Kind(c.Provider.Kind)
	switch kind {
	case provider.KindJSON:
		if strings.TrimSpace(c.Provider.Path) == "" {
			add("provider.path must not be empty for the %s backend", kind)
		}
	case provider.KindSQLite:
		if strings.TrimSpace(c.Provider.SQLitePath) == "" {
			add("provider.sqlite_path must not be empty for the %s backend", kind)
		}
	case provider.KindBolt:
		if strings.TrimSpace(c.Provider.BoltPath) == "" {
			add("provider.bolt_path must not be empty for the %s backend", kind)
		}
	default:
		add("provider.kind %q is not one of [%s, %s, %s]",
			c.Provider.Kind, provider.KindJSON, provider.KindSQLite, provider.KindBolt)
	}
	if c.Provider.Debounce < 0 {
		add("provider.debounce must not be negative, got %s", c.Provider.Debounce)
	}
	if c.Provider.PollInterval < 0 {
		add("provider.poll_interval must not be negative, got %s", c.Provider.PollInterval)
	}

	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.Dir) == "" {
			add("audit.dir must not be empty")
		}
		if strings.TrimSpace(c.Audit.FileBase) == "" {
			add("audit.file_base must not be empty")
		}
		if _, err := audit.ParseSeverity(c.Audit.MinSeverity); err != nil {
			add("audit.min_severity: %v", err)
		}
		if c.Audit.BufferSize < 1 {
			add("audit.buffer_size must be at least 1, got %d", c.Audit.BufferSize)
		}
		if c.Audit.FlushInterval <= 0 {
			add("audit.flush_interval must be positive, got %s", c.Audit.FlushInterval)
		}
		if c.Audit.MaxAgeDays < 1 {
			add("audit.max_age_days must be at least 1, got %d", c.Audit.MaxAgeDays)
		}
		if c.Audit.MaxFiles < 1 {
			add("audit.max_files must be at least 1, got %d", c.Audit.MaxFiles)
		}
	}

	if len(violations) > 0 {
		return syncerrors.NewValidation("config", violations)
	}
	return nil
}
