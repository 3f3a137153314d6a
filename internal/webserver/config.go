package webserver

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sidesync/sidesync/internal/audit"
)

// Config holds the static server settings. Zero numeric and string
// fields take defaults; the feature flags are taken as written, so start
// from DefaultConfig to get CORS, caching, and path validation enabled.
// Out-of-range fields fail construction with every violation listed.
type Config struct {
	// PreferredPort is tried first when binding.
	PreferredPort int

	// AlternatePorts are tried in order when the preferred port is
	// occupied, before the upward scan.
	AlternatePorts []int

	// Host is the bind and probe address.
	Host string

	// Dir is the served directory, created if missing on Start.
	Dir string

	// IndexFile is served for directory requests.
	IndexFile string

	// Debug enables per-request log lines.
	Debug bool

	// Timeout bounds request reads and writes.
	Timeout time.Duration

	// CORS toggles the allow-origin/methods/headers response headers and
	// the OPTIONS short-circuit.
	CORS        bool
	CORSMethods []string
	CORSHeaders []string

	// CacheMaxAge is the max-age value in seconds for the Cache-Control
	// header. CacheEnabled toggles the header.
	CacheEnabled bool
	CacheMaxAge  int

	// ValidatePaths refuses requests that resolve outside Dir.
	ValidatePaths bool

	// Events enables the /ws live-event endpoint.
	Events bool

	// Logger receives diagnostic output. Nil means a prefixed stderr
	// logger.
	Logger *log.Logger

	// Audit receives lifecycle and security events. Nil disables
	// auditing.
	Audit *audit.Trail
}

// DefaultConfig returns the default server settings: port 8080 with four
// alternates, localhost, web_content, CORS and caching on.
func DefaultConfig() Config {
	return Config{
		PreferredPort:  8080,
		AlternatePorts: []int{8081, 8082, 8083, 8084},
		Host:           "localhost",
		Dir:            "web_content",
		IndexFile:      "index.html",
		Timeout:        30 * time.Second,
		CORS:           true,
		CORSMethods:    []string{"GET", "POST", "OPTIONS"},
		CORSHeaders:    []string{"Content-Type", "Authorization"},
		CacheEnabled:   true,
		CacheMaxAge:    3600,
		ValidatePaths:  true,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PreferredPort == 0 {
		c.PreferredPort = def.PreferredPort
	}
	if c.AlternatePorts == nil {
		c.AlternatePorts = def.AlternatePorts
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Dir == "" {
		c.Dir = def.Dir
	}
	if c.IndexFile == "" {
		c.IndexFile = def.IndexFile
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.CORSMethods == nil {
		c.CORSMethods = def.CORSMethods
	}
	if c.CORSHeaders == nil {
		c.CORSHeaders = def.CORSHeaders
	}
	if c.CacheMaxAge == 0 {
		c.CacheMaxAge = def.CacheMaxAge
	}
	return c
}

// validate returns every violation found, not just the first.
func (c Config) validate() []string {
	var violations []string

	if c.PreferredPort < 1024 || c.PreferredPort > 65535 {
		violations = append(violations, fmt.Sprintf("preferred port must be within [1024, 65535], got %d", c.PreferredPort))
	}
	for _, port := range c.AlternatePorts {
		if port < 1024 || port > 65535 {
			violations = append(violations, fmt.Sprintf("alternate port must be within [1024, 65535], got %d", port))
		}
	}
	if strings.TrimSpace(c.Dir) == "" {
		violations = append(violations, "served directory must not be empty")
	}
	if strings.TrimSpace(c.IndexFile) == "" {
		violations = append(violations, "index file must not be empty")
	}
	if c.Timeout < 0 {
		violations = append(violations, fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.CacheMaxAge < 0 {
		violations = append(violations, fmt.Sprintf("cache max-age must not be negative, got %d", c.CacheMaxAge))
	}

	return violations
}
