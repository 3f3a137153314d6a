package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// TestDefault_Valid verifies the shipped defaults pass validation.
func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

// TestValidate_Aggregates verifies every violation is reported at once,
// named by its config key.
func TestValidate_Aggregates(t *testing.T) {
	cfg := Default()
	cfg.Server.PreferredPort = 80
	cfg.Sync.MaxAttempts = 0
	cfg.Audit.MinSeverity = "LOUD"

	err := cfg.Validate()
	if !syncerrors.Is(err, syncerrors.CodeConfigInvalid) {
		t.Fatalf("Validate() error = %v, want %s", err, syncerrors.CodeConfigInvalid)
	}

	violations := syncerrors.Violations(err)
	if len(violations) != 3 {
		t.Errorf("Violations() = %v, want 3 entries", violations)
	}
	for _, key := range []string{"server.preferred_port", "sync.max_attempts", "audit.min_severity"} {
		found := false
		for _, v := range violations {
			if strings.Contains(v, key) {
				found = true
			}
		}
		if !found {
			t.Errorf("violations %v do not mention %s", violations, key)
		}
	}
}

// TestValidate_VersionGate covers the config schema version check.
func TestValidate_VersionGate(t *testing.T) {
	cases := []struct {
		version string
		ok      bool
	}{
		{"1.0", true},
		{"v1.2", true},
		{"1", true},
		{"", false},
		{"two", false},
		{"2.0", false},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Version = tc.version
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("Validate() with config_version %q = %v, want nil", tc.version, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("Validate() with config_version %q = nil, want error", tc.version)
		}
	}
}

// TestValidate_ProviderSection verifies the backend kind gate and the
// per-kind path requirement.
func TestValidate_ProviderSection(t *testing.T) {
	cfg := Default()
	cfg.Provider.Kind = "mysql"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "provider.kind") {
		t.Errorf("Validate() with unknown kind = %v, want provider.kind violation", err)
	}

	cfg = Default()
	cfg.Provider.Kind = "sqlite"
	cfg.Provider.SQLitePath = "   "
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "provider.sqlite_path") {
		t.Errorf("Validate() with blank sqlite path = %v, want provider.sqlite_path violation", err)
	}

	// The unused backend paths may be blank.
	cfg = Default()
	cfg.Provider.SQLitePath = ""
	cfg.Provider.BoltPath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with blank unused paths = %v, want nil", err)
	}
}

// TestValidate_AuditSkippedWhenDisabled verifies a disabled audit
// section is not validated.
func TestValidate_AuditSkippedWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Audit.Enabled = false
	cfg.Audit.Dir = ""
	cfg.Audit.MinSeverity = "junk"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with disabled audit = %v, want nil", err)
	}
}

// TestDuration_JSON covers the human-readable duration encoding.
func TestDuration_JSON(t *testing.T) {
	got, err := json.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(got) != `"1.5s"` {
		t.Errorf("Marshal(1.5s) = %s, want \"1.5s\"", got)
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"45s"`), &d); err != nil {
		t.Fatalf("Unmarshal(\"45s\") error = %v", err)
	}
	if d.Duration() != 45*time.Second {
		t.Errorf("Unmarshal(\"45s\") = %s, want 45s", d)
	}

	// Bare numbers are seconds.
	if err := json.Unmarshal([]byte(`2`), &d); err != nil {
		t.Fatalf("Unmarshal(2) error = %v", err)
	}
	if d.Duration() != 2*time.Second {
		t.Errorf("Unmarshal(2) = %s, want 2s", d)
	}

	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("Unmarshal(true) succeeded, want error")
	}
}
