package ui

import (
	"strings"
	"testing"
)

// withStyles forces the styling state for one test.
func withStyles(t *testing.T, on bool) {
	t.Helper()
	old := Enabled()
	SetEnabled(on)
	t.Cleanup(func() { SetEnabled(old) })
}

// TestDisabled_Passthrough verifies every helper is the identity when
// styling is off.
func TestDisabled_Passthrough(t *testing.T) {
	withStyles(t, false)

	helpers := map[string]func(string) string{
		"RenderAccent": RenderAccent,
		"RenderPass":   RenderPass,
		"RenderWarn":   RenderWarn,
		"RenderFail":   RenderFail,
		"RenderMuted":  RenderMuted,
		"RenderHeader": RenderHeader,
	}
	for name, fn := range helpers {
		if got := fn("texto"); got != "texto" {
			t.Errorf("%s(texto) = %q, want passthrough", name, got)
		}
	}
}

// TestEnabled_KeepsText verifies the input survives rendering whatever
// the active color profile is.
func TestEnabled_KeepsText(t *testing.T) {
	withStyles(t, true)

	if got := RenderAccent("http://localhost:8080"); !strings.Contains(got, "http://localhost:8080") {
		t.Errorf("RenderAccent() = %q, want the input preserved", got)
	}
	if got := RenderFail("[SRV002] start failure"); !strings.Contains(got, "[SRV002] start failure") {
		t.Errorf("RenderFail() = %q, want the input preserved", got)
	}
}

// TestKeyValue verifies the line shape.
func TestKeyValue(t *testing.T) {
	withStyles(t, false)

	if got := KeyValue("porta", 8080); got != "  porta: 8080" {
		t.Errorf("KeyValue() = %q, want %q", got, "  porta: 8080")
	}
}

// TestRenderSeverity verifies the mapping is total over the audit severities.
func TestRenderSeverity(t *testing.T) {
	withStyles(t, false)

	for _, s := range []string{"INFO", "WARNING", "ERROR", "CRITICAL"} {
		if got := RenderSeverity(s); got != s {
			t.Errorf("RenderSeverity(%s) = %q, want passthrough with styles off", s, got)
		}
	}
}
