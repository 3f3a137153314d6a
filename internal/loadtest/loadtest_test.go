package loadtest

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sidesync/sidesync/internal/datasync"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/provider/jsonfile"
	"github.com/sidesync/sidesync/internal/webserver"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// freePort grabs an ephemeral port and releases it for the server.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot grab a free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// newStack builds a store and manager over a per-test directory.
func newStack(t *testing.T) (Config, string) {
	t.Helper()

	dir := t.TempDir()
	st, err := jsonfile.New(provider.Settings{
		Path:   filepath.Join(dir, "data", "sync.json"),
		Logger: quiet(),
	})
	if err != nil {
		t.Fatalf("jsonfile.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := datasync.New(datasync.Config{Provider: st, Logger: quiet()})
	if err != nil {
		t.Fatalf("datasync.New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })

	return Config{Manager: m, Provider: st, Logger: quiet()}, dir
}

// writeScenario writes a YAML scenario file and returns its path.
func writeScenario(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

// TestLoadScenario verifies YAML fields land and omitted ones keep the
// defaults.
func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, "smoke.yaml", "name: smoke\nwriters: 2\nupdates_per_writer: 10\nreaders: 0\n")

	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error = %v", err)
	}
	if s.Name != "smoke" {
		t.Errorf("Name = %q, want smoke", s.Name)
	}
	if s.Writers != 2 || s.UpdatesPerWriter != 10 {
		t.Errorf("writers x updates = %d x %d, want 2 x 10", s.Writers, s.UpdatesPerWriter)
	}
	if s.Readers != 0 {
		t.Errorf("Readers = %d, want 0", s.Readers)
	}
	if s.PayloadKeys != DefaultScenario().PayloadKeys {
		t.Errorf("PayloadKeys = %d, want the default %d", s.PayloadKeys, DefaultScenario().PayloadKeys)
	}
}

// TestLoadScenario_NameFromFile verifies the file name fills a missing
// name.
func TestLoadScenario_NameFromFile(t *testing.T) {
	path := writeScenario(t, "burst.yaml", "writers: 1\n")

	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error = %v", err)
	}
	if s.Name != "burst" {
		t.Errorf("Name = %q, want burst", s.Name)
	}
}

// TestLoadScenario_Invalid verifies bad counts are reported with their
// field names.
func TestLoadScenario_Invalid(t *testing.T) {
	path := writeScenario(t, "broken.yaml", "writers: 0\nreaders: -1\n")

	_, err := LoadScenario(path)
	if !syncerrors.Is(err, syncerrors.CodeConfigInvalid) {
		t.Fatalf("LoadScenario() error = %v, want %s", err, syncerrors.CodeConfigInvalid)
	}
	if got := len(syncerrors.Violations(err)); got != 2 {
		t.Errorf("violations = %d, want 2", got)
	}
}

// TestLoadScenario_Missing verifies a missing file maps to the
// not-found code.
func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	if !syncerrors.Is(err, syncerrors.CodeConfigNotFound) {
		t.Errorf("LoadScenario() error = %v, want %s", err, syncerrors.CodeConfigNotFound)
	}
}

// TestLoadScenario_ParseError verifies broken YAML maps to the parse
// code.
func TestLoadScenario_ParseError(t *testing.T) {
	path := writeScenario(t, "bad.yaml", "writers: [not a number\n")

	_, err := LoadScenario(path)
	if !syncerrors.Is(err, syncerrors.CodeConfigParse) {
		t.Errorf("LoadScenario() error = %v, want %s", err, syncerrors.CodeConfigParse)
	}
}

// TestComputeLatencyStats verifies the percentile arithmetic on a known
// sample.
func TestComputeLatencyStats(t *testing.T) {
	durations := []time.Duration{
		30 * time.Millisecond,
		10 * time.Millisecond,
		50 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}

	stats := computeLatencyStats(durations, 1)

	if stats.Count != 5 || stats.Errors != 1 {
		t.Errorf("Count/Errors = %d/%d, want 5/1", stats.Count, stats.Errors)
	}
	if stats.Min != 10*time.Millisecond || stats.Max != 50*time.Millisecond {
		t.Errorf("Min/Max = %v/%v, want 10ms/50ms", stats.Min, stats.Max)
	}
	if stats.Mean != 30*time.Millisecond {
		t.Errorf("Mean = %v, want 30ms", stats.Mean)
	}
	if stats.P50 != 30*time.Millisecond {
		t.Errorf("P50 = %v, want 30ms", stats.P50)
	}
	if stats.P95 != 50*time.Millisecond || stats.P99 != 50*time.Millisecond {
		t.Errorf("P95/P99 = %v/%v, want 50ms/50ms", stats.P95, stats.P99)
	}
}

// TestComputeLatencyStats_Empty verifies the zero-sample case keeps the
// error count.
func TestComputeLatencyStats_Empty(t *testing.T) {
	stats := computeLatencyStats(nil, 3)
	if stats.Count != 0 || stats.Errors != 3 {
		t.Errorf("Count/Errors = %d/%d, want 0/3", stats.Count, stats.Errors)
	}
	if stats.Min != 0 || stats.P99 != 0 {
		t.Errorf("Min/P99 = %v/%v, want zero", stats.Min, stats.P99)
	}
}

// TestRun_WritesOnly verifies counters and the version invariant for a
// pure write run.
func TestRun_WritesOnly(t *testing.T) {
	cfg, _ := newStack(t)
	s := Scenario{Name: "writes", Writers: 3, UpdatesPerWriter: 5, PayloadKeys: 2}

	result, err := Run(context.Background(), cfg, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Writes.Count != 15 {
		t.Errorf("Writes.Count = %d, want 15", result.Writes.Count)
	}
	if result.Writes.Errors != 0 {
		t.Errorf("Writes.Errors = %d, want 0", result.Writes.Errors)
	}
	if result.Writes.Min <= 0 {
		t.Errorf("Writes.Min = %v, want > 0", result.Writes.Min)
	}
	if !result.VersionOK() {
		t.Errorf("version check failed: final %d, want %d", result.FinalVersion, result.ExpectedVersion)
	}
	if result.FinalVersion != result.InitialVersion+15 {
		t.Errorf("final version = %d, want initial %d + 15", result.FinalVersion, result.InitialVersion)
	}
	if result.Reads.Count != 0 {
		t.Errorf("Reads.Count = %d, want 0 without readers", result.Reads.Count)
	}
}

// TestRun_WithReaders verifies pollers see the served document while
// writers run.
func TestRun_WithReaders(t *testing.T) {
	cfg, dir := newStack(t)

	srv, err := webserver.New(webserver.Config{
		PreferredPort: freePort(t),
		Host:          "127.0.0.1",
		Dir:           dir,
		Logger:        quiet(),
	})
	if err != nil {
		t.Fatalf("webserver.New() error = %v", err)
	}
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	cfg.URL = "http://127.0.0.1:" + strconv.Itoa(srv.Port())

	s := Scenario{
		Name:             "mixed",
		Writers:          2,
		UpdatesPerWriter: 5,
		Readers:          2,
		PollIntervalMs:   10,
		WriteDelayMs:     10,
		PayloadKeys:      2,
	}

	result, err := Run(context.Background(), cfg, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Read errors are not asserted: a poll can catch the document file
	// mid-rewrite, which is expected under write load.
	if result.Reads.Count == 0 {
		t.Error("Reads.Count = 0, want some polls during the run")
	}
	if !result.VersionOK() {
		t.Errorf("version check failed: final %d, want %d", result.FinalVersion, result.ExpectedVersion)
	}
}

// TestRun_BadArguments verifies scenario and wiring problems are
// refused up front.
func TestRun_BadArguments(t *testing.T) {
	cfg, _ := newStack(t)

	if _, err := Run(context.Background(), Config{}, DefaultScenario()); !syncerrors.Is(err, syncerrors.CodeInvalidParameter) {
		t.Errorf("Run() without stack error = %v, want %s", err, syncerrors.CodeInvalidParameter)
	}

	s := Scenario{Writers: 0, UpdatesPerWriter: 1}
	if _, err := Run(context.Background(), cfg, s); !syncerrors.Is(err, syncerrors.CodeConfigInvalid) {
		t.Errorf("Run() with bad scenario error = %v, want %s", err, syncerrors.CodeConfigInvalid)
	}

	s = Scenario{Writers: 1, UpdatesPerWriter: 1, Readers: 2, PollIntervalMs: 10}
	if _, err := Run(context.Background(), cfg, s); !syncerrors.Is(err, syncerrors.CodeInvalidParameter) {
		t.Errorf("Run() with readers and no URL error = %v, want %s", err, syncerrors.CodeInvalidParameter)
	}
}

// TestRun_CanceledContext verifies an early cancel still yields a
// consistent result.
func TestRun_CanceledContext(t *testing.T) {
	cfg, _ := newStack(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, cfg, Scenario{Name: "canceled", Writers: 2, UpdatesPerWriter: 50})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Writes.Count != 0 {
		t.Errorf("Writes.Count = %d, want 0 after pre-canceled context", result.Writes.Count)
	}
	if !result.VersionOK() {
		t.Errorf("version check failed: final %d, want %d", result.FinalVersion, result.ExpectedVersion)
	}
}
