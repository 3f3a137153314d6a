package audit

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestTrail creates a trail in a temp directory with a flush interval
// long enough that only explicit triggers flush during the test.
func newTestTrail(t *testing.T, cfg Config) (*Trail, string) {
	t.Helper()

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	return tr, filepath.Join(cfg.Dir, "auditoria.json")
}

// countLines returns the number of records written to the active log file,
// treating a missing file as zero.
func countLines(t *testing.T, path string) int {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return bytes.Count(data, []byte("\n"))
}

// TestRecord_Buffers verifies that records stay in memory until an
// explicit flush.
func TestRecord_Buffers(t *testing.T) {
	tr, path := newTestTrail(t, Config{})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "synced", nil)

	if got := countLines(t, path); got != 0 {
		t.Errorf("records on disk before flush = %d, want 0", got)
	}

	tr.Flush()

	// The startup record plus the explicit one.
	if got := countLines(t, path); got != 2 {
		t.Errorf("records on disk after flush = %d, want 2", got)
	}
}

// TestRecord_FullBufferFlushes verifies that hitting the buffer size
// writes without waiting for the timer.
func TestRecord_FullBufferFlushes(t *testing.T) {
	tr, path := newTestTrail(t, Config{BufferSize: 3})

	// New already buffered the startup record.
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "first", nil)
	if got := countLines(t, path); got != 0 {
		t.Fatalf("records on disk below buffer size = %d, want 0", got)
	}

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "second", nil)
	if got := countLines(t, path); got != 3 {
		t.Errorf("records on disk at buffer size = %d, want 3", got)
	}
}

// TestRecord_CriticalFlushesImmediately verifies that CRITICAL events do
// not wait in the buffer.
func TestRecord_CriticalFlushesImmediately(t *testing.T) {
	tr, path := newTestTrail(t, Config{})

	tr.Record(EventServerError, SeverityCritical, "webserver", "listener died", nil)

	if got := countLines(t, path); got != 2 {
		t.Errorf("records on disk after critical = %d, want 2", got)
	}
}

// TestRecord_MinSeverity verifies that events below the configured level
// are dropped before buffering.
func TestRecord_MinSeverity(t *testing.T) {
	tr, _ := newTestTrail(t, Config{MinSeverity: SeverityError})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "dropped", nil)
	tr.Record(EventSyncRetry, SeverityWarning, "datasync", "dropped", nil)
	tr.Record(EventSyncError, SeverityError, "datasync", "kept", nil)

	records, err := tr.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query() returned %d records, want 1", len(records))
	}
	if records[0].Type != EventSyncError {
		t.Errorf("record type = %q, want %q", records[0].Type, EventSyncError)
	}
}

// TestRecord_WireFormat verifies the field names of the on-disk records.
func TestRecord_WireFormat(t *testing.T) {
	tr, path := newTestTrail(t, Config{})

	tr.Record(EventSyncError, SeverityError, "datasync", "save failed", map[string]any{"attempt": 3})
	tr.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	for _, key := range []string{`"id"`, `"timestamp"`, `"tipo_evento"`, `"severidade"`, `"componente"`, `"mensagem"`, `"detalhes"`} {
		if !bytes.Contains(data, []byte(key)) {
			t.Errorf("log file missing field %s", key)
		}
	}
	if !bytes.Contains(data, []byte(`"SYNC_ERRO"`)) {
		t.Errorf("log file missing event type value SYNC_ERRO")
	}
}

// TestQuery_Filters exercises each filter field.
func TestQuery_Filters(t *testing.T) {
	tr, _ := newTestTrail(t, Config{})

	tr.Record(EventSyncError, SeverityError, "datasync", "save failed", nil)
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "synced", nil)
	tr.Record(EventServerStarted, SeverityInfo, "webserver", "listening", nil)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4}, // three records plus the startup event
		{"by type", Filter{Type: EventSyncError}, 1},
		{"by severity", Filter{Severity: SeverityError}, 1},
		{"by component substring", Filter{Component: "DATA"}, 2},
		{"by limit", Filter{Limit: 2}, 2},
		{"no match", Filter{Component: "nonexistent"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := tr.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("Query() returned %d records, want %d", len(records), tt.want)
			}
		})
	}
}

// TestQuery_TimeRange verifies the Since and Until bounds.
func TestQuery_TimeRange(t *testing.T) {
	tr, _ := newTestTrail(t, Config{})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "early", nil)
	time.Sleep(10 * time.Millisecond)
	cut := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "late", nil)

	records, err := tr.Query(Filter{Since: cut, Type: EventSyncSuccess})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query(Since) returned %d records, want 1", len(records))
	}
	if records[0].Message != "late" {
		t.Errorf("Query(Since) message = %q, want %q", records[0].Message, "late")
	}

	records, err = tr.Query(Filter{Until: cut, Type: EventSyncSuccess})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query(Until) returned %d records, want 1", len(records))
	}
	if records[0].Message != "early" {
		t.Errorf("Query(Until) message = %q, want %q", records[0].Message, "early")
	}
}

// TestQuery_NewestFirst verifies descending timestamp order.
func TestQuery_NewestFirst(t *testing.T) {
	tr, _ := newTestTrail(t, Config{})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "older", nil)
	time.Sleep(10 * time.Millisecond)
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "newer", nil)

	records, err := tr.Query(Filter{Type: EventSyncSuccess})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Query() returned %d records, want 2", len(records))
	}
	if records[0].Message != "newer" || records[1].Message != "older" {
		t.Errorf("Query() order = [%q, %q], want newest first", records[0].Message, records[1].Message)
	}
}

// TestQuery_ReadsRotatedFiles verifies that records in rotated backups
// are still visible.
func TestQuery_ReadsRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	tr, _ := newTestTrail(t, Config{Dir: dir})

	rotated := `{"id":"old","timestamp":"2026-01-02T03:04:05Z","tipo_evento":"SYNC_SUCESSO","severidade":"INFO","componente":"datasync","mensagem":"from backup","detalhes":{}}` + "\n"
	backup := filepath.Join(dir, "auditoria-2026-01-02T03-04-05.000.json")
	if err := os.WriteFile(backup, []byte(rotated), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	records, err := tr.Query(Filter{Type: EventSyncSuccess})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query() returned %d records, want 1", len(records))
	}
	if records[0].Message != "from backup" {
		t.Errorf("record message = %q, want %q", records[0].Message, "from backup")
	}
}

// TestQuery_SkipsCorruptFile verifies that one unreadable file does not
// hide the rest of the trail.
func TestQuery_SkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	tr, _ := newTestTrail(t, Config{Dir: dir})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "kept", nil)

	garbage := filepath.Join(dir, "auditoria-garbage.json")
	if err := os.WriteFile(garbage, []byte("not json at all{{{"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	records, err := tr.Query(Filter{Type: EventSyncSuccess})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Query() returned %d records, want 1", len(records))
	}
}

// TestQueryDir_ReadOnly verifies the trail-less query sees stored
// records and leaves the directory untouched.
func TestQueryDir_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	tr, _ := newTestTrail(t, Config{Dir: dir})

	tr.Record(EventServerStarted, SeverityInfo, "webserver", "up", nil)
	tr.Record(EventSyncError, SeverityError, "datasync", "boom", nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	before, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	records, err := QueryDir(dir, "auditoria", Filter{Severity: SeverityError}, nil)
	if err != nil {
		t.Fatalf("QueryDir() error = %v", err)
	}
	if len(records) != 1 || records[0].Type != EventSyncError {
		t.Errorf("QueryDir() = %+v, want the one ERROR record", records)
	}

	stats, err := StatsDir(dir, "auditoria")
	if err != nil {
		t.Fatalf("StatsDir() error = %v", err)
	}
	// New and Close add the lifecycle records, so four in total.
	if stats.TotalEvents != 4 {
		t.Errorf("StatsDir() TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if stats.BySeverity[SeverityError] != 1 {
		t.Errorf("StatsDir() ERROR count = %d, want 1", stats.BySeverity[SeverityError])
	}

	after, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("query changed the directory: %d entries, had %d", len(after), len(before))
	}
}

// TestStats aggregates counts across stored records.
func TestStats(t *testing.T) {
	tr, _ := newTestTrail(t, Config{})

	tr.Record(EventSyncError, SeverityError, "datasync", "save failed", nil)
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "synced", nil)
	tr.Record(EventServerStarted, SeverityInfo, "webserver", "listening", nil)

	stats, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if stats.Buffered != 0 {
		t.Errorf("Buffered = %d, want 0", stats.Buffered)
	}
	if stats.LogFiles != 1 {
		t.Errorf("LogFiles = %d, want 1", stats.LogFiles)
	}
	if got := stats.ByType[EventSyncError]; got != 1 {
		t.Errorf("ByType[SYNC_ERRO] = %d, want 1", got)
	}
	if got := stats.BySeverity[SeverityInfo]; got != 3 {
		t.Errorf("BySeverity[INFO] = %d, want 3", got)
	}
	if got := stats.ByComponent["datasync"]; got != 2 {
		t.Errorf("ByComponent[datasync] = %d, want 2", got)
	}
}

// TestClose_WritesShutdownRecord verifies the final flush and shutdown
// event.
func TestClose_WritesShutdownRecord(t *testing.T) {
	tr, path := newTestTrail(t, Config{})

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "synced", nil)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Contains(data, []byte("SISTEMA_PARADO")) {
		t.Errorf("log file missing shutdown record")
	}
	if got := countLines(t, path); got != 3 {
		t.Errorf("records on disk after close = %d, want 3", got)
	}
}

// TestClose_Idempotent verifies that closing twice is safe and that a
// closed trail drops new records.
func TestClose_Idempotent(t *testing.T) {
	tr, path := newTestTrail(t, Config{})

	if err := tr.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	before := countLines(t, path)
	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "ignored", nil)
	tr.Flush()
	if got := countLines(t, path); got != before {
		t.Errorf("records on disk after recording on closed trail = %d, want %d", got, before)
	}
}

// TestNilTrail verifies that every method is safe on a nil receiver so
// audit wiring stays optional.
func TestNilTrail(t *testing.T) {
	var tr *Trail

	tr.Record(EventSyncSuccess, SeverityInfo, "datasync", "ignored", nil)
	tr.Flush()

	records, err := tr.Query(Filter{})
	if err != nil {
		t.Errorf("Query() error = %v", err)
	}
	if records != nil {
		t.Errorf("Query() = %v, want nil", records)
	}

	stats, err := tr.Stats()
	if err != nil {
		t.Errorf("Stats() error = %v", err)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("Stats().TotalEvents = %d, want 0", stats.TotalEvents)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
