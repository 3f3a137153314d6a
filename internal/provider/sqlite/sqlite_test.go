package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

func testStore(t *testing.T, s provider.Settings) *Store {
	t.Helper()
	if s.Path == "" {
		s.Path = filepath.Join(t.TempDir(), "sync.db")
	}
	st, err := Open(s)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestRegistered verifies the backend self-registers on import.
func TestRegistered(t *testing.T) {
	if !provider.IsRegistered(provider.KindSQLite) {
		t.Error("sqlite backend should be registered")
	}
}

// TestOpen_CreatesSchema verifies the document table exists after Open.
func TestOpen_CreatesSchema(t *testing.T) {
	st := testStore(t, provider.Settings{})

	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sync_document'`
	if err := st.conn.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("sync_document table does not exist")
	}
}

// TestOpen_EmptyPath verifies construction fails fast on a missing path.
func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(provider.Settings{})
	if err == nil {
		t.Fatal("Open() with empty path should fail")
	}
	if !syncerrors.Is(err, syncerrors.CodeInvalidParameter) {
		t.Errorf("error code = %q, want %q", syncerrors.CodeOf(err), syncerrors.CodeInvalidParameter)
	}
}

// TestLoad_EmptyDatabase verifies a never-saved document loads as an
// empty map with version 0.
func TestLoad_EmptyDatabase(t *testing.T) {
	st := testStore(t, provider.Settings{})

	data, err := st.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Load() = %v, want empty map", data)
	}

	v, err := st.Version()
	if err != nil {
		t.Fatalf("Version() failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Version() = %d, want 0", v)
	}
}

// TestSave_MonotonicVersions verifies each save increments the version by
// exactly one, starting at 1.
func TestSave_MonotonicVersions(t *testing.T) {
	st := testStore(t, provider.Settings{})

	for i := 1; i <= 5; i++ {
		if err := st.Save(map[string]any{"i": float64(i)}); err != nil {
			t.Fatalf("Save() #%d failed: %v", i, err)
		}

		v, err := st.Version()
		if err != nil {
			t.Fatalf("Version() failed: %v", err)
		}
		if v != int64(i) {
			t.Errorf("version after save #%d = %d, want %d", i, v, i)
		}
	}
}

// TestLoad_RoundTrip verifies Load returns the payload Save wrote.
func TestLoad_RoundTrip(t *testing.T) {
	st := testStore(t, provider.Settings{})

	payload := map[string]any{
		"projeto":  "alpha",
		"ativo":    true,
		"contagem": float64(3),
		"aninhado": map[string]any{"chave": "valor"},
	}
	if err := st.Save(payload); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, payload) {
		t.Errorf("Load() = %v, want %v", got, payload)
	}
}

// TestSave_NilPayload verifies a nil payload is stored as an empty map.
func TestSave_NilPayload(t *testing.T) {
	st := testStore(t, provider.Settings{})

	if err := st.Save(nil); err != nil {
		t.Fatalf("Save(nil) failed: %v", err)
	}

	data, err := st.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("Load() = %v, want empty map", data)
	}
}

// TestPersistence verifies the document survives reopening the database.
func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	st, err := Open(provider.Settings{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.Save(map[string]any{"persistente": true}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	st2 := testStore(t, provider.Settings{Path: path})
	data, err := st2.Load()
	if err != nil {
		t.Fatalf("Load() after reopen failed: %v", err)
	}
	if data["persistente"] != true {
		t.Errorf("Load() = %v, want persistente=true", data)
	}

	v, err := st2.Version()
	if err != nil {
		t.Fatalf("Version() after reopen failed: %v", err)
	}
	if v != 1 {
		t.Errorf("Version() = %d, want 1", v)
	}
}

// TestWatch_DeliversOnVersionChange verifies the poller notices a new
// version and delivers the fresh payload.
func TestWatch_DeliversOnVersionChange(t *testing.T) {
	st := testStore(t, provider.Settings{PollInterval: 20 * time.Millisecond})

	got := make(chan map[string]any, 8)
	if err := st.Watch(func(data map[string]any) { got <- data }); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	// Let the poller take its baseline sample first
	time.Sleep(50 * time.Millisecond)

	if err := st.Save(map[string]any{"projeto_atual": "beta"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	select {
	case data := <-got:
		if data["projeto_atual"] != "beta" {
			t.Errorf("callback payload = %v, want projeto_atual=beta", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for change callback")
	}
}

// TestWatch_NoChangeNoCallback verifies a stable version produces no
// deliveries.
func TestWatch_NoChangeNoCallback(t *testing.T) {
	st := testStore(t, provider.Settings{PollInterval: 20 * time.Millisecond})

	if err := st.Save(map[string]any{"x": float64(1)}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got := make(chan map[string]any, 8)
	if err := st.Watch(func(data map[string]any) { got <- data }); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	select {
	case data := <-got:
		t.Errorf("unexpected delivery with no version change: %v", data)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestClose_Idempotent verifies Close is safe to call twice and blocks
// further use.
func TestClose_Idempotent(t *testing.T) {
	st := testStore(t, provider.Settings{})

	if err := st.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	if err := st.Save(map[string]any{"x": float64(1)}); err == nil {
		t.Error("Save() after Close() should fail")
	}
}

// TestFactoryIntegration verifies the store is reachable through the
// provider factory.
func TestFactoryIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	p, err := provider.New(provider.KindSQLite, provider.Settings{Path: path})
	if err != nil {
		t.Fatalf("provider.New() failed: %v", err)
	}
	defer p.Close()

	if p.Kind() != provider.KindSQLite {
		t.Errorf("Kind() = %q, want %q", p.Kind(), provider.KindSQLite)
	}
}
