// Package sqlite persists the sync document in an embedded SQLite
// database.
//
// The database runs in embedded mode (no cgo, no server) with WAL for
// concurrent readers. The document lives in a single-row table; Save
// runs the read-then-increment inside one transaction, so versions stay
// monotonic even with several connections open.
//
// Change notifications are version-polled: fsnotify on a WAL database
// would fire on unrelated checkpoints, so the watcher samples the
// version column instead.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

const defaultPollInterval = time.Second

func init() {
	provider.Register(provider.KindSQLite, func(s provider.Settings) (provider.Provider, error) {
		return Open(s)
	})
}

// Store implements provider.Provider on an embedded SQLite database.
type Store struct {
	conn   *sql.DB
	path   string
	poll   time.Duration
	logger *log.Logger

	mu     sync.Mutex
	poller *provider.Poller
	closed bool
}

// Open opens (or creates) the database at s.Path and initializes the
// schema. The caller must Close the store when done.
func Open(s provider.Settings) (*Store, error) {
	if s.Path == "" {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"database path must not be empty", nil)
	}

	poll := s.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := s.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sqlite] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", s.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn:   conn,
		path:   s.Path,
		poll:   poll,
		logger: logger,
	}

	// WAL keeps readers unblocked during writes
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := st.initSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// initSchema creates the document table if it doesn't exist. Idempotent.
func (st *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_document (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		versao INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		dados TEXT NOT NULL
	);
	`

	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Kind returns provider.KindSQLite.
func (st *Store) Kind() provider.Kind { return provider.KindSQLite }

// Save writes data as the next version of the document. The previous
// version is read inside the same transaction, so the row never skips or
// repeats a version.
func (st *Store) Save(data map[string]any) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return syncerrors.ErrClosed
	}

	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return syncerrors.NewSync(syncerrors.CodeInvalidFormat,
			"payload is not JSON-serializable", err)
	}

	ctx := context.Background()
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, "SELECT versao FROM sync_document WHERE id = 1").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read current version: %w", err)
	}

	query := `
	INSERT INTO sync_document (id, versao, timestamp, dados)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		versao = excluded.versao,
		timestamp = excluded.timestamp,
		dados = excluded.dados
	`

	_, err = tx.ExecContext(ctx, query,
		version+1,
		time.Now().Format(time.RFC3339),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync document: %w", err)
	}
	return nil
}

// Load returns the current payload, an empty map when no document has
// been saved yet.
func (st *Store) Load() (map[string]any, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, syncerrors.ErrClosed
	}
	return loadConn(st.conn)
}

// Version returns the current document version, 0 when no document has
// been saved yet.
func (st *Store) Version() (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return 0, syncerrors.ErrClosed
	}
	return versionConn(st.conn)
}

// loadConn reads the payload through conn. Shared by Load and the
// poller, which must not contend for the store lock.
func loadConn(conn *sql.DB) (map[string]any, error) {
	var raw string
	err := conn.QueryRow("SELECT dados FROM sync_document WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync document: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, syncerrors.NewSync(syncerrors.CodeCorruptedData,
			"stored payload is not valid JSON", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func versionConn(conn *sql.DB) (int64, error) {
	var version int64
	err := conn.QueryRow("SELECT versao FROM sync_document WHERE id = 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return version, nil
}

// Watch starts a version poller delivering fresh payloads to fn. Only
// one watcher is active at a time; calling Watch again replaces it.
func (st *Store) Watch(fn provider.ChangeFunc) error {
	if fn == nil {
		return syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"watch callback must not be nil", nil)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return syncerrors.ErrClosed
	}

	if st.poller != nil {
		st.poller.Stop()
		st.poller = nil
	}

	// The poller samples through the connection directly, outside the
	// store lock; Close stops it before the connection goes away.
	conn := st.conn
	st.poller = provider.StartPoller(st.poll,
		func() (int64, error) { return versionConn(conn) },
		func() (map[string]any, error) { return loadConn(conn) },
		fn, st.logger)
	return nil
}

// Unwatch stops the active poller. No-op when none is running.
func (st *Store) Unwatch() error {
	st.mu.Lock()
	p := st.poller
	st.poller = nil
	st.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	return nil
}

// Close stops watching, checkpoints the WAL, and closes the connection.
// Idempotent.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	p := st.poller
	st.poller = nil
	conn := st.conn
	st.conn = nil
	st.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if conn == nil {
		return nil
	}

	if _, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		st.logger.Printf("failed to checkpoint WAL: %v", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
