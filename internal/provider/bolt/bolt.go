// Package bolt persists the sync document in a bbolt key/value file.
//
// The whole document envelope is stored under a single key, so the
// read-then-increment cycle runs inside one bbolt update transaction.
// Change notifications are version-polled, same as the sqlite backend.
package bolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sidesync/sidesync/internal/document"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

const defaultPollInterval = time.Second

var (
	bucketDocument = []byte("sync_document")
	keyCurrent     = []byte("current")
)

func init() {
	provider.Register(provider.KindBolt, func(s provider.Settings) (provider.Provider, error) {
		return Open(s)
	})
}

// Store implements provider.Provider on a bbolt database file.
type Store struct {
	db     *bbolt.DB
	path   string
	poll   time.Duration
	logger *log.Logger

	mu     sync.Mutex
	poller *provider.Poller
	closed bool
}

// Open opens (or creates) the database at s.Path and initializes the
// document bucket.
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
		logger = log.New(os.Stderr, "[bolt] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(s.Path, 0600, &bbolt.Options{Timeout: time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		// Another process holds the exclusive file lock.
		return nil, &syncerrors.Error{
			Code:      syncerrors.CodeFileLocked,
			Component: "store",
			Message:   "database file is locked by another process",
			Err:       err,
			Metadata:  map[string]any{"path": s.Path},
			Retryable: true,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocument); err != nil {
			return fmt.Errorf("failed to create document bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		path:   s.Path,
		poll:   poll,
		logger: logger,
	}, nil
}

// Kind returns provider.KindBolt.
func (st *Store) Kind() provider.Kind { return provider.KindBolt }

// Save writes data as the next version of the document. The previous
// envelope is read inside the same update transaction; an unparseable
// one restarts the count at version 1.
func (st *Store) Save(data map[string]any) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return syncerrors.ErrClosed
	}

	return st.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocument)
		if b == nil {
			return fmt.Errorf("document bucket not found")
		}

		next := document.New(data)
		if raw := b.Get(keyCurrent); raw != nil {
			var prev document.Document
			if err := json.Unmarshal(raw, &prev); err == nil {
				next = prev.Next(data)
			}
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return syncerrors.NewSync(syncerrors.CodeInvalidFormat,
				"payload is not JSON-serializable", err)
		}
		if err := b.Put(keyCurrent, raw); err != nil {
			return fmt.Errorf("failed to store sync document: %w", err)
		}
		return nil
	})
}

// Load returns the current payload, an empty map when no document has
// been saved yet.
func (st *Store) Load() (map[string]any, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, syncerrors.ErrClosed
	}
	return loadDB(st.db)
}

// Version returns the current document version, 0 when no document has
// been saved yet.
func (st *Store) Version() (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return 0, syncerrors.ErrClosed
	}
	return versionDB(st.db)
}

// loadDB reads the payload through db. Shared by Load and the poller,
// which must not contend for the store lock.
func loadDB(db *bbolt.DB) (map[string]any, error) {
	var data map[string]any

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocument)
		if b == nil {
			return fmt.Errorf("document bucket not found")
		}

		raw := b.Get(keyCurrent)
		if raw == nil {
			data = map[string]any{}
			return nil
		}

		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return syncerrors.NewSync(syncerrors.CodeCorruptedData,
				"stored document is not valid JSON", err)
		}
		data = doc.Data
		if data == nil {
			data = map[string]any{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func versionDB(db *bbolt.DB) (int64, error) {
	var version int64

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocument)
		if b == nil {
			return fmt.Errorf("document bucket not found")
		}

		raw := b.Get(keyCurrent)
		if raw == nil {
			return nil
		}

		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return syncerrors.NewSync(syncerrors.CodeCorruptedData,
				"stored document is not valid JSON", err)
		}
		version = doc.Version
		return nil
	})
	if err != nil {
		return 0, err
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

	// The poller samples through the database directly, outside the
	// store lock; Close stops it before the database goes away.
	db := st.db
	st.poller = provider.StartPoller(st.poll,
		func() (int64, error) { return versionDB(db) },
		func() (map[string]any, error) { return loadDB(db) },
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

// Close stops watching and closes the database. Idempotent.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	p := st.poller
	st.poller = nil
	db := st.db
	st.db = nil
	st.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close boltdb: %w", err)
	}
	return nil
}
