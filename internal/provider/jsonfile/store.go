// Package jsonfile persists the sync document as a single versioned JSON
// file on disk and watches it for modifications made outside the process.
//
// This is the default backend and the only one the embedded browser can
// poll directly over HTTP, since the document doubles as a static file
// under the served directory.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sidesync/sidesync/internal/document"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

// defaultDebounce is the quiet period applied when Settings.Debounce is
// zero.
const defaultDebounce = 500 * time.Millisecond

func init() {
	provider.Register(provider.KindJSON, func(s provider.Settings) (provider.Provider, error) {
		return New(s)
	})
}

// Store implements provider.Provider on top of a JSON document file.
// All document access is serialized by a single mutex, which makes
// version numbers monotonic and gapless within one process.
type Store struct {
	path     string
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	watcher *watcher
	closed  bool
}

// New creates a Store for s.Path. The parent directory and an initial
// version-1 document are created when the file does not exist yet.
func New(s provider.Settings) (*Store, error) {
	if s.Path == "" {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"sync file path must not be empty", nil)
	}

	debounce := s.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := s.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[jsonfile] ", log.LstdFlags)
	}

	st := &Store{
		path:     s.Path,
		debounce: debounce,
		logger:   logger,
	}

	if _, err := os.Stat(s.Path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, classify("failed to stat sync document", err)
		}
		if err := document.Write(s.Path, document.New(nil)); err != nil {
			return nil, classify("failed to create initial sync document", err)
		}
	}

	return st, nil
}

// Kind returns provider.KindJSON.
func (st *Store) Kind() provider.Kind { return provider.KindJSON }

// Save writes data as the next version of the sync document. The previous
// version is read back under the store lock; a missing or unparseable
// existing file restarts the count at version 1 instead of failing the
// write.
func (st *Store) Save(data map[string]any) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return syncerrors.ErrClosed
	}

	next := document.New(data)
	if prev, err := document.Read(st.path); err == nil {
		next = prev.Next(data)
	}

	if err := document.Write(st.path, next); err != nil {
		return classify("failed to save sync document", err)
	}
	return nil
}

// Load returns the current payload. A missing document yields an empty
// map; an unreadable or unparseable one is an error.
func (st *Store) Load() (map[string]any, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, syncerrors.ErrClosed
	}

	doc, err := document.Read(st.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, classify("failed to load sync document", err)
	}
	return doc.Data, nil
}

// Version returns the current document version, 0 when no document
// exists.
func (st *Store) Version() (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return 0, syncerrors.ErrClosed
	}

	doc, err := document.Read(st.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, classify("failed to read sync document version", err)
	}
	return doc.Version, nil
}

// Watch starts delivering debounced change notifications to fn. Only one
// watcher is active at a time; calling Watch again stops the previous one
// first.
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

	if st.watcher != nil {
		if err := st.watcher.stop(); err != nil {
			st.logger.Printf("failed to stop previous watcher: %v", err)
		}
		st.watcher = nil
	}

	w, err := newWatcher(st.path, st.debounce, st.Load, fn, st.logger)
	if err != nil {
		return err
	}
	st.watcher = w
	return nil
}

// Unwatch stops the active watcher. It is a no-op when none is running.
func (st *Store) Unwatch() error {
	st.mu.Lock()
	w := st.watcher
	st.watcher = nil
	st.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.stop()
}

// Close stops watching and marks the store unusable. Idempotent.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	w := st.watcher
	st.watcher = nil
	st.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.stop()
}

// classify maps storage failures onto the synchronization error taxonomy.
// Failures outside the taxonomy are wrapped plainly.
func classify(message string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syncerrors.NewSync(syncerrors.CodeFileNotFound, message, err)
	case errors.Is(err, fs.ErrPermission):
		return syncerrors.NewSync(syncerrors.CodePermission, message, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return syncerrors.NewSync(syncerrors.CodeCorruptedData, message, err)
	default:
		return fmt.Errorf("%s: %w", message, err)
	}
}
