// Package provider abstracts the storage backend behind the data
// synchronization core.
//
// A provider owns the versioned sync document: it persists payloads,
// serves them back, and notifies a watcher when the document changes
// underneath the process. The design follows a registry pattern with
// factory creation, so backends plug in without the coordinator knowing
// which one it talks to.
//
// # Usage
//
//	p, err := provider.New(provider.KindJSON, provider.Settings{
//	    Path: "web_content/data/sync.json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	err = p.Save(map[string]any{"a": 1})
//	data, err := p.Load()
//
// # Implementations
//
//   - internal/provider/jsonfile: versioned JSON file with fsnotify watch
//   - internal/provider/sqlite: embedded SQLite database
//   - internal/provider/bolt: bbolt key/value file
//
// Implementations register themselves in init(); import the ones you need
// for side effects:
//
//	import _ "github.com/sidesync/sidesync/internal/provider/jsonfile"
package provider

import (
	"log"
	"time"
)

// Kind identifies a storage backend type.
type Kind string

const (
	// KindJSON is the versioned JSON file backend. This is the default
	// and the only backend the browser can poll directly over HTTP.
	KindJSON Kind = "json"

	// KindSQLite is the embedded SQLite backend.
	KindSQLite Kind = "sqlite"

	// KindBolt is the bbolt key/value backend.
	KindBolt Kind = "bolt"
)

// String returns the string representation of the backend kind.
func (k Kind) String() string {
	return string(k)
}

// ChangeFunc receives the freshly loaded payload after the document
// changed. It runs on the provider's watcher goroutine, not the caller's.
type ChangeFunc func(data map[string]any)

// Provider is the storage contract the coordinator builds on.
//
// Save and Load serialize against each other within one process; version
// numbers are monotonic and gapless for that process. Cross-process
// writers are not coordinated.
type Provider interface {
	// Kind returns the backend type.
	Kind() Kind

	// Save persists data as the next version of the sync document:
	// the previous version is read back and incremented by exactly one.
	Save(data map[string]any) error

	// Load returns the current payload. A missing document yields an
	// empty map, not an error.
	Load() (map[string]any, error)

	// Version returns the current document version, 0 when no document
	// exists yet.
	Version() (int64, error)

	// Watch registers fn to be called with the fresh payload after the
	// document changes. Only one watcher is active at a time; calling
	// Watch again replaces the previous one. Load errors inside the
	// watch path are swallowed: a document mid-write self-resolves on
	// the next event.
	Watch(fn ChangeFunc) error

	// Unwatch stops the active watcher and drops its callback.
	// Idempotent.
	Unwatch() error

	// Close stops watching and releases backend resources. The provider
	// is unusable afterwards.
	Close() error
}

// Settings carries the construction parameters shared by all backends.
type Settings struct {
	// Path is the backing file: the sync JSON file, the SQLite
	// database, or the bolt file, depending on the backend.
	Path string

	// Debounce is the quiet period the file watcher waits before
	// delivering a change. Zero means the backend default (500ms).
	Debounce time.Duration

	// PollInterval is the version-poll cadence for backends without
	// filesystem change events. Zero means the backend default (1s).
	PollInterval time.Duration

	// Logger receives diagnostic output. Nil means a backend-prefixed
	// stderr logger.
	Logger *log.Logger
}
