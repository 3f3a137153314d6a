package jsonfile

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sidesync/sidesync/internal/provider"
)

// watcher delivers debounced change notifications for a single file.
// It watches the file's parent directory rather than the file itself:
// editors and atomic-rename writers replace the inode, which silently
// drops a watch placed directly on the file.
type watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	load     func() (map[string]any, error)
	fn       provider.ChangeFunc
	logger   *log.Logger

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// newWatcher starts watching path's parent directory and returns a
// running watcher.
func newWatcher(path string, debounce time.Duration, load func() (map[string]any, error), fn provider.ChangeFunc, logger *log.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &watcher{
		fsw:      fsw,
		path:     path,
		debounce: debounce,
		load:     load,
		fn:       fn,
		logger:   logger,
		done:     make(chan struct{}),
		running:  true,
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch sync directory %s: %w", filepath.Dir(path), err)
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents is the event loop. Matching events rearm the debounce
// timer; everything else is ignored.
func (w *watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.matches(event) {
				w.rearm()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}

// matches keeps only write-ish events for the sync file itself. Create is
// included because atomic-rename writers produce it instead of Write.
func (w *watcher) matches(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// rearm cancels any pending delivery and schedules a fresh one, so a
// burst of events inside the quiet period collapses into one callback.
func (w *watcher) rearm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.deliver)
}

// deliver loads the document and invokes the callback. Load failures are
// dropped: a file caught mid-write resolves itself on the next event.
func (w *watcher) deliver() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	data, err := w.load()
	if err != nil {
		w.logger.Printf("skipping change notification, load failed: %v", err)
		return
	}
	w.fn(data)
}

// stop halts event processing and cancels any pending delivery. It blocks
// until the event loop goroutine has exited.
func (w *watcher) stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}
