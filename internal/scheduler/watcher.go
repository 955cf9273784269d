package scheduler

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/livepatch/internal/logging"
)

// Watcher reports writes to unit files under a set of directories. Editors
// often produce several events for one save, so events are collected for a
// debounce window and delivered as one batch.
type Watcher struct {
	watcher     *fsnotify.Watcher
	pattern     string
	debounce    time.Duration
	ignorePaths []string
	onChange    func(paths []string)
	logger      *logging.Logger

	rootsMu sync.RWMutex
	roots   []string

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for files whose base name matches pattern.
// onChange runs on the watcher's goroutine with the sorted changed paths.
func NewWatcher(pattern string, debounce time.Duration, onChange func(paths []string), logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:     fw,
		pattern:     pattern,
		debounce:    debounce,
		ignorePaths: []string{".git", "node_modules", ".DS_Store"},
		onChange:    onChange,
		logger:      logger.WithComponent("watcher"),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	root = filepath.Clean(root)
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	w.rootsMu.Lock()
	w.roots = append(w.roots, root)
	w.rootsMu.Unlock()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() || path == root {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		_ = w.watcher.Add(path)
		return nil
	})
}

// Start begins delivering changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.watchLoop()
}

// Stop stops the watcher and releases its resources. It is safe to call
// more than once, and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
		return
	default:
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	if w.started {
		<-w.done
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			pending = make(map[string]struct{})

			w.logger.Debug("unit files changed", "paths", paths)
			w.onChange(paths)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if w.ignored(ev.Name) {
		return false
	}
	ok, _ := filepath.Match(w.pattern, filepath.Base(ev.Name))
	return ok
}

// ignored reports whether a path component below its watched root is on
// the ignore list. Components of the root itself are not checked.
func (w *Watcher) ignored(path string) bool {
	rel := w.relToRoot(filepath.Clean(path))
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if slices.Contains(w.ignorePaths, part) {
			return true
		}
	}
	return false
}

// relToRoot returns path relative to the deepest watched root containing
// it, or path unchanged when no root does.
func (w *Watcher) relToRoot(path string) string {
	w.rootsMu.RLock()
	defer w.rootsMu.RUnlock()

	best := path
	bestLen := -1
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(root) > bestLen {
			best, bestLen = rel, len(root)
		}
	}
	return best
}
