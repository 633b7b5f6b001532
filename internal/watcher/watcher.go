// Package watcher implements Weaver's File Watcher: a debounced,
// coalescing stream of vault change events built on fsnotify.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/debounce"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// Kind is the coalesced event kind emitted to subscribers.
type Kind string

const (
	KindAdd    Kind = "add"
	KindChange Kind = "change"
	KindUnlink Kind = "unlink"
)

// Event is one coalesced filesystem change, as spec.md §4.3 defines it.
type Event struct {
	Kind         Kind
	AbsolutePath string
	RelativePath string
}

// Watcher watches vaultRoot for changes to files matching Patterns,
// debouncing and coalescing them within Window before emitting.
type Watcher struct {
	root     string
	patterns []string
	window   time.Duration

	fsw     *fsnotify.Watcher
	table   *debounce.Table[Event]
	events  chan Event
	log     *zap.SugaredLogger
	stopped chan struct{}
	once    sync.Once
}

// New creates a Watcher rooted at vaultRoot. patterns defaults to
// ["**/*.md"] when empty.
func New(vaultRoot string, patterns []string, window time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	if len(patterns) == 0 {
		patterns = []string{"**/*.md"}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeInternal, "create fsnotify watcher")
	}

	w := &Watcher{
		root:     vaultRoot,
		patterns: patterns,
		window:   window,
		fsw:      fsw,
		events:   make(chan Event, 1024),
		log:      log,
		stopped:  make(chan struct{}),
	}

	w.table = debounce.New(window, combine, w.emit)

	if err := w.addDirsRecursively(vaultRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// addDirsRecursively registers every directory under root with
// fsnotify; new subdirectories created later are picked up as Create
// events in Run and added on the fly.
func (w *Watcher) addDirsRecursively(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".git") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeInternal, "register vault directories")
	}
	return nil
}

// combine implements spec.md §4.3's coalescing rules: repeated writes
// collapse to one change; add+unlink cancels; unlink+add becomes change.
func combine(existing, incoming Event) (Event, bool) {
	switch {
	case existing.Kind == KindAdd && incoming.Kind == KindUnlink:
		return Event{}, false
	case existing.Kind == KindUnlink && incoming.Kind == KindAdd:
		return Event{Kind: KindChange, AbsolutePath: incoming.AbsolutePath, RelativePath: incoming.RelativePath}, true
	default:
		return incoming, true
	}
}

func (w *Watcher) emit(key string, value Event) {
	// Try the send on its own first: once Stop has closed stopped, a
	// select over both cases picks at random and could drop an event
	// flushed during shutdown while the channel still has room.
	select {
	case w.events <- value:
		return
	default:
	}
	select {
	case w.events <- value:
	case <-w.stopped:
	}
}

// Events returns the channel of coalesced events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)

	for _, pattern := range w.patterns {
		// Patterns are conventionally "**/*.ext"; since every watched
		// directory is registered individually, matching the basename
		// against the part after "**/" is sufficient.
		baseGlob := strings.TrimPrefix(pattern, "**/")
		if matched, _ := filepath.Match(baseGlob, base); matched {
			return true
		}
	}
	return false
}

// Run drains fsnotify events into the debounce table until ctx is
// cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Warnw("fsnotify error", "error", err)
			}
		case <-ctx.Done():
			return nil
		case <-w.stopped:
			return nil
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if !w.matches(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	var kind Kind
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			w.fsw.Add(ev.Name)
			return
		}
		kind = KindAdd
	case ev.Op&fsnotify.Write != 0:
		kind = KindChange
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		kind = KindUnlink
	default:
		return
	}

	w.table.Update(rel, Event{Kind: kind, AbsolutePath: ev.Name, RelativePath: rel})
}

// Stop releases the fsnotify handle, drains pending debounced events
// (flushing them), and returns within ~100ms as spec.md §4.3 requires.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopped)
		w.table.Stop()
		w.fsw.Close()
	})
}
