package templates

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// settle before reporting.
const DefaultDebounce = 100 * time.Millisecond

// ChangeHandler receives the template names touched in one debounce window,
// sorted and deduplicated.
type ChangeHandler func(names []string)

// Watcher reports template files that are created, written, removed or
// renamed.
type Watcher struct {
	dir      *Dir
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over d. A zero debounce uses DefaultDebounce.
func NewWatcher(d *Dir, handler ChangeHandler, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		dir:      d,
		watcher:  fw,
		handler:  handler,
		debounce: debounce,
		logger:   logger,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered;
// events are delivered until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir.Root(), err)
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !isTemplateFile(name) || event.Op == fsnotify.Chmod {
				continue
			}
			select {
			case w.changes <- name:
			default:
				w.logger.Warn("template change buffer full, dropping event", "name", name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var pending []string
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case name := <-w.changes:
			pending = append(pending, name)
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			slices.Sort(pending)
			batch := slices.Compact(pending)
			pending = nil
			w.logger.Debug("templates changed", "names", batch)
			w.handler(batch)
		}
	}
}
