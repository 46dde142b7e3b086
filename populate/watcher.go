package populate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long file events are coalesced before the
// populator reruns.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher reruns a populator when its resource files change. Events are
// debounced so a burst of writes triggers a single run. The watcher
// logs rerun failures through the populator's logger and keeps
// watching.
type Watcher struct {
	populator *Populator
	debounce  time.Duration

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher builds a watcher over p's resources.
func NewWatcher(p *Populator, opts ...WatcherOption) *Watcher {
	w := &Watcher{populator: p, debounce: defaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the directories holding the populator's
// resources. It returns once watching is established; reruns happen on
// a background goroutine until Stop is called or ctx is done. Stop must
// be called either way to release the watcher.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("populate: watcher already started")
	}

	files, err := w.populator.expand()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("populate: no resources to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	dirs := make(map[string]struct{})
	for _, file := range files {
		dirs[filepath.Dir(file)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return fmt.Errorf("populate: watch %s: %w", dir, err)
		}
	}

	w.fw = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.loop(ctx)

	w.populator.logger.Info("watching fixture resources",
		"directories", len(dirs), "files", len(files))
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()
	<-done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			pending++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.populator.logger.Error("resource watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.populator.logger.Info("resources changed, repopulating", "events", pending)
			pending = 0
			if err := w.populator.Run(ctx); err != nil {
				w.populator.logger.Error("repopulation failed", "error", err)
			}
		}
	}
}

// relevant filters events down to content changes of registered
// resources. Renames are included because editors replace files by
// writing a temporary and renaming it over the original.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return w.populator.matches(event.Name)
}
