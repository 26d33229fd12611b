// Package watch observes the document root for changes.
//
// Changes are debounced and reported through a callback, which the server
// forwards to connected control clients so they can refresh their view of
// the shared tree.
package watch

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces event bursts (editors often write a file
// several times in quick succession) into a single notification.
const debounceInterval = 200 * time.Millisecond

// ChangeHandler receives the path of a changed file, relative to the
// watched root when possible.
type ChangeHandler func(path string)

// Watcher watches a directory tree recursively for changes.
type Watcher struct {
	root    string
	handler ChangeHandler

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the given root directory.
// The handler runs on the watcher goroutine; it must not block.
func NewWatcher(root string, handler ChangeHandler) *Watcher {
	return &Watcher{root: root, handler: handler}
}

// Start begins watching the root and all its subdirectories.
// Directories created later are picked up as they appear.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.root); err != nil {
		watcher.Close()
		return err
	}

	for _, dir := range collectDirectories(w.root) {
		if err := watcher.Add(dir); err != nil {
			log.Printf("watch: cannot watch %s: %v", dir, err)
		}
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true

	go w.loop(watcher, w.done)

	log.Printf("watch: watching %s", w.root)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.done)
	w.watcher.Close()
	w.watcher = nil
	w.running = false
}

// loop consumes fsnotify events, maintains directory subscriptions, and
// fires the debounced change handler.
func (w *Watcher) loop(watcher *fsnotify.Watcher, done chan struct{}) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		lastMu  sync.Mutex
		last    string
	)

	fire := func(path string) {
		lastMu.Lock()
		last = path
		lastMu.Unlock()
		if timer == nil {
			timer = time.NewTimer(debounceInterval)
			timerCh = timer.C
		} else {
			timer.Reset(debounceInterval)
		}
	}

	for {
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}

			// Newly created directories need their own subscription.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Printf("watch: cannot watch new directory %s: %v", event.Name, err)
					}
				}
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				fire(event.Name)
			}

		case <-timerCh:
			lastMu.Lock()
			path := last
			lastMu.Unlock()
			if rel, err := filepath.Rel(w.root, path); err == nil {
				path = rel
			}
			if w.handler != nil {
				w.handler(path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

// collectDirectories walks the tree and returns subdirectories to watch,
// skipping dot-directories (.git and friends).
func collectDirectories(root string) []string {
	var dirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() || path == root {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}
