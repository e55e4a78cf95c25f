// Package watch turns a directory of module sources into change notifications.
//
// A Watcher scans the directory once on start, then watches it with fsnotify.
// File events are debounced per path; when a path settles the directory is
// rescanned and the records whose hash changed are emitted as one change
// message. A record that fails the syntax check produces an error message
// instead and holds back the whole change until it is fixed.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
)

// Watcher watches a module source directory.
type Watcher struct {
	config  *config.Config
	dir     string
	ext     string
	watcher *fsnotify.Watcher
	emit    func(protocol.Message)
	// Check, when set, validates a changed record before it is emitted.
	Check func(r *module.Record) error

	// Symlink tracking
	symlinkTargets map[string]string // module file path -> resolved target dir
	watchedDirs    map[string]int    // dir path -> reference count
	mu             sync.Mutex

	// Debouncing
	pending       map[string]time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	current   module.RecordSet
	currentMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for the configured source directory. emit receives
// every change and error message.
func New(cfg *config.Config, emit func(protocol.Message)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	delay := cfg.Source.Debounce.Duration()
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Watcher{
		config:         cfg,
		dir:            filepath.Clean(cfg.SourceDir()),
		ext:            cfg.Source.Ext,
		watcher:        watcher,
		emit:           emit,
		symlinkTargets: make(map[string]string),
		watchedDirs:    make(map[string]int),
		pending:        make(map[string]time.Time),
		debounceDelay:  delay,
		current:        make(module.RecordSet),
		done:           make(chan struct{}),
	}, nil
}

// Dir returns the watched source directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start scans the directory and begins watching for file changes.
func (w *Watcher) Start() error {
	set, err := Scan(w.dir, w.ext)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	w.currentMu.Lock()
	w.current = set
	w.currentMu.Unlock()

	if err := w.watchTree(); err != nil {
		return err
	}

	go w.eventLoop()
	go w.debounceLoop()

	w.config.Log(1, "Watcher: watching %s for changes (%d modules)", w.dir, len(set))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// Snapshot returns the last emitted record set.
func (w *Watcher) Snapshot() module.RecordSet {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()
	out := make(module.RecordSet, len(w.current))
	for id, r := range w.current {
		out[id] = r
	}
	return out
}

// watchTree watches the source directory, its subdirectories and the
// directories of symlinked module files.
func (w *Watcher) watchTree() error {
	return filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		if strings.HasSuffix(d.Name(), w.ext) {
			w.updateSymlinkWatch(path)
		}
		return nil
	})
}

// updateSymlinkWatch checks if a file is a symlink and updates watches accordingly.
func (w *Watcher) updateSymlinkWatch(filePath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Lstat(filePath)
	if err != nil {
		return
	}

	if oldTarget, ok := w.symlinkTargets[filePath]; ok {
		w.removeWatchLocked(oldTarget)
		delete(w.symlinkTargets, filePath)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(filePath)
		if err != nil {
			w.config.Log(2, "Watcher: cannot resolve symlink %s: %v", filePath, err)
			return
		}
		targetDir := filepath.Dir(target)
		w.symlinkTargets[filePath] = targetDir
		w.addWatchLocked(targetDir)
		w.config.Log(2, "Watcher: watching symlink target dir %s for %s", targetDir, filePath)
	}
}

func (w *Watcher) removeSymlinkWatch(filePath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if targetDir, ok := w.symlinkTargets[filePath]; ok {
		w.removeWatchLocked(targetDir)
		delete(w.symlinkTargets, filePath)
	}
}

func (w *Watcher) addWatch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addWatchLocked(dir)
}

func (w *Watcher) addWatchLocked(dir string) error {
	w.watchedDirs[dir]++
	if w.watchedDirs[dir] == 1 {
		if err := w.watcher.Add(dir); err != nil {
			w.watchedDirs[dir]--
			return err
		}
		w.config.Log(3, "Watcher: added watch for %s", dir)
	}
	return nil
}

func (w *Watcher) removeWatchLocked(dir string) {
	w.watchedDirs[dir]--
	if w.watchedDirs[dir] <= 0 {
		w.watcher.Remove(dir)
		delete(w.watchedDirs, dir)
		w.config.Log(3, "Watcher: removed watch for %s", dir)
	}
}

// eventLoop processes file system events.
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Log(1, "Watcher: watcher error: %v", err)
		}
	}
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatch(event.Name); err != nil {
				w.config.Log(1, "Watcher: cannot watch %s: %v", event.Name, err)
			}
			w.queue(event.Name)
			return
		}
	}
	if !strings.HasSuffix(event.Name, w.ext) {
		return
	}

	w.config.Log(3, "Watcher: event %s on %s", event.Op, event.Name)

	switch {
	case event.Op&fsnotify.Create != 0:
		w.updateSymlinkWatch(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.removeSymlinkWatch(event.Name)
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.queue(event.Name)
	}
}

// queue marks a path changed, restarting its debounce delay.
func (w *Watcher) queue(path string) {
	w.debounceMu.Lock()
	w.pending[path] = time.Now()
	w.debounceMu.Unlock()
}

// debounceLoop processes pending changes after the debounce delay.
func (w *Watcher) debounceLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending rescans once when any pending path has settled.
func (w *Watcher) processPending() {
	w.debounceMu.Lock()
	now := time.Now()
	due := 0
	for path, queuedAt := range w.pending {
		if now.Sub(queuedAt) >= w.debounceDelay {
			due++
			delete(w.pending, path)
		}
	}
	w.debounceMu.Unlock()

	if due > 0 {
		w.Rescan()
	}
}

// Rescan reads the directory and emits the records that changed since the
// last emission. It recovers panics from the check hook.
func (w *Watcher) Rescan() {
	defer func() {
		if r := recover(); r != nil {
			w.config.Log(0, "Watcher: PANIC during rescan of %s: %v", w.dir, r)
		}
	}()

	set, err := Scan(w.dir, w.ext)
	if err != nil {
		w.config.Log(0, "Watcher: scan failed: %v", err)
		w.emit(protocol.NewError(err.Error()))
		return
	}

	w.currentMu.Lock()
	prev := w.current
	w.currentMu.Unlock()

	for id := range prev {
		if _, ok := set[id]; !ok {
			w.config.Log(2, "Watcher: module %s was removed, attached engines keep its last record", id)
		}
	}

	changed := Diff(prev, set)
	if len(changed) == 0 {
		w.config.Log(3, "Watcher: no module changed")
		return
	}
	if w.Check != nil {
		for _, id := range changed.IDs() {
			if err := w.Check(changed[id]); err != nil {
				w.config.Log(0, "Watcher: %s: %v", id, err)
				w.emit(protocol.NewError(fmt.Sprintf("%s: %v", id, err)))
				return
			}
		}
	}

	msg, err := protocol.NewChange(changed)
	if err != nil {
		w.config.Log(0, "Watcher: encode change: %v", err)
		return
	}
	w.currentMu.Lock()
	w.current = set
	w.currentMu.Unlock()

	w.config.Log(1, "Watcher: %d module(s) changed: %s", len(changed), strings.Join(changed.IDs(), ", "))
	w.emit(msg)
}
