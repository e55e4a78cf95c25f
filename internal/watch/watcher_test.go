package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
)

// recorder collects emitted messages.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) emit(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

// waitFor polls until n messages arrived or the deadline passes.
func (r *recorder) waitFor(t *testing.T, n int) []protocol.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := r.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %d", n, len(r.messages()))
	return nil
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logging.Verbosity = 0
	cfg.Source.Dir = dir
	cfg.Source.Debounce = config.Duration(50 * time.Millisecond)
	return cfg
}

func startWatcher(t *testing.T, dir string) (*Watcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	w, err := New(testConfig(dir), rec.emit)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, rec
}

// primeWithoutWatching loads the initial set without starting the event
// loops, so Rescan is the only source of messages.
func primeWithoutWatching(t *testing.T, w *Watcher) {
	t.Helper()
	set, err := Scan(w.dir, w.ext)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	w.current = set
}

// === Initialization Tests ===

func TestStartScansWithoutEmitting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")

	w, rec := startWatcher(t, dir)
	if len(w.Snapshot()) != 1 {
		t.Errorf("expected one module in snapshot, got %v", w.Snapshot().IDs())
	}
	if w.watchedDirs[w.Dir()] != 1 {
		t.Errorf("source dir not watched: %v", w.watchedDirs)
	}
	time.Sleep(150 * time.Millisecond)
	if n := len(rec.messages()); n != 0 {
		t.Errorf("start should not emit, got %d messages", n)
	}
}

func TestStartMissingDir(t *testing.T) {
	w, err := New(testConfig(filepath.Join(t.TempDir(), "nope")), func(protocol.Message) {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Error("expected error for missing directory")
	}
}

// === File Watching Tests ===

func TestDetectModification(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")
	writeFile(t, filepath.Join(dir, "other.lua"), "return 2")
	_, rec := startWatcher(t, dir)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "main.lua"), "return 3")

	msgs := rec.waitFor(t, 1)
	if msgs[0].Type != protocol.MsgChange {
		t.Fatalf("expected change message, got %s", msgs[0].Type)
	}
	set, err := msgs[0].Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(set) != 1 || set["main"] == nil || set["main"].Source != "return 3" {
		t.Errorf("expected only main with new source, got %v", set.IDs())
	}
}

func TestDetectNewSubdirectoryModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")
	_, rec := startWatcher(t, dir)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "lib", "util.lua"), "return {}")

	msgs := rec.waitFor(t, 1)
	set, _ := msgs[len(msgs)-1].Records()
	if set["lib/util"] == nil {
		t.Errorf("expected lib/util in change, got %v", set.IDs())
	}
}

func TestIgnoreOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")
	_, rec := startWatcher(t, dir)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "notes.txt"), "hi")
	time.Sleep(250 * time.Millisecond)

	if n := len(rec.messages()); n != 0 {
		t.Errorf("expected no messages for non-module files, got %d", n)
	}
}

func TestDebounceRapidChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 0")
	_, rec := startWatcher(t, dir)

	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= 5; i++ {
		writeFile(t, filepath.Join(dir, "main.lua"), "return "+string(rune('0'+i)))
		time.Sleep(10 * time.Millisecond)
	}
	rec.waitFor(t, 1)
	time.Sleep(250 * time.Millisecond)

	if n := len(rec.messages()); n != 1 {
		t.Errorf("expected rapid writes to coalesce into 1 message, got %d", n)
	}
}

func TestCheckFailureEmitsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")
	rec := &recorder{}
	w, _ := New(testConfig(dir), rec.emit)
	w.Check = func(r *module.Record) error {
		if r.Source == "bad" {
			return errors.New("syntax error")
		}
		return nil
	}
	defer w.Stop()
	primeWithoutWatching(t, w)

	writeFile(t, filepath.Join(dir, "main.lua"), "bad")
	w.Rescan()
	msgs := rec.messages()
	if len(msgs) != 1 || !msgs[0].IsError() {
		t.Fatalf("expected one error message, got %+v", msgs)
	}
	if msgs[0].ErrorText() != "main: syntax error" {
		t.Errorf("unexpected error text %q", msgs[0].ErrorText())
	}

	// The fix is emitted because the broken state was never recorded.
	writeFile(t, filepath.Join(dir, "main.lua"), "return 2")
	w.Rescan()
	msgs = rec.messages()
	if len(msgs) != 2 || msgs[1].Type != protocol.MsgChange {
		t.Fatalf("expected change after fix, got %+v", msgs)
	}
}

func TestRemovedModuleNotEmitted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), "return 1")
	writeFile(t, filepath.Join(dir, "gone.lua"), "return 2")
	rec := &recorder{}
	w, _ := New(testConfig(dir), rec.emit)
	defer w.Stop()
	primeWithoutWatching(t, w)

	os.Remove(filepath.Join(dir, "gone.lua"))
	w.Rescan()
	if n := len(rec.messages()); n != 0 {
		t.Errorf("removal alone should not emit, got %d", n)
	}
	if _, ok := w.Snapshot()["gone"]; !ok {
		t.Error("snapshot should still hold the last emitted set")
	}
}

// === Shutdown Tests ===

func TestStopTwice(t *testing.T) {
	dir := t.TempDir()
	w, _ := startWatcher(t, dir)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
