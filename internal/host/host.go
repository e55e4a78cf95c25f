// Package host runs a hot-reload engine on a Lua runtime.
//
// The engine, the runtime, and the reload journal are owned by one executor
// goroutine. Every entry point hands its work to that goroutine and waits,
// so change notifications, inspection, and startup never interleave.
package host

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/engine"
	"github.com/zot/hotmod/internal/lua"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
	"github.com/zot/hotmod/internal/server"
	"github.com/zot/hotmod/internal/storage"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("host closed")

// ModuleInfo describes one managed module.
type ModuleInfo struct {
	ID     string            `json:"id"`
	Hash   string            `json:"hash"`
	Deps   map[string]string `json:"deps,omitempty"`
	Loaded bool              `json:"loaded"`
	// Exports is the plain Go rendition of the live exports. Only set by Module.
	Exports any `json:"exports,omitempty"`
}

// Host owns an engine and serialises access to it.
type Host struct {
	config  *config.Config
	svc     server.ChanSvc
	engine  *engine.Engine
	runtime *lua.Runtime
	journal storage.Backend
	exports any
	started bool

	// mu guards closed; callers hold it shared while their work runs.
	mu     sync.RWMutex
	closed bool
}

// hostSync runs code on the host's executor and waits for the result.
func hostSync[T any](h *Host, code func() (T, error)) (T, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		var zero T
		return zero, ErrClosed
	}
	return server.SvcSync(h.svc, code)
}

// New creates a host with a fresh Lua runtime. journal may be nil.
func New(cfg *config.Config, journal storage.Backend) (*Host, error) {
	rt := lua.NewRuntime(cfg)
	opts := engine.Options{
		Entry:           cfg.Engine.Entry,
		HostModulesRoot: cfg.Engine.HostModulesRoot,
		Compiler:        rt,
		Host:            rt.Resolve,
		Logger:          cfg,
	}
	if cfg.Engine.DetectTransparent {
		opts.TransformMarker = lua.TransparentMarker
	}
	eng, err := engine.New(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	h := &Host{
		config:  cfg,
		svc:     make(server.ChanSvc),
		engine:  eng,
		runtime: rt,
		journal: journal,
	}
	server.RunSvc(h.svc)
	return h, nil
}

// Start installs set and instantiates the entry module.
func (h *Host) Start(set module.RecordSet) (any, error) {
	return hostSync(h, func() (any, error) {
		return h.start(set)
	})
}

func (h *Host) start(set module.RecordSet) (any, error) {
	if h.started {
		return nil, fmt.Errorf("host already started")
	}
	entry := storage.NewEntry(storage.KindStart)
	entry.Added = set.IDs()
	ierr := h.engine.Install(set)
	exports, err := h.engine.Start()
	err = errors.Join(ierr, err)
	if err != nil {
		entry.Failed = true
		entry.Error = err.Error()
	}
	h.record(entry)
	if err != nil && exports == nil {
		return nil, err
	}
	h.started = true
	h.exports = exports
	modulesLoaded.Set(float64(len(h.engine.Loaded())))
	h.config.Log(1, "Started %s with %d modules", h.engine.Entry(), len(set))
	return exports, err
}

// Submit applies one change notification. The first change a host that
// has not started receives is treated as its initial record set.
func (h *Host) Submit(msg protocol.Message) (engine.Report, error) {
	return hostSync(h, func() (engine.Report, error) {
		return h.submit(msg)
	})
}

func (h *Host) submit(msg protocol.Message) (engine.Report, error) {
	if !h.started && !msg.IsError() {
		set, err := msg.Records()
		if err != nil {
			return engine.Report{}, err
		}
		_, err = h.start(set)
		return engine.Report{Added: h.engine.Loaded()}, err
	}
	began := time.Now()
	report, err := h.engine.HandleMessage(msg)
	observe(report, err, time.Since(began), len(h.engine.Loaded()))
	if m, ok := h.engine.Cached(h.engine.Entry()); ok {
		h.exports = m.Exports().Data
	}
	if entry := journalEntry(report, err); entry != nil {
		h.record(entry)
	}
	if report.Changed() || report.Failed {
		h.config.Log(1, "Reload: %s", report.Summary())
	}
	return report, err
}

// journalEntry converts a pass into a journal entry. Passes that did
// nothing produce no entry.
func journalEntry(report engine.Report, err error) *storage.Entry {
	var entry *storage.Entry
	switch {
	case report.BuildError != "":
		entry = storage.NewEntry(storage.KindBuildError)
		entry.Error = report.BuildError
		return entry
	case report.Changed() || report.Failed:
		entry = storage.NewEntry(storage.KindReload)
	case err != nil:
		entry = storage.NewEntry(storage.KindCompileError)
	default:
		return nil
	}
	entry.Added = report.Added
	entry.Reloaded = report.Reloaded
	entry.Accepted = report.Accepted
	entry.Failed = report.Failed
	entry.Restored = report.Restored
	if err == nil {
		err = report.Err
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

func (h *Host) record(entry *storage.Entry) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Append(entry); err != nil {
		h.config.Log(0, "Journal append failed: %v", err)
		return
	}
	if keep := h.config.Storage.History; keep > 0 {
		if err := h.journal.Prune(keep); err != nil {
			h.config.Log(0, "Journal prune failed: %v", err)
		}
	}
}

// Exports returns the entry module's current exports.
func (h *Host) Exports() any {
	v, _ := hostSync(h, func() (any, error) {
		return h.exports, nil
	})
	return v
}

// State returns the engine's reload state.
func (h *Host) State() engine.State {
	v, _ := hostSync(h, func() (engine.State, error) {
		return h.engine.State(), nil
	})
	return v
}

// Started reports whether the entry module has been instantiated.
func (h *Host) Started() bool {
	v, _ := hostSync(h, func() (bool, error) {
		return h.started, nil
	})
	return v
}

// Modules lists the managed modules in id order.
func (h *Host) Modules() []ModuleInfo {
	v, _ := hostSync(h, func() ([]ModuleInfo, error) {
		records := h.engine.Records()
		out := make([]ModuleInfo, 0)
		for _, id := range records.IDs() {
			r, _ := records.Record(id)
			out = append(out, h.info(r))
		}
		return out, nil
	})
	return v
}

// Module describes one module including its live exports.
func (h *Host) Module(id string) (ModuleInfo, error) {
	return hostSync(h, func() (ModuleInfo, error) {
		r, ok := h.engine.Record(id)
		if !ok {
			return ModuleInfo{}, module.ModuleNotFoundError{ID: id}
		}
		info := h.info(r)
		if m, ok := h.engine.Cached(id); ok {
			info.Exports = lua.Describe(m.Exports().Data)
		}
		return info, nil
	})
}

func (h *Host) info(r *module.Record) ModuleInfo {
	_, loaded := h.engine.Cached(r.ID)
	return ModuleInfo{ID: r.ID, Hash: r.Meta.Hash, Deps: r.Deps, Loaded: loaded}
}

// Loaded returns the ids with a live cache entry, sorted.
func (h *Host) Loaded() []string {
	v, _ := hostSync(h, func() ([]string, error) {
		ids := h.engine.Loaded()
		sort.Strings(ids)
		return ids, nil
	})
	return v
}

// History returns up to limit journal entries, newest first.
func (h *Host) History(limit int) ([]*storage.Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.journal == nil {
		return nil, nil
	}
	return h.journal.Recent(limit)
}

// Close stops the executor and releases the runtime and journal. Calls
// after the first return nil.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	_, err := server.SvcSync(h.svc, func() (bool, error) {
		h.runtime.Close()
		if h.journal != nil {
			return true, h.journal.Close()
		}
		return true, nil
	})
	close(h.svc)
	return err
}
