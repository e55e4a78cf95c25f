// Package engine implements the module hot-reload engine.
//
// An Engine owns one Record Store and one Module Cache. Its Loader
// instantiates modules on demand, its Patcher diffs incoming record sets
// against the store by content hash, and its Reloader walks the dependency
// graph from the entry module re-instantiating whatever a change reaches,
// restoring the previous records when a reload fails.
//
// An Engine is single-threaded: callers must not use it from more than one
// goroutine at a time. The host package provides a serialising executor.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zot/hotmod/internal/module"
)

var (
	// ErrBroken is returned once a restore has failed. The process needs a restart.
	ErrBroken = errors.New("engine is broken after a failed restore, manual refresh required")
	// ErrReloadInProgress is returned when a reload is started from inside another one.
	ErrReloadInProgress = errors.New("reload already in progress")
)

// Compiler turns a record's raw source into an invocable factory.
// Implementations must not keep state between calls.
type Compiler interface {
	Compile(r *module.Record) (module.Factory, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(r *module.Record) (module.Factory, error)

// Compile calls f.
func (f CompilerFunc) Compile(r *module.Record) (module.Factory, error) {
	return f(r)
}

// HostResolver resolves ids that are not in the managed graph.
type HostResolver func(id string) (any, error)

// Logger receives verbosity-levelled log lines.
type Logger interface {
	Log(level int, format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Log(int, string, ...any) {}

// Options configures an Engine.
type Options struct {
	// Entry is the id of the root module.
	Entry string
	// HostModulesRoot is the id prefix of modules outside the managed graph.
	// Dependencies under it are never re-evaluated by a reload.
	HostModulesRoot string
	Compiler        Compiler
	// Host is consulted for ids that have no record. May be nil.
	Host   HostResolver
	Logger Logger
	// TransformMarker, when set, is looked for in module sources at install
	// time to report whether reload-transparent exports are in use.
	TransformMarker string
}

// State is the process-level reload state.
type State int

const (
	StateIdle State = iota
	StateReloading
	StateRestoring
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReloading:
		return "reloading"
	case StateRestoring:
		return "restoring"
	case StateFatal:
		return "fatal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Engine is the hot-reload engine.
type Engine struct {
	entry    string
	hostRoot string
	compiler Compiler
	host     HostResolver
	log      Logger
	marker   string

	records *module.Store
	cache   *module.Cache
	hooks   map[string]module.ReloadHook

	reloading bool
	state     State
}

// New creates an engine with empty record store and cache.
func New(opts Options) (*Engine, error) {
	if opts.Entry == "" {
		return nil, fmt.Errorf("new engine: entry module is empty")
	}
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	return &Engine{
		entry:    opts.Entry,
		hostRoot: opts.HostModulesRoot,
		compiler: opts.Compiler,
		host:     opts.Host,
		log:      log,
		marker:   opts.TransformMarker,
		records:  module.NewStore(),
		cache:    module.NewCache(),
		hooks:    make(map[string]module.ReloadHook),
	}, nil
}

// Entry returns the entry module id.
func (e *Engine) Entry() string {
	return e.entry
}

// State returns the process-level reload state.
func (e *Engine) State() State {
	return e.state
}

// Reloading reports whether a reload pass is running.
func (e *Engine) Reloading() bool {
	return e.reloading
}

// Records returns the record store for reading.
func (e *Engine) Records() module.RecordReader {
	return e.records
}

// Record returns the current record for id.
func (e *Engine) Record(id string) (*module.Record, bool) {
	return e.records.Record(id)
}

// Cached returns the live cache entry for id.
func (e *Engine) Cached(id string) (*module.Module, bool) {
	return e.cache.Module(id)
}

// Loaded returns the ids that currently have a cache entry.
func (e *Engine) Loaded() []string {
	return e.cache.IDs()
}

// Install compiles and stores the initial record set. Records that fail to
// compile are left out and reported in the returned error.
func (e *Engine) Install(set module.RecordSet) error {
	var errs []error
	for _, id := range set.IDs() {
		r, err := e.compile(id, set[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.records.Put(r)
	}
	if e.marker != "" {
		if e.transformDetected() {
			e.log.Log(1, "Reload-transparent exports detected. Ready to reload!")
		} else {
			e.log.Log(1, "No module uses %q; every change will propagate to its dependents", e.marker)
		}
	}
	return errors.Join(errs...)
}

// Start loads the entry module and returns its exports.
func (e *Engine) Start() (exports any, err error) {
	if e.state == StateFatal {
		return nil, ErrBroken
	}
	defer recoverPanic(&err)
	return e.Load(e.entry)
}

func (e *Engine) transformDetected() bool {
	for _, id := range e.records.IDs() {
		r, _ := e.records.Record(id)
		if strings.Contains(r.Meta.SourceText, e.marker) {
			return true
		}
	}
	return false
}

// compile returns a compiled copy of r stored under id. The input record is
// left untouched.
func (e *Engine) compile(id string, r *module.Record) (*module.Record, error) {
	if r == nil {
		return nil, module.CompileError{ID: id, Err: errors.New("record is nil")}
	}
	next := *r
	next.ID = id
	next.Deps = make(map[string]string, len(r.Deps))
	for k, v := range r.Deps {
		next.Deps[k] = v
	}
	if next.Factory != nil {
		return &next, nil
	}
	if e.compiler == nil {
		return nil, module.CompileError{ID: id, Err: errors.New("no compiler configured")}
	}
	e.log.Log(3, "Compiling module %s", id)
	factory, err := e.compiler.Compile(&next)
	if err != nil {
		return nil, module.CompileError{ID: id, Err: err}
	}
	next.Factory = factory
	next.Meta.SourceText = r.Source
	return &next, nil
}

// isLocal reports whether id belongs to the managed graph for propagation.
func (e *Engine) isLocal(id string) bool {
	return e.hostRoot == "" || !strings.HasPrefix(id, e.hostRoot)
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		if rerr, ok := r.(error); ok {
			*err = fmt.Errorf("panic: %w", rerr)
			return
		}
		*err = fmt.Errorf("panic: %v", r)
	}
}
