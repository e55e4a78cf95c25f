package engine

import (
	"fmt"

	"github.com/zot/hotmod/internal/module"
)

// Load returns the exports of id, instantiating the module if it has no
// cache entry. Ids without a record go to the host resolver.
//
// The cache entry is created before the factory runs, so a module that is
// required again while it is still instantiating (a cycle) hands out its
// partial exports instead of being instantiated twice.
func (e *Engine) Load(id string) (any, error) {
	if m, ok := e.cache.Module(id); ok {
		return m.Exports().Data, nil
	}

	r, ok := e.records.Record(id)
	if !ok {
		if e.host != nil {
			return e.host(id)
		}
		return nil, module.ModuleNotFoundError{ID: id}
	}
	if !r.Compiled() {
		return nil, module.CompileError{ID: id, Err: fmt.Errorf("module has no factory")}
	}

	hook := e.hooks[id]
	m := module.NewModule(id, func(h module.ReloadHook) {
		e.hooks[id] = h
	})
	e.cache.Put(m)

	exports, _ := m.Exports().Data.(*module.Object)
	scope := &module.Scope{
		Require:    e.requireFrom(id),
		Module:     m,
		Exports:    exports,
		Unresolved: unresolved(id),
		Records:    e.records,
		Cache:      e.cache,
		Entries:    []string{e.entry},
	}
	if err := r.Factory(scope); err != nil {
		// Drop the half-built entry so a later require retries.
		if cur, ok := e.cache.Module(id); ok && cur == m {
			e.cache.Delete(id)
		}
		return nil, fmt.Errorf("instantiate %s: %w", id, err)
	}

	if e.reloading && hook != nil {
		accepted, err := hook()
		if err != nil {
			return nil, fmt.Errorf("reload hook of %s: %w", id, err)
		}
		// The entry may have been replaced by a nested reload; flag the live one.
		if cur, ok := e.cache.Module(id); ok {
			cur.SetAccepted(accepted)
		}
	}

	if cur, ok := e.cache.Module(id); ok {
		return cur.Exports().Data, nil
	}
	return m.Exports().Data, nil
}

// Require resolves path as the module from would and loads the target.
func (e *Engine) Require(from, path string) (any, error) {
	return e.requireFrom(from)(path)
}

// requireFrom binds require to the current dependency map of id.
func (e *Engine) requireFrom(id string) func(path string) (any, error) {
	return func(path string) (any, error) {
		target := path
		if r, ok := e.records.Record(id); ok {
			target = r.Resolve(path)
		}
		return e.Load(target)
	}
}

func unresolved(id string) func() error {
	return func() error {
		return fmt.Errorf("module %s hit an unsupported use of the module protocol", id)
	}
}
