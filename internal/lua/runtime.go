// Package lua runs hot-reloadable Lua modules on gopher-lua.
//
// Each module source is compiled into a chunk that runs in its own
// environment. The environment exposes the factory protocol as globals:
//
//	require(path)      load a dependency through the module's dependency map
//	module             the cache entry: module.id, module.exports, module.onReload(fn)
//	exports            the initial exports table
//	transparent(v)     mark a table, function or userdata reload-transparent
//	unresolved()       raise the unsupported-protocol error
//	records            id -> hash of every known module
//	cache(id)          the loaded exports of id, or nil
//	entries            the entry module ids
//
// A chunk that returns a non-nil value exports it, otherwise module.exports
// is used.
package lua

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/zot/hotmod/internal/engine"
	"github.com/zot/hotmod/internal/module"
)

// Runtime owns one Lua state shared by all modules of an engine.
// It is not safe for concurrent use; the engine's executor serialises access.
type Runtime struct {
	State *lua.LState
	log   engine.Logger
	// marks holds values tagged reload-transparent.
	marks map[lua.LValue]struct{}
	// owned records which module's factory marked each value, so a
	// reinstantiation can drop the marks its old instance left behind.
	owned   map[string]map[lua.LValue]struct{}
	running []string
}

var _ engine.Compiler = (*Runtime)(nil)

// NewRuntime creates a Lua state with the standard libraries and the hot
// global table. Output from print goes to log at level 1.
func NewRuntime(log engine.Logger) *Runtime {
	L := lua.NewState()
	r := &Runtime{
		State: L,
		log:   log,
		marks: make(map[lua.LValue]struct{}),
		owned: make(map[string]map[lua.LValue]struct{}),
	}
	r.registerPrint()
	r.registerHot()
	return r
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	r.State.Close()
}

// Log logs through the runtime's logger.
func (r *Runtime) Log(level int, format string, args ...any) {
	if r.log != nil {
		r.log.Log(level, format, args...)
	}
}

// Resolve is the host fallback for ids outside the managed graph. It hands
// out Lua globals, so require("string") yields the string library.
func (r *Runtime) Resolve(id string) (any, error) {
	v := r.State.GetGlobal(id)
	if v == lua.LNil {
		return nil, module.ModuleNotFoundError{ID: id}
	}
	return v, nil
}

// Transparent reports whether v was tagged reload-transparent.
func (r *Runtime) Transparent(v lua.LValue) bool {
	_, ok := r.marks[v]
	return ok
}

func (r *Runtime) registerPrint() {
	r.State.SetGlobal("print", r.State.NewFunction(func(L *lua.LState) int {
		r.Log(1, "%s", joinArgs(L))
		return 0
	}))
}

// registerHot adds the hot.* API to Lua.
func (r *Runtime) registerHot() {
	L := r.State
	hot := L.NewTable()
	L.SetField(hot, "transparent", L.NewFunction(r.luaTransparent))
	L.SetField(hot, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckInt(1)
		L.Remove(1)
		r.Log(level, "%s", joinArgs(L))
		return 0
	}))
	L.SetGlobal("hot", hot)
}

func (r *Runtime) luaTransparent(L *lua.LState) int {
	v := L.CheckAny(1)
	switch v.(type) {
	case *lua.LTable, *lua.LFunction, *lua.LUserData:
		r.marks[v] = struct{}{}
		if n := len(r.running); n > 0 {
			r.owned[r.running[n-1]][v] = struct{}{}
		}
	default:
		L.ArgError(1, "only tables, functions and userdata can be reload-transparent")
		return 0
	}
	L.Push(v)
	return 1
}

func joinArgs(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, "\t")
}

// run invokes a compiled chunk as the factory of id.
func (r *Runtime) run(id string, proto *lua.FunctionProto, s *module.Scope) error {
	L := r.State
	prev := r.owned[id]
	r.owned[id] = make(map[lua.LValue]struct{})
	r.running = append(r.running, id)
	defer func() { r.running = r.running[:len(r.running)-1] }()

	exports := L.NewTable()
	s.Module.SetExports(r.exportValue(exports))

	var requireErr error
	modTable := r.moduleTable(s, exports)
	env := L.NewTable()
	env.RawSetString("require", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		v, err := s.Require(path)
		if err != nil {
			requireErr = err
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(r.toLua(v))
		return 1
	}))
	env.RawSetString("module", modTable)
	env.RawSetString("exports", exports)
	env.RawSetString("transparent", L.NewFunction(r.luaTransparent))
	env.RawSetString("unresolved", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%v", s.Unresolved())
		return 0
	}))
	env.RawSetString("records", r.recordsTable(s.Records))
	env.RawSetString("cache", L.NewFunction(func(L *lua.LState) int {
		m, ok := s.Cache.Module(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(r.toLua(m.Exports().Data))
		return 1
	}))
	entries := L.NewTable()
	for _, e := range s.Entries {
		entries.Append(lua.LString(e))
	}
	env.RawSetString("entries", entries)
	meta := L.NewTable()
	meta.RawSetString("__index", L.G.Global)
	L.SetMetatable(env, meta)

	fn := L.NewFunctionFromProto(proto)
	fn.Env = env
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		// The previous instance is still live until a later run replaces it.
		for v := range prev {
			r.owned[id][v] = struct{}{}
		}
		if requireErr != nil {
			return fmt.Errorf("run %s: %w", id, errors.Join(err, requireErr))
		}
		return fmt.Errorf("run %s: %w", id, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	result := L.GetField(modTable, "exports")
	if ret != lua.LNil {
		result = ret
	}
	r.release(id, prev, result)
	s.Module.SetExports(r.exportValue(result))
	return nil
}

// release drops the marks of id's previous instance that the new instance
// neither marked again nor exports. A value still owned by another module
// keeps its mark.
func (r *Runtime) release(id string, prev map[lua.LValue]struct{}, result lua.LValue) {
	if len(prev) == 0 {
		return
	}
	live := map[lua.LValue]struct{}{result: {}}
	if t, ok := result.(*lua.LTable); ok {
		t.ForEach(func(_, v lua.LValue) { live[v] = struct{}{} })
	}
	cur := r.owned[id]
	for v := range prev {
		if _, ok := live[v]; ok {
			cur[v] = struct{}{}
			continue
		}
		if _, ok := cur[v]; ok || r.ownedElsewhere(id, v) {
			continue
		}
		delete(r.marks, v)
	}
}

func (r *Runtime) ownedElsewhere(id string, v lua.LValue) bool {
	for other, set := range r.owned {
		if other == id {
			continue
		}
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// moduleTable builds the Lua view of a cache entry.
func (r *Runtime) moduleTable(s *module.Scope, exports *lua.LTable) *lua.LTable {
	L := r.State
	t := L.NewTable()
	t.RawSetString("id", lua.LString(s.Module.ID))
	t.RawSetString("exports", exports)
	t.RawSetString("onReload", L.NewFunction(func(L *lua.LState) int {
		// Accept both module.onReload(fn) and module:onReload(fn).
		fn := L.Get(L.GetTop())
		hook, ok := fn.(*lua.LFunction)
		if !ok {
			L.ArgError(L.GetTop(), "function expected")
			return 0
		}
		s.Module.OnReload(func() (bool, error) {
			L.Push(hook)
			if err := L.PCall(0, 1, nil); err != nil {
				return false, err
			}
			// Only a literal true accepts; any other value leaves the
			// module marked changed.
			accepted := L.Get(-1) == lua.LTrue
			L.Pop(1)
			return accepted, nil
		})
		return 0
	}))
	return t
}

func (r *Runtime) recordsTable(records module.RecordReader) *lua.LTable {
	t := r.State.NewTable()
	if records == nil {
		return t
	}
	for _, id := range records.IDs() {
		if rec, ok := records.Record(id); ok {
			t.RawSetString(id, lua.LString(rec.Meta.Hash))
		}
	}
	return t
}
