package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/zot/hotmod/internal/module"
)

// Exports is the Go view of a Lua exports table. Every field is a binding;
// non-string keys are named by their string form.
type Exports struct {
	Table *lua.LTable
	rt    *Runtime
}

var _ module.Bindings = (*Exports)(nil)

// Range calls fn for every field of the table.
func (e *Exports) Range(fn func(name string, v module.Value) bool) {
	stop := false
	e.Table.ForEach(func(k, v lua.LValue) {
		if stop {
			return
		}
		if !fn(k.String(), module.Value{Data: v, Transparent: e.rt.Transparent(v)}) {
			stop = true
		}
	})
}

// Get returns the Go value of a field.
func (e *Exports) Get(name string) any {
	return ToGo(e.Table.RawGetString(name))
}

func (r *Runtime) exportValue(v lua.LValue) module.Value {
	if r.Transparent(v) {
		return module.Transparent(v)
	}
	if t, ok := v.(*lua.LTable); ok {
		return module.Plain(&Exports{Table: t, rt: r})
	}
	return module.Plain(v)
}

// toLua converts exports handed out by the engine into Lua values. Lua
// exports keep their identity; Go-native exports are copied.
func (r *Runtime) toLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case *Exports:
		return x.Table
	case lua.LValue:
		return x
	case module.Value:
		return r.toLua(x.Data)
	case *module.Object:
		t := r.State.NewTable()
		x.Range(func(name string, b module.Value) bool {
			t.RawSetString(name, r.toLua(b.Data))
			return true
		})
		return t
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(float64(x))
	case int64:
		return lua.LNumber(float64(x))
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := r.State.NewTable()
		for _, item := range x {
			t.Append(r.toLua(item))
		}
		return t
	case map[string]any:
		t := r.State.NewTable()
		for k, item := range x {
			t.RawSetString(k, r.toLua(item))
		}
		return t
	case func(...any) (any, error):
		return r.State.NewFunction(func(L *lua.LState) int {
			args := make([]any, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				args = append(args, ToGo(L.Get(i)))
			}
			out, err := x(args...)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			L.Push(r.toLua(out))
			return 1
		})
	default:
		ud := r.State.NewUserData()
		ud.Value = v
		return ud
	}
}

// ToGo converts a Lua value to Go for inspection.
// Fields prefixed with "_" are skipped.
func ToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = ToGo(v.RawGetInt(i))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			if ks, ok := key.(lua.LString); ok && (len(ks) == 0 || ks[0] != '_') {
				m[string(ks)] = ToGo(value)
			}
		})
		return m
	case *lua.LFunction:
		return fmt.Sprintf("function: %p", v)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// Describe renders exports of any engine module for display.
func Describe(data any) any {
	switch x := data.(type) {
	case *Exports:
		return ToGo(x.Table)
	case lua.LValue:
		return ToGo(x)
	case *module.Object:
		out := make(map[string]any, x.Len())
		x.Range(func(name string, v module.Value) bool {
			out[name] = Describe(v.Data)
			return true
		})
		return out
	default:
		return x
	}
}
