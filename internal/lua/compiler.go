package lua

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/zot/hotmod/internal/module"
)

// TransparentMarker is the call that marks a value reload-transparent in
// module source. Its presence in a source enables transform detection.
const TransparentMarker = "transparent("

// chunkName names a compiled chunk after its module id and source map.
func chunkName(r *module.Record) string {
	if r.Meta.SourceMap != "" {
		return r.ID + " (" + r.Meta.SourceMap + ")"
	}
	return r.ID
}

// CompileProto parses and compiles a module source without touching any
// Lua state.
func CompileProto(r *module.Record) (*lua.FunctionProto, error) {
	name := chunkName(r)
	chunk, err := parse.Parse(strings.NewReader(r.Source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}

// Compile turns a Lua module record into a factory that runs in r's state.
func (r *Runtime) Compile(rec *module.Record) (module.Factory, error) {
	proto, err := CompileProto(rec)
	if err != nil {
		return nil, err
	}
	id := rec.ID
	return func(s *module.Scope) error {
		return r.run(id, proto, s)
	}, nil
}
