package module

// Scope is what a factory is invoked with. The fields mirror the positional
// capabilities of the factory protocol: require, module, exports,
// onUnresolvedRequire, all records, all cache entries and the entry ids.
type Scope struct {
	// Require resolves path through the module's dependency map, falling
	// back to treating path as a raw id, and returns the target's exports.
	Require func(path string) (any, error)
	Module  *Module
	// Exports is the exports object the module was created with.
	Exports *Object
	// Unresolved reports a use of the protocol the engine does not support.
	Unresolved func() error
	Records    RecordReader
	Cache      CacheReader
	Entries    []string
}
