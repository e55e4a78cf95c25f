package module

import "sort"

// ReloadHook runs right after a module is re-instantiated during a reload.
// Returning true declares that the module absorbed the change itself.
type ReloadHook func() (accepted bool, err error)

// Module is a live cache entry.
type Module struct {
	ID       string
	exports  Value
	accepted bool
	register func(ReloadHook)
}

// NewModule creates a cache entry whose exports start as an empty Object.
// register receives hooks passed to OnReload.
func NewModule(id string, register func(ReloadHook)) *Module {
	return &Module{
		ID:       id,
		exports:  Plain(NewObject()),
		register: register,
	}
}

// Exports returns the module's tagged exports.
func (m *Module) Exports() Value {
	return m.exports
}

// SetExports replaces the module's exports wholesale.
func (m *Module) SetExports(v Value) {
	m.exports = v
}

// OnReload registers the module's reload hook, shadowing any earlier one.
func (m *Module) OnReload(hook ReloadHook) {
	if m.register != nil {
		m.register(hook)
	}
}

// SetAccepted records the result of the module's reload hook.
func (m *Module) SetAccepted(accepted bool) {
	m.accepted = accepted
}

// TakeAccepted returns the accepted flag and resets it.
func (m *Module) TakeAccepted() bool {
	accepted := m.accepted
	m.accepted = false
	return accepted
}

// CacheReader is the read-only view of the module cache handed to factories.
type CacheReader interface {
	Module(id string) (*Module, bool)
	IDs() []string
}

// Cache is the table of live module instances.
type Cache struct {
	modules map[string]*Module
}

// NewCache creates an empty module cache.
func NewCache() *Cache {
	return &Cache{modules: make(map[string]*Module)}
}

// Module returns the cache entry for id.
func (c *Cache) Module(id string) (*Module, bool) {
	m, ok := c.modules[id]
	return m, ok
}

// Has reports whether id is loaded.
func (c *Cache) Has(id string) bool {
	_, ok := c.modules[id]
	return ok
}

// Put stores m under its id.
func (c *Cache) Put(m *Module) {
	c.modules[m.ID] = m
}

// Delete discards the entry for id.
func (c *Cache) Delete(id string) {
	delete(c.modules, id)
}

// Len returns the number of loaded modules.
func (c *Cache) Len() int {
	return len(c.modules)
}

// IDs returns the loaded ids in sorted order.
func (c *Cache) IDs() []string {
	ids := make([]string, 0, len(c.modules))
	for id := range c.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
