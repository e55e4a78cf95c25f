package module

// Value is an exported value tagged with its reload behaviour.
//
// A transparent value keeps a stable identity across reloads while its
// implementation changes underneath, so dependents holding it never need to
// re-execute.
type Value struct {
	Data        any
	Transparent bool
}

// Plain tags v as an ordinary export.
func Plain(v any) Value {
	return Value{Data: v}
}

// Transparent tags v as a reload-transparent export.
func Transparent(v any) Value {
	return Value{Data: v, Transparent: true}
}

// Bindings is implemented by export objects whose own values are checked
// one by one when deciding reload transparency.
type Bindings interface {
	// Range calls fn for every own binding until fn returns false.
	Range(fn func(name string, v Value) bool)
}

// ReloadTransparent reports whether every exported binding of v is transparent.
// A tagged value is transparent on its own; an exports object is transparent
// when it has at least one binding and all of them are transparent.
func ReloadTransparent(v Value) bool {
	if v.Transparent {
		return true
	}
	b, ok := v.Data.(Bindings)
	if !ok {
		return false
	}
	count := 0
	all := true
	b.Range(func(_ string, x Value) bool {
		count++
		if !x.Transparent {
			all = false
			return false
		}
		return true
	})
	return all && count > 0
}

// Object is the plain exports object a module starts with.
// Bindings keep their insertion order.
type Object struct {
	names    []string
	bindings map[string]Value
}

// NewObject creates an empty exports object.
func NewObject() *Object {
	return &Object{bindings: make(map[string]Value)}
}

// Set binds name to v.
func (o *Object) Set(name string, v Value) {
	if _, ok := o.bindings[name]; !ok {
		o.names = append(o.names, name)
	}
	o.bindings[name] = v
}

// Export binds name to a plain value.
func (o *Object) Export(name string, data any) {
	o.Set(name, Plain(data))
}

// Lookup returns the tagged binding for name.
func (o *Object) Lookup(name string) (Value, bool) {
	v, ok := o.bindings[name]
	return v, ok
}

// Get returns the data bound to name, or nil.
func (o *Object) Get(name string) any {
	return o.bindings[name].Data
}

// Len returns the number of bindings.
func (o *Object) Len() int {
	return len(o.names)
}

// Names returns the binding names in insertion order.
func (o *Object) Names() []string {
	return append([]string(nil), o.names...)
}

// Range implements Bindings.
func (o *Object) Range(fn func(name string, v Value) bool) {
	for _, name := range o.names {
		if !fn(name, o.bindings[name]) {
			return
		}
	}
}
