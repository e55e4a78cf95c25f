package engine

import (
	"github.com/zot/hotmod/internal/module"
)

type visitState uint8

const (
	visiting visitState = iota + 1
	visited
)

// node is the per-pass memo for one module. While a module is visiting its
// changed value is the provisional one handed to cycles.
type node struct {
	state   visitState
	changed bool
}

// frame is one module on the evaluation stack.
type frame struct {
	id         string
	deps       []string
	next       int
	depChanged bool
	// prev is the cache entry the module had when the pass reached it.
	prev *module.Module
}

// pass holds the state of one reload or restore evaluation.
type pass struct {
	changed map[string]bool
	added   map[string]bool
	nodes   map[string]*node
	report  *Report
}

func newPass(changes module.ChangeList, report *Report) *pass {
	return &pass{
		changed: changes.IDs(),
		added:   changes.NewIDs(),
		nodes:   make(map[string]*node),
		report:  report,
	}
}

// Reload propagates changes through the graph from the entry module.
//
// If the pass fails the previous records are reinstated and the graph is
// evaluated again with the same change set. The reload failure is carried in
// the report and is not returned; the returned error is non-nil only when the
// reload could not start or the restore failed as well.
func (e *Engine) Reload(changes module.ChangeList) (Report, error) {
	var report Report
	if e.state == StateFatal {
		return report, ErrBroken
	}
	if e.reloading {
		return report, ErrReloadInProgress
	}
	e.reloading = true
	e.state = StateReloading
	defer func() {
		e.reloading = false
		if e.state != StateFatal {
			e.state = StateIdle
		}
	}()

	e.log.Log(1, "Applying changes...")
	if _, err := e.evaluateEntry(newPass(changes, &report)); err != nil {
		rerr := module.ReloadError{Err: err}
		report.Failed = true
		report.Err = rerr
		e.log.Log(0, "Error occurred while reloading changes. Restoring old implementation... %v", err)
		e.state = StateRestoring
		if err := e.restore(changes); err != nil {
			e.state = StateFatal
			ferr := module.RestoreError{Cause: rerr, Err: err}
			report.Err = ferr
			e.log.Log(0, "Restore failed, manual refresh required: %v", err)
			return report, ferr
		}
		report.Restored = true
		e.log.Log(1, "Restored!")
		return report, nil
	}
	e.log.Log(1, "Reload complete!")
	return report, nil
}

// Restore reinstates the previous record of every change, removing records
// that were new, and re-evaluates the graph with the same change set.
func (e *Engine) Restore(changes module.ChangeList) error {
	if e.state == StateFatal {
		return ErrBroken
	}
	if e.reloading {
		return ErrReloadInProgress
	}
	e.reloading = true
	e.state = StateRestoring
	defer func() {
		e.reloading = false
		if e.state != StateFatal {
			e.state = StateIdle
		}
	}()
	if err := e.restore(changes); err != nil {
		e.state = StateFatal
		return err
	}
	return nil
}

func (e *Engine) restore(changes module.ChangeList) error {
	for _, c := range changes {
		if c.New() {
			e.records.Delete(c.ID)
		} else {
			e.records.Put(c.Previous)
		}
		// Entries built by the failed pass must not outlive their record.
		e.cache.Delete(c.ID)
	}
	var report Report
	_, err := e.evaluateEntry(newPass(changes, &report))
	return err
}

func (e *Engine) evaluateEntry(p *pass) (changed bool, err error) {
	defer recoverPanic(&err)
	return e.evaluate(p, e.entry)
}

// evaluate walks the graph below root depth first, re-instantiating every
// module that changed or that depends on a module whose exports changed.
// Unaffected modules get their previous cache entry back.
func (e *Engine) evaluate(p *pass, root string) (bool, error) {
	changed, top := e.enter(p, root)
	if top == nil {
		return changed, nil
	}
	stack := []*frame{top}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.next < len(f.deps) {
			dep := f.deps[f.next]
			f.next++
			changed, child := e.enter(p, dep)
			if child != nil {
				stack = append(stack, child)
				continue
			}
			f.depChanged = f.depChanged || changed
			continue
		}
		stack = stack[:len(stack)-1]
		changed, err := e.settle(p, f)
		if err != nil {
			return false, err
		}
		if len(stack) == 0 {
			return changed, nil
		}
		parent := stack[len(stack)-1]
		parent.depChanged = parent.depChanged || changed
	}
	return false, nil
}

// enter starts the visit of id. It returns a frame when the module must be
// walked, or the memoised value when it was already reached in this pass.
func (e *Engine) enter(p *pass, id string) (bool, *frame) {
	if n, ok := p.nodes[id]; ok {
		if n.state == visiting {
			e.log.Log(3, "Circular dependency detected for module %s, skipping", id)
		} else {
			e.log.Log(3, "Module %s already evaluated, skipping", id)
		}
		return n.changed, nil
	}
	r, ok := e.records.Record(id)
	if !ok {
		e.log.Log(3, "Module %s is an external dependency, skipping", id)
		return false, nil
	}

	self := p.changed[id]
	p.nodes[id] = &node{state: visiting, changed: self}
	prev, _ := e.cache.Module(id)
	e.cache.Delete(id)

	var deps []string
	for _, dep := range r.DependencyIDs() {
		if e.isLocal(dep) {
			deps = append(deps, dep)
		}
	}
	return false, &frame{id: id, deps: deps, prev: prev}
}

// settle finishes the visit of f once all its dependencies are evaluated.
func (e *Engine) settle(p *pass, f *frame) (bool, error) {
	n := p.nodes[f.id]
	n.state = visited
	self := p.changed[f.id]
	_, present := e.cache.Module(f.id)
	// A cycle may already have re-instantiated this module during the pass.
	already := f.prev != nil && present

	if !already && !f.depChanged && !self {
		if f.prev != nil {
			e.cache.Put(f.prev)
		}
		p.report.Reused = append(p.report.Reused, f.id)
		n.changed = false
		return false, nil
	}

	if already {
		e.log.Log(2, "Module %s already reloaded", f.id)
		p.report.Reloaded = append(p.report.Reloaded, f.id)
	} else {
		if f.prev == nil && p.added[f.id] {
			e.log.Log(2, "Add new module %s", f.id)
			p.report.Added = append(p.report.Added, f.id)
		} else {
			e.log.Log(2, "Reload module %s", f.id)
			p.report.Reloaded = append(p.report.Reloaded, f.id)
		}
		if _, err := e.Load(f.id); err != nil {
			return false, err
		}
	}

	m, ok := e.cache.Module(f.id)
	if !ok {
		n.changed = true
		return true, nil
	}
	changed := !module.ReloadTransparent(m.Exports()) && !e.accepted(p, m)
	n.changed = changed
	return changed, nil
}

// accepted consumes the module's acceptance flag.
func (e *Engine) accepted(p *pass, m *module.Module) bool {
	if !m.TakeAccepted() {
		return false
	}
	e.log.Log(2, "Module %s was manually accepted", m.ID)
	p.report.Accepted = append(p.report.Accepted, m.ID)
	return true
}
