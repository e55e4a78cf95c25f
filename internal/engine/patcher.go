package engine

import (
	"errors"

	"github.com/zot/hotmod/internal/module"
)

// Patch diffs set against the record store by content hash. Every record
// that is new or whose hash differs is compiled and replaces the stored one;
// the returned change list pairs each replaced id with its previous record.
//
// Patch never touches the module cache. A record that fails to compile is
// skipped and reported in the error while the rest of the set is applied.
func (e *Engine) Patch(set module.RecordSet) (module.ChangeList, error) {
	var changes module.ChangeList
	var errs []error
	for _, id := range set.IDs() {
		next := set[id]
		prev, exists := e.records.Record(id)
		if exists && next != nil && prev.Meta.Hash == next.Meta.Hash {
			continue
		}
		compiled, err := e.compile(id, next)
		if err != nil {
			e.log.Log(0, "Patch: %v", err)
			errs = append(errs, err)
			continue
		}
		e.records.Put(compiled)
		if !exists {
			prev = nil
		}
		changes = append(changes, module.Change{ID: id, Previous: prev})
	}
	return changes, errors.Join(errs...)
}
