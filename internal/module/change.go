package module

// Change is one entry of a change list: the patched id and the record it
// replaced, nil when the module is new.
type Change struct {
	ID       string
	Previous *Record
}

// New reports whether the change introduced a module.
func (c Change) New() bool {
	return c.Previous == nil
}

// ChangeList is the ordered output of a patch.
type ChangeList []Change

// IDs returns the set of changed ids.
func (l ChangeList) IDs() map[string]bool {
	ids := make(map[string]bool, len(l))
	for _, c := range l {
		ids[c.ID] = true
	}
	return ids
}

// NewIDs returns the set of ids that had no previous record.
func (l ChangeList) NewIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, c := range l {
		if c.New() {
			ids[c.ID] = true
		}
	}
	return ids
}
