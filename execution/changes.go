package execution

// ChangeSet lists what a flush has to write. Inserted is in creation order so
// parents land before children; Removed is leaf-first.
type ChangeSet struct {
	Inserted []Execution
	Updated  []Execution
	Removed  []string
}

// Empty reports whether nothing changed
func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Changes returns the pending modifications since the arena was built or last cleared
func (a *Arena) Changes() ChangeSet {
	var cs ChangeSet
	for _, e := range a.ordered() {
		switch {
		case a.inserted[e.ID]:
			cs.Inserted = append(cs.Inserted, e.Snapshot())
		case a.updated[e.ID]:
			cs.Updated = append(cs.Updated, e.Snapshot())
		}
	}
	cs.Removed = append(cs.Removed, a.removed...)
	return cs
}

// ClearChanges marks the current state as persisted
func (a *Arena) ClearChanges() {
	a.inserted = make(map[string]bool)
	a.updated = make(map[string]bool)
	a.removed = nil
}
