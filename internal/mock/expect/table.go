package expect

import (
	"crypto/sha256"
	"encoding/hex"
)

// Table maps keys to expectations. It is owned by a single control actor and
// is not safe for concurrent use; regeneration works on a Snapshot instead.
type Table struct {
	m map[Key]*Expectation
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{m: make(map[Key]*Expectation)}
}

// InitialTable builds the table a unit starts with. Passthrough mode installs a
// passthrough entry per export; otherwise a non-nil stubAll installs a dummy entry
// per export; otherwise the table starts empty.
func InitialTable(exports []Key, passthrough bool, stubAll *Result) *Table {
	t := NewTable()
	for _, key := range exports {
		switch {
		case passthrough:
			t.m[key] = NewPassthrough(key)
		case stubAll != nil:
			t.m[key] = NewDummy(key, *stubAll)
		}
	}
	return t
}

// Get returns the expectation stored for key.
func (t *Table) Get(key Key) (*Expectation, bool) {
	e, ok := t.m[key]
	return e, ok
}

// Has reports whether key has an expectation.
func (t *Table) Has(key Key) bool {
	_, ok := t.m[key]
	return ok
}

// Len returns the number of stored expectations.
func (t *Table) Len() int {
	return len(t.m)
}

// Store saves e. With merge enabled and an existing entry, e's clauses are
// merged into it; otherwise e replaces the entry. A stub-all dummy is always
// replaced since its catch-all clause would shadow anything merged after it.
// Returns true when the key set changed.
func (t *Table) Store(e *Expectation, merge bool) bool {
	existing, ok := t.m[e.Key]
	if ok && merge && existing.Kind != KindDummy {
		existing.Merge(e.Clauses)
		return false
	}
	t.m[e.Key] = e.Clone()
	return !ok
}

// Delete removes key. When the unit defaults to passthrough and force is
// false, the entry becomes a fresh passthrough instead so the operation keeps
// resolving. Returns true when the key set changed.
func (t *Table) Delete(key Key, passthroughDefault, force bool) bool {
	_, ok := t.m[key]
	if !force && passthroughDefault {
		t.m[key] = NewPassthrough(key)
		return !ok
	}
	if !ok {
		return false
	}
	delete(t.m, key)
	return true
}

// Keys returns all keys in sorted order.
func (t *Table) Keys() []Key {
	keys := make([]Key, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// List returns the defined keys, optionally without pure passthrough entries.
func (t *Table) List(excludePassthrough bool) []Key {
	keys := make([]Key, 0, len(t.m))
	for k, e := range t.m {
		if excludePassthrough && e.IsPassthrough() {
			continue
		}
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Snapshot copies the table for a regeneration task.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		keys: t.Keys(),
		exps: make(map[Key]*Expectation, len(t.m)),
	}
	for k, e := range t.m {
		s.exps[k] = e.Clone()
	}
	return s
}

// Snapshot is an immutable copy of a table at the moment a regeneration started.
type Snapshot struct {
	keys []Key
	exps map[Key]*Expectation
}

// Keys returns the keys in sorted order. Callers must not modify the slice.
func (s Snapshot) Keys() []Key {
	return s.keys
}

// Len returns the number of expectations.
func (s Snapshot) Len() int {
	return len(s.keys)
}

// Kind returns the kind of the expectation stored for key.
func (s Snapshot) Kind(key Key) (Kind, bool) {
	e, ok := s.exps[key]
	if !ok {
		return 0, false
	}
	return e.Kind, true
}

// Fingerprint hashes the unit name and key set. Installed code depends only on
// these, so equal fingerprints yield interchangeable code.
func (s Snapshot) Fingerprint(unit string) string {
	h := sha256.New()
	h.Write([]byte(unit))
	for _, k := range s.keys {
		h.Write([]byte{0})
		h.Write([]byte(k.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
