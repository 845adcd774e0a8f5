// Package expect holds the expectation model of a mocked unit: keys, argument
// matchers, result rules, clauses, and the table the control actor owns.
package expect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key identifies an operation of a unit by name and arity.
type Key struct {
	Name  string
	Arity int
}

// K is shorthand for Key{Name: name, Arity: arity}.
func K(name string, arity int) Key {
	return Key{Name: name, Arity: arity}
}

// String renders the key as name/arity.
func (k Key) String() string {
	return k.Name + "/" + strconv.Itoa(k.Arity)
}

// ParseKey parses the name/arity form produced by Key.String.
func ParseKey(s string) (Key, error) {
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("invalid key %q: want name/arity", s)
	}
	arity, err := strconv.Atoi(s[idx+1:])
	if err != nil || arity < 0 {
		return Key{}, fmt.Errorf("invalid arity in key %q", s)
	}
	return Key{Name: s[:idx], Arity: arity}, nil
}

// SortKeys orders keys by name, then arity.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Arity < keys[j].Arity
	})
}
