// Package unit models mockable units and the process-wide table of code
// currently installed for them.
package unit

import (
	"errors"
	"fmt"

	"github.com/zjrosen/mimic/internal/mock/expect"
)

// predeclared holds the Go builtin function names. They are intrinsic to the
// runtime and can never be replaced.
var predeclared = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
}

// Module is the original implementation of a unit.
type Module struct {
	Name  string
	Funcs map[expect.Key]expect.Func
	// Autogenerated lists bookkeeping operations emitted by tooling.
	Autogenerated []expect.Key
	// Builtins lists operations the unit forwards to the runtime.
	Builtins []expect.Key
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, Funcs: make(map[expect.Key]expect.Func)}
}

// Def adds an operation and returns m for chaining.
func (m *Module) Def(name string, arity int, fn expect.Func) *Module {
	m.Funcs[expect.K(name, arity)] = fn
	return m
}

// Exports returns the keys of every defined operation, sorted.
func (m *Module) Exports() []expect.Key {
	keys := make([]expect.Key, 0, len(m.Funcs))
	for k := range m.Funcs {
		keys = append(keys, k)
	}
	expect.SortKeys(keys)
	return keys
}

// Exposes reports whether key is an operation of m.
func (m *Module) Exposes(key expect.Key) bool {
	_, ok := m.Funcs[key]
	return ok
}

// IsAutogenerated reports whether key is a bookkeeping operation. init/0 is
// always one.
func (m *Module) IsAutogenerated(key expect.Key) bool {
	if key == expect.K("init", 0) {
		return true
	}
	if m == nil {
		return false
	}
	return containsKey(m.Autogenerated, key)
}

// IsBuiltin reports whether key names a runtime intrinsic.
func (m *Module) IsBuiltin(key expect.Key) bool {
	if predeclared[key.Name] {
		return true
	}
	if m == nil {
		return false
	}
	return containsKey(m.Builtins, key)
}

// Code builds the dispatch table of the original implementation.
func (m *Module) Code() *Code {
	funcs := make(map[expect.Key]expect.Func, len(m.Funcs))
	for k, fn := range m.Funcs {
		funcs[k] = fn
	}
	return &Code{Unit: m.Name, funcs: funcs, Original: true}
}

// Validate checks the module can be loaded.
func (m *Module) Validate() error {
	if m.Name == "" {
		return errors.New("module has no name")
	}
	for k, fn := range m.Funcs {
		if fn == nil {
			return fmt.Errorf("module %s: %s has no implementation", m.Name, k)
		}
	}
	return nil
}

func containsKey(keys []expect.Key, key expect.Key) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Code is an immutable dispatch table installed for a unit.
type Code struct {
	Unit     string
	Original bool
	funcs    map[expect.Key]expect.Func
}

// NewCode builds generated code from funcs. The map is copied.
func NewCode(unitName string, funcs map[expect.Key]expect.Func) *Code {
	copied := make(map[expect.Key]expect.Func, len(funcs))
	for k, fn := range funcs {
		copied[k] = fn
	}
	return &Code{Unit: unitName, funcs: copied}
}

// Lookup returns the function installed for key.
func (c *Code) Lookup(key expect.Key) (expect.Func, bool) {
	fn, ok := c.funcs[key]
	return fn, ok
}

// Keys returns the installed keys, sorted.
func (c *Code) Keys() []expect.Key {
	keys := make([]expect.Key, 0, len(c.funcs))
	for k := range c.funcs {
		keys = append(keys, k)
	}
	expect.SortKeys(keys)
	return keys
}
