package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/types"
)

// ErrNotLoaded is returned when calling into a unit that has no installed code.
var ErrNotLoaded = errors.New("unit not loaded")

// ErrUndefined is returned when the installed code has no such operation.
// It matches types.ErrUndefinedFunction.
var ErrUndefined = fmt.Errorf("undefined operation: %w", types.ErrUndefinedFunction)

// Handle is the backup of a unit's code taken before mocking.
// A zero Handle means the unit had no code.
type Handle struct {
	Unit string
	code *Code
}

// Present reports whether the unit had code when it was backed up.
func (h Handle) Present() bool {
	return h.code != nil
}

// Loader holds the code currently installed for every unit. Calls through
// the loader always reach the latest installed code.
type Loader struct {
	mu        sync.RWMutex
	installed map[string]*Code
	originals map[string]*Code
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{
		installed: make(map[string]*Code),
		originals: make(map[string]*Code),
	}
}

// Load installs the original implementation of m.
func (l *Loader) Load(m *Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	l.Install(m.Name, m.Code())
	return nil
}

// Install replaces the code of a unit.
func (l *Loader) Install(unitName string, code *Code) {
	l.mu.Lock()
	l.installed[unitName] = code
	l.mu.Unlock()
	log.Debug(log.CatCodegen, "code installed", "unit", unitName, "ops", len(code.funcs), "original", code.Original)
}

// Current returns the installed code of a unit.
func (l *Loader) Current(unitName string) (*Code, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.installed[unitName]
	return c, ok
}

// Purge removes the installed code of a unit.
func (l *Loader) Purge(unitName string) {
	l.mu.Lock()
	delete(l.installed, unitName)
	l.mu.Unlock()
}

// Call invokes op on the code installed for unitName.
func (l *Loader) Call(ctx context.Context, unitName, op string, args ...any) (any, error) {
	code, ok := l.Current(unitName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, unitName)
	}
	key := expect.K(op, len(args))
	fn, ok := code.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrUndefined, unitName, key)
	}
	return fn(ctx, args)
}

// Backup saves the installed code of a unit so Restore can reinstate it.
// Generated interceptors reach the saved code through Original.
func (l *Loader) Backup(unitName string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.originals[unitName]; ok {
		return Handle{}, fmt.Errorf("unit %s is already backed up", unitName)
	}
	code := l.installed[unitName]
	l.originals[unitName] = code
	return Handle{Unit: unitName, code: code}, nil
}

// Restore reinstates the code saved by Backup, or removes the unit's code if
// it had none.
func (l *Loader) Restore(unitName string, h Handle) error {
	if h.Unit != "" && h.Unit != unitName {
		return fmt.Errorf("handle for %s cannot restore %s", h.Unit, unitName)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.originals, unitName)
	if h.code == nil {
		delete(l.installed, unitName)
		return nil
	}
	l.installed[unitName] = h.code
	return nil
}

// Original returns the saved implementation of key, for passthrough.
func (l *Loader) Original(unitName string, key expect.Key) (expect.Func, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	code := l.originals[unitName]
	if code == nil {
		return nil, false
	}
	return code.Lookup(key)
}
