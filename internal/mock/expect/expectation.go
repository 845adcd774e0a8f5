package expect

import (
	"errors"
	"fmt"
)

// Kind tags where an expectation came from.
type Kind int

const (
	// KindUser is an expectation programmed by test code.
	KindUser Kind = iota
	// KindPassthrough delegates every call to the original implementation.
	KindPassthrough
	// KindDummy is the stub installed for every export when stub-all is configured.
	KindDummy
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindPassthrough:
		return "passthrough"
	case KindDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// Clause pairs an argument matcher with a result rule. A nil matcher matches any arguments.
type Clause struct {
	Args   ArgsMatcher
	Result Result
}

// When builds a clause.
func When(args ArgsMatcher, result Result) Clause {
	return Clause{Args: args, Result: result}
}

// Always builds a clause that matches any arguments.
func Always(result Result) Clause {
	return Clause{Args: Any(), Result: result}
}

// Expectation is the programmed behavior of one operation: clauses tried in order.
type Expectation struct {
	Key     Key
	Clauses []Clause
	Kind    Kind
}

// New builds a user expectation.
func New(key Key, clauses ...Clause) *Expectation {
	return &Expectation{Key: key, Clauses: clauses, Kind: KindUser}
}

// NewPassthrough builds an expectation that delegates every call to the original.
func NewPassthrough(key Key) *Expectation {
	return &Expectation{Key: key, Clauses: []Clause{Always(Passthrough())}, Kind: KindPassthrough}
}

// NewDummy builds the stub expectation installed by stub-all.
func NewDummy(key Key, result Result) *Expectation {
	return &Expectation{Key: key, Clauses: []Clause{Always(result)}, Kind: KindDummy}
}

// IsPassthrough reports whether the whole expectation is a passthrough entry.
func (e *Expectation) IsPassthrough() bool {
	return e.Kind == KindPassthrough
}

// Validate checks clause shape against the key's arity.
func (e *Expectation) Validate() error {
	if e.Key.Name == "" {
		return errors.New("expectation has no operation name")
	}
	if e.Key.Arity < 0 {
		return fmt.Errorf("%s: negative arity", e.Key)
	}
	if len(e.Clauses) == 0 {
		return fmt.Errorf("%s: at least one clause is required", e.Key)
	}
	for i, c := range e.Clauses {
		if a, ok := c.Args.(interface{ Arity() int }); ok && a.Arity() != e.Key.Arity {
			return fmt.Errorf("%s clause %d: matcher expects %d arguments", e.Key, i, a.Arity())
		}
		if err := c.Result.Validate(); err != nil {
			return fmt.Errorf("%s clause %d: %w", e.Key, i, err)
		}
	}
	return nil
}

// endsWithPassthrough reports whether the outer clause delegates to the original.
func (e *Expectation) endsWithPassthrough() bool {
	if len(e.Clauses) == 0 {
		return false
	}
	return e.Clauses[len(e.Clauses)-1].Result.IsPassthrough()
}

// Merge adds clauses after the existing ones, keeping a trailing passthrough clause last.
func (e *Expectation) Merge(clauses []Clause) {
	merged := make([]Clause, 0, len(e.Clauses)+len(clauses))
	if e.endsWithPassthrough() {
		last := len(e.Clauses) - 1
		merged = append(merged, e.Clauses[:last]...)
		merged = append(merged, clauses...)
		merged = append(merged, e.Clauses[last])
	} else {
		merged = append(merged, e.Clauses...)
		merged = append(merged, clauses...)
	}
	e.Clauses = merged
	e.Kind = KindUser
}

// Next selects the first clause whose matcher accepts args and returns its
// current result rule. Stateful rules advance in place, so consecutive calls
// walk through a Seq or Loop.
func (e *Expectation) Next(args []any) (Result, bool) {
	if len(args) != e.Key.Arity {
		return Result{}, false
	}
	for i := range e.Clauses {
		c := &e.Clauses[i]
		if !matches(c.Args, args) {
			continue
		}
		current, next := c.Result.advance()
		c.Result = next
		return current, true
	}
	return Result{}, false
}

// Clone copies the expectation so later mutations of either copy stay independent.
func (e *Expectation) Clone() *Expectation {
	clauses := make([]Clause, len(e.Clauses))
	copy(clauses, e.Clauses)
	return &Expectation{Key: e.Key, Clauses: clauses, Kind: e.Kind}
}
