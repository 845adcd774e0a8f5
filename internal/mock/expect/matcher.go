package expect

import "reflect"

// ArgsMatcher decides whether a call's arguments select a clause.
// Implementations must be pure: the actor may evaluate them any number of times.
type ArgsMatcher interface {
	Match(args []any) bool
}

// MatchFunc adapts a predicate to ArgsMatcher.
type MatchFunc func(args []any) bool

// Match calls f(args).
func (f MatchFunc) Match(args []any) bool {
	return f(args)
}

type anyArgs struct{}

func (anyArgs) Match([]any) bool { return true }

// Any matches every argument list.
func Any() ArgsMatcher {
	return anyArgs{}
}

// Wildcard stands for "any value" at a position inside Eq.
var Wildcard = wildcard{}

type wildcard struct{}

type eqArgs struct {
	values []any
}

// Eq matches argument lists that are deeply equal to values, position by position.
// Wildcard matches any value at its position.
func Eq(values ...any) ArgsMatcher {
	return eqArgs{values: values}
}

func (m eqArgs) Match(args []any) bool {
	if len(args) != len(m.values) {
		return false
	}
	for i, want := range m.values {
		if _, ok := want.(wildcard); ok {
			continue
		}
		if !reflect.DeepEqual(want, args[i]) {
			return false
		}
	}
	return true
}

// Arity reports the argument count Eq was built for.
func (m eqArgs) Arity() int {
	return len(m.values)
}

// matches treats a nil matcher as Any.
func matches(m ArgsMatcher, args []any) bool {
	if m == nil {
		return true
	}
	return m.Match(args)
}

// Matches evaluates m against args, treating nil as Any.
func Matches(m ArgsMatcher, args []any) bool {
	return matches(m, args)
}
