package history

import (
	"errors"
	"fmt"

	"github.com/zjrosen/mimic/internal/mock/expect"
)

// ErrNotFound is returned by Capture when no record matches.
var ErrNotFound = errors.New("no matching call")

// Filter selects records. Zero fields match anything.
type Filter struct {
	Op     string
	Args   expect.ArgsMatcher
	Caller string
}

// Match reports whether r passes every set filter.
func (f Filter) Match(r Record) bool {
	if f.Op != "" && f.Op != r.Call.Op {
		return false
	}
	if f.Caller != "" && f.Caller != r.Caller {
		return false
	}
	return expect.Matches(f.Args, r.Call.Args)
}

// CountMatching counts records that pass f.
func CountMatching(records []Record, f Filter) int {
	n := 0
	for _, r := range records {
		if f.Match(r) {
			n++
		}
	}
	return n
}

// NumCalls counts calls that passed f and returned normally or raised.
func NumCalls(records []Record, f Filter) int {
	return CountMatching(records, f)
}

// Called reports whether at least one record passes f.
func Called(records []Record, f Filter) bool {
	for _, r := range records {
		if f.Match(r) {
			return true
		}
	}
	return false
}

// Occurrence selects which matching call Capture reads.
// Positive values count from the first match (1 = first), Last picks the most recent.
type Occurrence int

const (
	First Occurrence = 1
	Last  Occurrence = -1
)

// Capture returns argument argIndex (0-based) of the selected matching call.
func Capture(records []Record, occ Occurrence, f Filter, argIndex int) (any, error) {
	if occ == 0 || occ < Last {
		return nil, fmt.Errorf("invalid occurrence %d", occ)
	}
	var found *Record
	seen := 0
	for i := range records {
		if !f.Match(records[i]) {
			continue
		}
		seen++
		found = &records[i]
		if occ != Last && seen == int(occ) {
			break
		}
	}
	if found == nil || (occ != Last && seen < int(occ)) {
		return nil, ErrNotFound
	}
	if argIndex < 0 || argIndex >= len(found.Call.Args) {
		return nil, fmt.Errorf("argument %d out of range for %s", argIndex, found.Call.Key())
	}
	return found.Call.Args[argIndex], nil
}
