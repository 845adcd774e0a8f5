package history

// Log is the ordered history of a unit. It is owned by the control actor and
// is not safe for concurrent use.
type Log struct {
	records  []Record
	disabled bool
}

// NewLog creates an empty log. A disabled log drops every record.
func NewLog(disabled bool) *Log {
	return &Log{disabled: disabled}
}

// Append adds r at the end. Returns false when the log is disabled.
func (l *Log) Append(r Record) bool {
	if l.disabled {
		return false
	}
	l.records = append(l.records, r)
	return true
}

// Records returns a copy of the history, oldest first.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	return len(l.records)
}

// Count returns how many retained records pass f.
func (l *Log) Count(f Filter) int {
	return CountMatching(l.records, f)
}

// Disabled reports whether the log retains records.
func (l *Log) Disabled() bool {
	return l.disabled
}

// Reset replaces the history with an empty one.
func (l *Log) Reset() {
	l.records = nil
}
