package scenario

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffOp is the kind of one diff line.
type DiffOp int

const (
	DiffEqual DiffOp = iota
	DiffDelete
	DiffInsert
)

// DiffLine is one line of a line diff.
type DiffLine struct {
	Op   DiffOp
	Text string
}

// Diff is a line diff from expected to actual history.
type Diff []DiffLine

// DiffLines computes a line-level diff between want and got.
func DiffLines(want, got []string) Diff {
	dmp := diffmatchpatch.New()
	a, b, index := dmp.DiffLinesToChars(joinLines(want), joinLines(got))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), index)

	var out Diff
	for _, d := range diffs {
		op := DiffEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = DiffDelete
		case diffmatchpatch.DiffInsert:
			op = DiffInsert
		}
		for _, line := range splitLines(d.Text) {
			out = append(out, DiffLine{Op: op, Text: line})
		}
	}
	return out
}

// Changed reports whether any line was added or removed.
func (d Diff) Changed() bool {
	for _, l := range d {
		if l.Op != DiffEqual {
			return true
		}
	}
	return false
}

// String renders the diff with " ", "-" and "+" prefixes.
func (d Diff) String() string {
	var sb strings.Builder
	for _, l := range d {
		sb.WriteString(l.Op.prefix())
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (op DiffOp) prefix() string {
	switch op {
	case DiffDelete:
		return "-"
	case DiffInsert:
		return "+"
	default:
		return " "
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
