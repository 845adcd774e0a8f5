package presentation

import (
	"encoding/json"
	"io"
)

// Formatter writes command output as indented JSON
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatRuns formats a list of run summaries as JSON
func (f *Formatter) FormatRuns(runs []RunSummaryDTO) error {
	return f.encode(runs)
}

// FormatRun formats one run as JSON
func (f *Formatter) FormatRun(run RunDTO) error {
	return f.encode(run)
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
