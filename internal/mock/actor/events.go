package actor

import (
	"time"

	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
)

// ExpectationsChanged is published after set_expect or delete_expect is applied.
type ExpectationsChanged struct {
	Unit    string
	Key     expect.Key
	Deleted bool
	Keys    []expect.Key
}

// HistoryAppended is published for every add_history, retained or not.
type HistoryAppended struct {
	Unit     string
	Record   history.Record
	Retained bool
}

// ReloadCompleted is published when a regeneration task ends.
type ReloadCompleted struct {
	Unit     string
	Seq      uint64
	Err      error
	Duration time.Duration
	Waiters  int
}

// Invalidated is published when the unit is marked invalid.
type Invalidated struct {
	Unit   string
	Reason string
}

// CommandLogEvent is published after each command is handled.
type CommandLogEvent struct {
	Unit        string
	CommandID   string
	CommandType command.CommandType
	Source      command.CommandSource
	Success     bool
	Deferred    bool
	Error       error
	Duration    time.Duration
	Timestamp   time.Time
	TraceID     string
}

// CommandErrorEvent is published when a command fails validation or routing,
// or its handler returns an error.
type CommandErrorEvent struct {
	Unit        string
	CommandID   string
	CommandType command.CommandType
	Error       error
}
