// tracewriter.go - pre-translation trace collaborator
//
// Every accepted request can optionally be emitted to a pre-
// translation trace after write accounting has run, for later trace-based
// testing. Trace writing itself is an external collaborator; this
// file defines the interface plus a file-backed reference writer.

package nvmain

import (
	"fmt"
	"io"
)

// TraceLine is one access as written to the pre-translation trace.
type TraceLine struct {
	Address  MemAddress
	Type     RequestType
	Cycle    uint64
	NewData  []byte
	OldData  []byte
	ThreadID int
	ReqID    string
}

// TraceWriter receives one access at a time. SetNext is called from
// inside IssueCommand/IssueAtomic after a request is accepted, never
// before — rejected requests never reach the trace.
type TraceWriter interface {
	SetNext(line TraceLine) error
}

// FileTraceWriter writes one line per access to an underlying writer
// in a simple space-separated format; "NVMainTrace", the original's
// default writer, in spirit if not exact column layout. w may be nil
// (PrintPreTrace not set, EchoPreTrace alone requested), in which case
// SetNext only echoes, matching the original's PrintPreTrace/
// EchoPreTrace split where a writer can be built without ever having
// SetTraceFile called on it.
type FileTraceWriter struct {
	w      io.Writer
	Echo   bool
	Logger Logger
}

// NewFileTraceWriter wraps w (typically an opened .nvt file) as a
// trace writer. w may be nil to build an echo-only writer.
func NewFileTraceWriter(w io.Writer) *FileTraceWriter {
	return &FileTraceWriter{w: w, Logger: defaultLogger}
}

func (f *FileTraceWriter) SetNext(line TraceLine) error {
	if f.w != nil {
		if _, err := fmt.Fprintf(f.w, "%d %s %d %d\n",
			line.Address.Physical, line.Type, line.Cycle, line.ThreadID); err != nil {
			return err
		}
	}
	if f.Echo && f.Logger != nil {
		f.Logger.Info("trace", "addr", line.Address.Physical, "type", line.Type,
			"cycle", line.Cycle, "thread", line.ThreadID)
	}
	return nil
}
