package pgconn

import (
	"strconv"

	"github.com/pgmux/pgmux/pgproto3"
)

// ReaderState is the public state of a CommandReader.
type ReaderState int32

const (
	ReaderUninitialized ReaderState = iota
	ReaderActive
	ReaderCompleted
	ReaderExhausted
	ReaderClosed
)

// CommandReader consumes one slot's response stream: for a single command
// it is one Parse?/Bind/Describe/Execute/Sync group; for a batch it is
// several such groups followed by one trailing ReadyForQuery.
type CommandReader struct {
	session *Session
	slot    *slot

	state ReaderState

	fieldCount int
	hasRows    bool
	fields     []pgproto3.FieldDescription

	rowValues   [][]byte
	rowsAffected int64

	pending pgproto3.BackendMessage // message already read but not yet consumed by the current phase
	err     error

	onClose func() // set by exclusive-path callers to release their in-flight guard

	// resultsRemaining counts command results, including the current one,
	// that beginResultFrom has not yet been entered for. A plain command
	// reader has exactly one result; a batch reader starts at len(commands)
	// so NextResult can tell an error-drained command (no wire signal of
	// its own) from the batch's real trailing ReadyForQuery.
	resultsRemaining int

	// schemaOnly is set for a reader bound to a Describe-only submission
	// (no Execute was sent): once beginResultFrom reaches RowDescription/
	// NoData there is no CommandComplete coming, so Read must not block on
	// another wire message.
	schemaOnly bool
}

// NewCommandReader returns a reader bound to sl for a single command's
// result. It does not block; call Initialize to await the slot's read turn
// and the first response.
func NewCommandReader(session *Session, sl *slot) *CommandReader {
	return &CommandReader{session: session, slot: sl, rowsAffected: -1, resultsRemaining: 1}
}

// newBatchCommandReader returns a reader bound to sl for a batch of n
// commands. Once one of them errors, the server silently drops every
// later command's Parse/Bind/Describe/Execute and emits only the trailing
// ReadyForQuery, so NextResult must know how many results are still owed
// before that ReadyForQuery is the next thing on the wire.
func newBatchCommandReader(session *Session, sl *slot, n int) *CommandReader {
	return &CommandReader{session: session, slot: sl, rowsAffected: -1, resultsRemaining: n}
}

// newSchemaOnlyCommandReader returns a reader bound to sl for a submission
// whose Execute was intentionally never sent (SchemaOnly): the result ends
// at RowDescription/NoData rather than waiting on a CommandComplete that
// will never arrive.
func newSchemaOnlyCommandReader(session *Session, sl *slot) *CommandReader {
	return &CommandReader{session: session, slot: sl, rowsAffected: -1, resultsRemaining: 1, schemaOnly: true}
}

// Initialize awaits the slot's read_ready, then reads until RowDescription
// (or NoData) or a first terminal message, setting FieldCount/HasRows.
func (r *CommandReader) Initialize() error {
	if r.state != ReaderUninitialized {
		return newInvalidStateError("CommandReader.Initialize called twice")
	}

	<-r.slot.readReady

	msg, ok := <-r.slot.messages
	if !ok {
		r.state = ReaderClosed
		select {
		case err := <-r.slot.errCh:
			return err
		default:
			return &ClosedError{what: "command reader"}
		}
	}

	return r.beginResultFrom(msg)
}

// beginResultFrom interprets msg as the start of one command's result
// within the slot's stream, consuming ParseComplete/BindComplete along the
// way.
func (r *CommandReader) beginResultFrom(msg pgproto3.BackendMessage) error {
	if r.resultsRemaining > 0 {
		r.resultsRemaining--
	}
	for {
		switch m := msg.(type) {
		case *pgproto3.ParseComplete, *pgproto3.BindComplete:
			// acknowledgement only, keep reading for the result shape
		case *pgproto3.RowDescription:
			r.fields = m.Fields
			r.fieldCount = len(m.Fields)
			r.hasRows = true
			r.state = ReaderActive
			return nil
		case *pgproto3.NoData:
			r.fields = nil
			r.fieldCount = 0
			r.hasRows = false
			r.state = ReaderActive
			return nil
		case *pgproto3.CommandComplete:
			r.hasRows = false
			r.rowsAffected = parseRowsAffected(m.CommandTag)
			r.state = ReaderCompleted
			return nil
		case *pgproto3.EmptyQueryResponse:
			r.hasRows = false
			r.rowsAffected = -1
			r.state = ReaderCompleted
			return nil
		case *pgproto3.ErrorResponse:
			r.state = ReaderCompleted
			r.err = pgErrorFromWire(m)
			return r.err
		case *pgproto3.ReadyForQuery:
			r.state = ReaderExhausted
			return nil
		default:
			return newProtocolViolationError("unexpected message %T while starting result", msg)
		}

		var ok bool
		msg, ok = <-r.slot.messages
		if !ok {
			r.state = ReaderClosed
			return &ClosedError{what: "command reader"}
		}
	}
}

// Read advances to the next row, returning false when the current result
// has reached a terminal message.
func (r *CommandReader) Read() (bool, error) {
	if r.state != ReaderActive {
		return false, nil
	}

	if r.schemaOnly {
		// No Execute was sent, so no DataRow/CommandComplete is coming for
		// this result; the next thing on the wire is the Sync's
		// ReadyForQuery (or, within a batch, the next command's result).
		r.state = ReaderCompleted
		return false, nil
	}

	msg, ok := <-r.slot.messages
	if !ok {
		r.state = ReaderClosed
		return false, &ClosedError{what: "command reader"}
	}

	switch m := msg.(type) {
	case *pgproto3.DataRow:
		r.rowValues = m.Values
		return true, nil
	case *pgproto3.CommandComplete:
		r.rowsAffected = parseRowsAffected(m.CommandTag)
		r.state = ReaderCompleted
		return false, nil
	case *pgproto3.PortalSuspended:
		r.state = ReaderCompleted
		return false, nil
	case *pgproto3.ErrorResponse:
		r.state = ReaderCompleted
		r.err = pgErrorFromWire(m)
		return false, r.err
	default:
		return false, newProtocolViolationError("unexpected message %T while reading rows", msg)
	}
}

// Values returns the current row's column values, valid only immediately
// after Read returns true.
func (r *CommandReader) Values() [][]byte { return r.rowValues }

// FieldCount, HasRows, RowsAffected, IsClosed mirror the reader's public
// state exactly.
func (r *CommandReader) FieldCount() int        { return r.fieldCount }
func (r *CommandReader) HasRows() bool          { return r.hasRows }
func (r *CommandReader) RowsAffected() int64    { return r.rowsAffected }
func (r *CommandReader) IsClosed() bool         { return r.state == ReaderClosed }
func (r *CommandReader) FieldDescriptions() []pgproto3.FieldDescription { return r.fields }
func (r *CommandReader) Err() error             { return r.err }

// NextResult advances to the next command's response within a batched
// slot. It returns false once the batch's trailing ReadyForQuery has been
// observed (state becomes Exhausted).
func (r *CommandReader) NextResult() (bool, error) {
	if r.state == ReaderExhausted || r.state == ReaderClosed {
		return false, nil
	}
	if r.state == ReaderActive {
		// drain whatever rows remain of the current result first.
		for {
			more, err := r.Read()
			if err != nil {
				return false, err
			}
			if !more {
				break
			}
		}
	}

	if r.err != nil && r.resultsRemaining > 0 {
		// This and every later result through the batch's end were
		// silently drained server-side after an earlier command errored;
		// there is no per-command wire signal for them, so replay the
		// same error without touching the slot's message stream.
		r.resultsRemaining--
		return true, r.err
	}

	msg, ok := <-r.slot.messages
	if !ok {
		r.state = ReaderClosed
		return false, &ClosedError{what: "command reader"}
	}
	if _, isRFQ := msg.(*pgproto3.ReadyForQuery); isRFQ {
		r.state = ReaderExhausted
		return false, nil
	}

	if err := r.beginResultFrom(msg); err != nil {
		return r.state != ReaderExhausted, err
	}
	return r.state != ReaderExhausted, nil
}

// Close drains remaining messages up to the terminal ReadyForQuery so the
// session becomes reusable. It never leaves the session in an
// indeterminate state; if it cannot synchronize (I/O error observed via
// the slot's error channel), the session is left Broken (the session
// itself performs that transition from its read loop).
func (r *CommandReader) Close() error {
	if r.state == ReaderClosed {
		if r.onClose != nil {
			r.onClose()
			r.onClose = nil
		}
		return nil
	}

	for r.state != ReaderExhausted {
		more, err := r.NextResult()
		if err != nil && r.state == ReaderClosed {
			if r.onClose != nil {
				r.onClose()
				r.onClose = nil
			}
			return err
		}
		_ = more
		if r.state == ReaderExhausted || r.state == ReaderClosed {
			break
		}
	}

	r.state = ReaderClosed
	if r.onClose != nil {
		r.onClose()
		r.onClose = nil
	}
	select {
	case err := <-r.slot.errCh:
		return err
	default:
		return nil
	}
}

// OnClose registers a callback invoked exactly once when Close completes,
// used by exclusively-held connections to release their in-flight guard.
func (r *CommandReader) OnClose(f func()) { r.onClose = f }

func parseRowsAffected(tag []byte) int64 {
	// CommandTag is e.g. "SELECT 3", "INSERT 0 1", "UPDATE 2", "DELETE 0".
	// The row count is the last space-separated field.
	i := len(tag)
	for i > 0 && tag[i-1] != ' ' {
		i--
	}
	if i == len(tag) {
		return -1
	}
	n, err := strconv.ParseInt(string(tag[i:]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
