package pgmux

import (
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

// Rows is the caller-facing result contract: field_count, has_rows,
// rows_affected, is_closed, read(), next_result(), close().
type Rows struct {
	r     *pgconn.CommandReader
	flags ExecutionFlags

	initialized  bool
	rowCount     int
	singleRowEnd bool

	closeSession interface{ Close() error }
}

func newRows(r *pgconn.CommandReader, flags ExecutionFlags) *Rows {
	return &Rows{r: r, flags: flags}
}

// FieldCount reports the current result's column count.
func (rs *Rows) FieldCount() int { return rs.r.FieldCount() }

// HasRows reports whether the current result carries a row description.
func (rs *Rows) HasRows() bool { return rs.r.HasRows() }

// RowsAffected reports the row count parsed from the last CommandComplete
// tag, or -1 if none has been observed yet.
func (rs *Rows) RowsAffected() int64 { return rs.r.RowsAffected() }

// IsClosed reports whether Close has run to completion.
func (rs *Rows) IsClosed() bool { return rs.r.IsClosed() }

// Values returns the current row's column values, valid only immediately
// after Read returns true.
func (rs *Rows) Values() [][]byte { return rs.r.Values() }

// FieldDescriptions returns the current result's column metadata, handed
// to the decoder collaborator alongside Values() to produce typed values.
func (rs *Rows) FieldDescriptions() []pgproto3.FieldDescription { return rs.r.FieldDescriptions() }

// Err returns the error that ended the current result, if any.
func (rs *Rows) Err() error { return rs.r.Err() }

// Read initializes the reader on first call, then advances to the next
// row. With SingleRow set, it returns false after the first row has been
// observed even if the server sent more, and the remaining rows are
// discarded on Close.
func (rs *Rows) Read() (bool, error) {
	if rs.singleRowEnd {
		return false, nil
	}

	if !rs.initialized {
		rs.initialized = true
		if err := rs.r.Initialize(); err != nil {
			return false, err
		}
	}

	more, err := rs.r.Read()
	if err != nil || !more {
		return more, err
	}

	rs.rowCount++
	if rs.flags.has(SingleRow) {
		rs.singleRowEnd = true
	}
	return true, nil
}

// NextResult advances to the next command's response within a batch.
func (rs *Rows) NextResult() (bool, error) {
	rs.rowCount = 0
	rs.singleRowEnd = false
	return rs.r.NextResult()
}

// Close drains the remaining response so the underlying session becomes
// reusable, then closes the session too if this command set
// CloseConnection.
func (rs *Rows) Close() error {
	err := rs.r.Close()
	if rs.closeSession != nil {
		if cerr := rs.closeSession.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
