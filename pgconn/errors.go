// Package pgconn implements a single PostgreSQL protocol session: the
// connect handshake, the per-connection operation queue, extended- and
// simple-query execution, and the command reader that surfaces their
// results.
package pgconn

import (
	"errors"
	"fmt"
)

// PgError is a server-reported error (wire ErrorResponse), the ServerError
// kind named by the error taxonomy.
type PgError struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (e *PgError) Error() string {
	return e.Severity + ": " + e.Message + " (SQLSTATE " + e.Code + ")"
}

// SQLState classification constants for callers distinguishing transient
// from permanent server errors.
const (
	SQLStateInvalidSQLStatementName = "26000"
	SQLStateFeatureNotSupported     = "0A000"
	SQLStateQueryCanceled           = "57014"
	SQLStateDivisionByZero          = "22012"
	SQLStateSerializationFailure    = "40001"
	SQLStateDeadlockDetected        = "40P01"
	SQLStateAdminShutdown           = "57P01"
)

// ProtocolViolationError indicates the server sent a message sequence this
// driver does not know how to interpret (error kind ProtocolViolation).
type ProtocolViolationError struct {
	msg string
}

func (e *ProtocolViolationError) Error() string { return "protocol violation: " + e.msg }

func newProtocolViolationError(format string, args ...any) error {
	return &ProtocolViolationError{msg: fmt.Sprintf(format, args...)}
}

// IOError wraps an underlying transport error (error kind IO).
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return "io error: " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// CancelledError indicates the command was interrupted by a user
// cancellation request (error kind Cancelled).
type CancelledError struct{}

func (e *CancelledError) Error() string { return "command canceled" }

// ClosedError indicates an operation was attempted on a session or reader
// that has already been closed (error kind Closed/ObjectDisposed).
type ClosedError struct {
	what string
}

func (e *ClosedError) Error() string { return e.what + " is closed" }

// InvalidStateError indicates an operation was attempted while the session
// was not in a state that permits it (error kind InvalidState), e.g.
// submitting a command to a Broken session.
type InvalidStateError struct {
	msg string
}

func (e *InvalidStateError) Error() string { return "invalid state: " + e.msg }

func newInvalidStateError(format string, args ...any) error {
	return &InvalidStateError{msg: fmt.Sprintf(format, args...)}
}

// ArgumentError indicates a caller-supplied argument was invalid without
// any I/O having been attempted (error kind ArgumentError), e.g.
// CloseConnection on a multiplexed command. A Bind parameter without a
// declared length is reported as pgproto3.ErrLengthRequired, not as an
// ArgumentError.
type ArgumentError struct {
	msg string
}

func (e *ArgumentError) Error() string { return "argument error: " + e.msg }

func newArgumentError(format string, args ...any) error {
	return &ArgumentError{msg: fmt.Sprintf(format, args...)}
}

// NewArgumentError builds an ArgumentError for callers outside this
// package, e.g. the pgmux shim rejecting CloseConnection on a multiplexed
// command before any I/O is attempted.
func NewArgumentError(format string, args ...any) error {
	return newArgumentError(format, args...)
}

// ErrConnBusy indicates a bug in the calling code — issuing a command
// while one is already in flight on the same session — rather than a
// runtime condition.
var ErrConnBusy = errors.New("pgconn: session is already busy")
