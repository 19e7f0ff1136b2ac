// Package pgmux is the thin public command/reader surface over pgconn's
// wire-protocol engine and pgxpool's pooling/dispatch. It owns nothing
// protocol-level itself: it validates execution flags against the
// submission path (exclusive vs. multiplexed) and translates the result
// into the caller-facing Rows contract.
package pgmux

import (
	"context"

	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgxpool"
)

// ExecutionFlags narrows how a command is planned and executed. The zero
// value, Default, lets the dispatcher choose.
type ExecutionFlags uint8

const (
	Default ExecutionFlags = 0

	// SchemaOnly requests row description without executing (Describe
	// only, MaxRows unused).
	SchemaOnly ExecutionFlags = 1 << iota

	// KeyInfo asks the decoder collaborator to resolve primary-key/table
	// origin metadata for the result columns. The core does not interpret
	// this flag: it changes nothing in the submission, and the returned
	// Rows does not expose it.
	KeyInfo

	// SingleRow makes Rows.Read report false after the first row. The
	// server still sends the whole result; the remaining rows are read and
	// discarded on Close.
	SingleRow

	// Prepared makes DataSource.Exec run sql through the registry-named
	// prepared-statement path (DataSource.ExecPrepared with no parameters)
	// instead of the simple-query protocol. Only DataSource.Exec reads it.
	Prepared

	// Unprepared forces the unnamed-statement path even if a cached name
	// already exists for this sql, bypassing the registry/statement-cache
	// lookup entirely. Only meaningful on DataSource.Exec/ExecPrepared,
	// which is where that cache lookup happens; Conn.ExecPrepared takes an
	// explicit statement name and has no cache to bypass.
	Unprepared

	// CloseConnection closes the underlying session once this command
	// completes. Only valid on an exclusively-held Conn: a multiplexed
	// submission has no session of its own to close, so it is rejected
	// with ArgumentError before any I/O is attempted.
	CloseConnection
)

func (f ExecutionFlags) has(bit ExecutionFlags) bool { return f&bit != 0 }

// DataSource is the connectionless, multiplexed entry point: every Exec*
// call here picks whatever session the dispatcher judges least loaded.
type DataSource struct {
	ds *pgxpool.DataSource
}

// Connect builds a DataSource from a DSN.
func Connect(ctx context.Context, dsn string) (*DataSource, error) {
	ds, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DataSource{ds: ds}, nil
}

// Close closes every pooled session.
func (d *DataSource) Close() { d.ds.Close() }

// Stat returns the pool's current resource accounting.
func (d *DataSource) Stat() *pgxpool.Stat { return d.ds.Stat() }

// Acquire reserves one session exclusively for the returned Conn's
// lifetime; Conn.Release must be called to return it to the pool.
func (d *DataSource) Acquire(ctx context.Context) (*Conn, error) {
	c, err := d.ds.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// Exec submits sql through the multiplexed path. flags must not include
// CloseConnection; there is no session of this caller's own to close.
func (d *DataSource) Exec(ctx context.Context, sql string, flags ExecutionFlags) (*Rows, error) {
	if flags.has(CloseConnection) {
		return nil, argErr("CloseConnection is not valid on a multiplexed command")
	}

	var (
		r   *pgconn.CommandReader
		err error
	)
	switch {
	case flags.has(SchemaOnly):
		r, err = d.ds.ExecParamsSchemaOnly(ctx, sql, nil, nil, nil)
	case flags.has(Prepared):
		r, err = d.ds.ExecPrepared(ctx, sql, nil, nil, nil, flags.has(Unprepared))
	default:
		r, err = d.ds.Exec(ctx, sql)
	}
	if err != nil {
		return nil, err
	}
	return newRows(r, flags), nil
}

// ExecParams submits sql with bind parameters through the multiplexed
// extended-query path using the unnamed statement. SchemaOnly sends
// Describe without ever sending Execute.
func (d *DataSource) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16, flags ExecutionFlags) (*Rows, error) {
	if flags.has(CloseConnection) {
		return nil, argErr("CloseConnection is not valid on a multiplexed command")
	}

	var (
		r   *pgconn.CommandReader
		err error
	)
	if flags.has(SchemaOnly) {
		r, err = d.ds.ExecParamsSchemaOnly(ctx, sql, paramValues, paramOIDs, paramFormats)
	} else {
		r, err = d.ds.ExecParams(ctx, sql, paramValues, paramOIDs, paramFormats, resultFormats)
	}
	if err != nil {
		return nil, err
	}
	return newRows(r, flags), nil
}

// ExecPrepared submits sql through the multiplexed path, consulting the
// data source's registry and each session's statement cache so repeated
// callers share one prepared name without re-coordinating it themselves.
// Unprepared bypasses that cache lookup; SchemaOnly bypasses the registry
// entirely and runs a one-off Describe-only unnamed submission instead,
// since there is no value in naming a statement that is never executed.
func (d *DataSource) ExecPrepared(ctx context.Context, sql string, paramValues [][]byte, paramFormats, resultFormats []int16, flags ExecutionFlags) (*Rows, error) {
	if flags.has(CloseConnection) {
		return nil, argErr("CloseConnection is not valid on a multiplexed command")
	}

	var (
		r   *pgconn.CommandReader
		err error
	)
	if flags.has(SchemaOnly) {
		r, err = d.ds.ExecParamsSchemaOnly(ctx, sql, paramValues, nil, paramFormats)
	} else {
		r, err = d.ds.ExecPrepared(ctx, sql, paramValues, paramFormats, resultFormats, flags.has(Unprepared))
	}
	if err != nil {
		return nil, err
	}
	return newRows(r, flags), nil
}

// Conn is an exclusively-acquired session. Unlike DataSource's multiplexed
// path, commands here may set CloseConnection and may pipeline if
// AllowPipelining(true) was called.
type Conn struct {
	c *pgxpool.Conn
}

// AllowPipelining permits more than one in-flight command on this
// connection at a time.
func (c *Conn) AllowPipelining(allow bool) { c.c.AllowPipelining(allow) }

// Release returns the session to its data source.
func (c *Conn) Release() { c.c.Release() }

// Exec submits sql through the simple-query protocol on this connection.
// SchemaOnly instead runs it through the extended protocol with Describe
// but no Execute, since the simple protocol has no way to ask for a row
// description without running the command.
func (c *Conn) Exec(ctx context.Context, sql string, flags ExecutionFlags) (*Rows, error) {
	if flags.has(SchemaOnly) {
		r, err := c.c.ExecParamsSchemaOnly(ctx, sql, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		return c.finishExec(r, flags)
	}
	r, err := c.c.Exec(ctx, sql)
	if err != nil {
		return nil, err
	}
	return c.finishExec(r, flags)
}

// ExecParams submits sql with bind parameters on this connection using the
// unnamed statement. SchemaOnly sends Describe without ever sending
// Execute.
func (c *Conn) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16, flags ExecutionFlags) (*Rows, error) {
	var (
		r   *pgconn.CommandReader
		err error
	)
	if flags.has(SchemaOnly) {
		r, err = c.c.ExecParamsSchemaOnly(ctx, sql, paramValues, paramOIDs, paramFormats)
	} else {
		r, err = c.c.ExecParams(ctx, sql, paramValues, paramOIDs, paramFormats, resultFormats)
	}
	if err != nil {
		return nil, err
	}
	return c.finishExec(r, flags)
}

// ExecPrepared runs a statement this connection has already Prepare'd.
// SchemaOnly sends Describe without ever sending Execute.
func (c *Conn) ExecPrepared(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats, resultFormats []int16, flags ExecutionFlags) (*Rows, error) {
	var (
		r   *pgconn.CommandReader
		err error
	)
	if flags.has(SchemaOnly) {
		r, err = c.c.ExecPreparedSchemaOnly(ctx, stmtName, paramValues, paramFormats)
	} else {
		r, err = c.c.ExecPrepared(ctx, stmtName, paramValues, paramFormats, resultFormats)
	}
	if err != nil {
		return nil, err
	}
	return c.finishExec(r, flags)
}

// Prepare parses and describes a statement on this connection without
// binding or executing it. This is the dedicated entry point for that;
// there is no corresponding ExecutionFlags bit, since a flag on Exec would
// only restate what calling Prepare instead of Exec already says.
func (c *Conn) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return c.c.Prepare(ctx, name, sql, nil)
}

func (c *Conn) finishExec(r *pgconn.CommandReader, flags ExecutionFlags) (*Rows, error) {
	rows := newRows(r, flags)
	if flags.has(CloseConnection) {
		rows.closeSession = c.c.Session()
	}
	return rows, nil
}

func argErr(format string, args ...any) error {
	return pgconn.NewArgumentError(format, args...)
}
