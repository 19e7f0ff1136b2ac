package pgconn

import (
	"context"

	"github.com/pgmux/pgmux/pgproto3"
)

// StatementDescription is the server's description of a prepared
// statement's parameters and result row shape.
type StatementDescription struct {
	Name          string
	SQL           string
	ParameterOIDs []uint32
	Fields        []pgproto3.FieldDescription
}

// ExecParams runs sql through the extended-query protocol using the
// unnamed statement: Parse → Bind → Describe(Portal) → Execute(0) → Sync.
// paramValues[i] == nil encodes SQL NULL.
func (s *Session) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16) (*CommandReader, error) {
	return s.execExtended(ctx, "", sql, paramOIDs, paramValues, paramFormats, resultFormats, false)
}

// ExecPrepared runs a previously Prepare'd statement: Bind → Describe →
// Execute(0) → Sync, skipping Parse entirely since the statement is
// already prepared on the session.
func (s *Session) ExecPrepared(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats, resultFormats []int16) (*CommandReader, error) {
	return s.execExtended(ctx, stmtName, "", nil, paramValues, paramFormats, resultFormats, false)
}

// ExecParamsSchemaOnly runs Parse → Bind → Describe(Portal) → Sync without
// ever sending Execute, for a caller that wants the result's row
// description (field names/types) and nothing else.
func (s *Session) ExecParamsSchemaOnly(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats []int16) (*CommandReader, error) {
	return s.execExtended(ctx, "", sql, paramOIDs, paramValues, paramFormats, nil, true)
}

// ExecPreparedSchemaOnly is ExecPrepared's Describe-only counterpart: Bind →
// Describe(Portal) → Sync, no Execute.
func (s *Session) ExecPreparedSchemaOnly(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats []int16) (*CommandReader, error) {
	return s.execExtended(ctx, stmtName, "", nil, paramValues, paramFormats, nil, true)
}

func (s *Session) execExtended(ctx context.Context, stmtName, sql string, paramOIDs []uint32, paramValues [][]byte, paramFormats, resultFormats []int16, schemaOnly bool) (*CommandReader, error) {
	traced := sql
	if traced == "" {
		traced = stmtName
	}
	s.traceQueryStart(traced)

	sl, err := s.getCommandWriter(ctx)
	if err != nil {
		s.traceQueryEnd(err)
		return nil, err
	}

	if sql != "" {
		s.fe.Send(&pgproto3.Parse{Name: stmtName, Query: sql, ParameterOIDs: paramOIDs})
	}

	params := make([]pgproto3.BindParameter, len(paramValues))
	for i, v := range paramValues {
		params[i] = pgproto3.NewBindParameter(v)
	}
	if err := s.fe.SendBind(&pgproto3.Bind{
		PreparedStatement:    stmtName,
		ParameterFormatCodes: paramFormats,
		Parameters:           params,
		ResultFormatCodes:    resultFormats,
	}); err != nil {
		s.releaseWriteLock()
		s.traceQueryEnd(err)
		return nil, err
	}

	s.fe.Send(&pgproto3.Describe{ObjectType: 'P'})
	if !schemaOnly {
		s.fe.Send(&pgproto3.Execute{MaxRows: 0})
	}
	s.fe.Send(&pgproto3.Sync{})

	if err := s.fe.Flush(); err != nil {
		s.releaseWriteLock()
		werr := &IOError{Err: err}
		s.traceQueryEnd(werr)
		return nil, werr
	}
	s.releaseWriteLock()
	s.traceQueryEnd(nil)

	if schemaOnly {
		return newSchemaOnlyCommandReader(s, sl), nil
	}
	return NewCommandReader(s, sl), nil
}

// Prepare parses and describes a statement without binding/executing it,
// returning its parameter types and result row shape. name == "" prepares
// the unnamed statement.
func (s *Session) Prepare(ctx context.Context, name, sql string, paramOIDs []uint32) (*StatementDescription, error) {
	sl, err := s.getCommandWriter(ctx)
	if err != nil {
		return nil, err
	}

	s.fe.Send(&pgproto3.Parse{Name: name, Query: sql, ParameterOIDs: paramOIDs})
	s.fe.Send(&pgproto3.Describe{ObjectType: 'S', Name: name})
	s.fe.Send(&pgproto3.Sync{})

	if err := s.fe.Flush(); err != nil {
		s.releaseWriteLock()
		return nil, &IOError{Err: err}
	}
	s.releaseWriteLock()

	<-sl.readReady

	sd := &StatementDescription{Name: name, SQL: sql}
	for {
		msg, ok := <-sl.messages
		if !ok {
			select {
			case err := <-sl.errCh:
				return nil, err
			default:
				return nil, &ClosedError{what: "session"}
			}
		}

		switch m := msg.(type) {
		case *pgproto3.ParseComplete:
			// ack
		case *pgproto3.ParameterDescription:
			sd.ParameterOIDs = m.ParameterOIDs
		case *pgproto3.RowDescription:
			sd.Fields = m.Fields
		case *pgproto3.NoData:
			sd.Fields = nil
		case *pgproto3.ErrorResponse:
			// drain to ReadyForQuery before surfacing, as any other command would.
			pgErr := pgErrorFromWire(m)
			for {
				next, ok := <-sl.messages
				if !ok {
					return nil, pgErr
				}
				if _, isRFQ := next.(*pgproto3.ReadyForQuery); isRFQ {
					return nil, pgErr
				}
			}
		case *pgproto3.ReadyForQuery:
			return sd, nil
		default:
			return nil, newProtocolViolationError("unexpected message %T during Prepare", msg)
		}
	}
}
