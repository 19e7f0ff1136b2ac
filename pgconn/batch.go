package pgconn

import (
	"context"

	"github.com/pgmux/pgmux/pgproto3"
)

// BatchCommand is one queued extended-query command within a Batch.
type BatchCommand struct {
	StmtName      string // "" parses a fresh unnamed statement per command
	SQL           string
	ParamOIDs     []uint32
	Values        [][]byte
	ParamFormats  []int16
	ResultFormats []int16
}

// Batch queues several extended-query commands behind one trailing Sync,
// exercising the error-barrier property: a server error on command k
// leaves k+1..n to complete with the same error after a single
// ReadyForQuery, rather than corrupting the session.
type Batch struct {
	Commands []BatchCommand
}

// Queue appends a command to the batch.
func (b *Batch) Queue(sql string, values [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16) {
	b.Commands = append(b.Commands, BatchCommand{
		SQL: sql, Values: values, ParamOIDs: paramOIDs,
		ParamFormats: paramFormats, ResultFormats: resultFormats,
	})
}

// QueuePrepared appends a command that binds an already-prepared statement,
// skipping Parse for that command.
func (b *Batch) QueuePrepared(stmtName string, values [][]byte, paramFormats, resultFormats []int16) {
	b.Commands = append(b.Commands, BatchCommand{
		StmtName: stmtName, Values: values,
		ParamFormats: paramFormats, ResultFormats: resultFormats,
	})
}

// SendBatch writes every queued command's Parse?/Bind/Describe/Execute in
// sequence under a single write-lock hold, followed by exactly one Sync,
// and returns a CommandReader whose NextResult walks each command's result
// in submission order.
func (s *Session) SendBatch(ctx context.Context, b *Batch) (*CommandReader, error) {
	s.traceQueryStart("batch")

	sl, err := s.getCommandWriter(ctx)
	if err != nil {
		s.traceQueryEnd(err)
		return nil, err
	}

	for _, cmd := range b.Commands {
		if cmd.SQL != "" {
			s.fe.Send(&pgproto3.Parse{Name: cmd.StmtName, Query: cmd.SQL, ParameterOIDs: cmd.ParamOIDs})
		}

		params := make([]pgproto3.BindParameter, len(cmd.Values))
		for i, v := range cmd.Values {
			params[i] = pgproto3.NewBindParameter(v)
		}
		if err := s.fe.SendBind(&pgproto3.Bind{
			PreparedStatement:    cmd.StmtName,
			ParameterFormatCodes: cmd.ParamFormats,
			Parameters:           params,
			ResultFormatCodes:    cmd.ResultFormats,
		}); err != nil {
			s.releaseWriteLock()
			s.traceQueryEnd(err)
			return nil, err
		}

		s.fe.Send(&pgproto3.Describe{ObjectType: 'P'})
		s.fe.Send(&pgproto3.Execute{MaxRows: 0})

		if s.fe.ShouldFlush() {
			if err := s.fe.Flush(); err != nil {
				s.releaseWriteLock()
				werr := &IOError{Err: err}
				s.traceQueryEnd(werr)
				return nil, werr
			}
		}
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

	return newBatchCommandReader(s, sl, len(b.Commands)), nil
}
