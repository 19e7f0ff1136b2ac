package pgconn

import (
	"context"

	"github.com/pgmux/pgmux/pgproto3"
)

// Exec runs sql through the simple-query protocol. sql may contain several
// semicolon-separated statements; the returned CommandReader's NextResult
// walks each one's response in turn, exactly like a batch.
func (s *Session) Exec(ctx context.Context, sql string) (*CommandReader, error) {
	s.traceQueryStart(sql)

	sl, err := s.getCommandWriter(ctx)
	if err != nil {
		s.traceQueryEnd(err)
		return nil, err
	}

	s.fe.Send(&pgproto3.Query{String: sql})
	if err := s.fe.Flush(); err != nil {
		s.releaseWriteLock()
		werr := &IOError{Err: err}
		s.traceQueryEnd(werr)
		return nil, werr
	}
	s.releaseWriteLock()
	s.traceQueryEnd(nil)

	return NewCommandReader(s, sl), nil
}
