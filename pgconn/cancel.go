package pgconn

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pgmux/pgmux/pgproto3"
)

// PerformUserCancellation opens a short-lived secondary connection and
// sends a CancelRequest for this session's backend_pid/backend_secret.
// It waits for the write lock up to deadline so it does not race an
// in-flight write; on timeout it forcibly breaks the session rather than
// cancel indefinitely.
func (s *Session) PerformUserCancellation(ctx context.Context, deadline time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := s.wl.Acquire(cctx); err != nil {
		s.Complete(fmt.Errorf("pgconn: cancellation timed out waiting for write lock: %w", err))
		return &CancelledError{}
	}
	s.wl.Release()

	dial := s.cfg.DialFunc
	if dial == nil {
		d := &net.Dialer{Timeout: deadline}
		dial = d.DialContext
	}
	conn, err := dial(cctx, "tcp", s.cfg.Address())
	if err != nil {
		return &IOError{Err: err}
	}
	defer conn.Close()

	fe := pgproto3.NewFrontend(conn, conn)
	fe.SendCancelRequest(&pgproto3.CancelRequest{ProcessID: s.pid, SecretKey: s.secretKey})
	if err := fe.Flush(); err != nil {
		return &IOError{Err: err}
	}
	return nil
}
