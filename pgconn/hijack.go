package pgconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pgmux/pgmux/internal/ctxwatch"
	"github.com/pgmux/pgmux/pgproto3"
)

// HijackedConn is the result of hijacking a Session: the raw duplex and
// protocol state, handed to a caller who wants to drive the wire directly
// (a connection-pool proxy, or a COPY escape hatch this driver doesn't
// itself expose).
type HijackedConn struct {
	Conn              net.Conn
	Frontend          *pgproto3.Frontend
	PID               uint32
	SecretKey         uint32
	ParameterStatuses map[string]string
	TxStatus          byte
	Config            *Config
}

// Hijack stops the session's read loop and hands the caller raw ownership
// of the duplex and frontend. The session must be Ready with no pending
// slots; it is StateHijacked and unusable through Session methods
// afterward. Call SyncConn first if the caller intends to read Conn
// directly rather than continuing to use Frontend.
func (s *Session) Hijack() (*HijackedConn, error) {
	s.mu.Lock()
	if s.state != StateReady || !s.queue.isIdle() {
		err := newInvalidStateError("Hijack requires an idle, Ready session, got %s", s.state)
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	// Hold the write lock for the rest of Hijack so a concurrent writer
	// can't be mid-command when the session is handed off.
	if err := s.wl.Acquire(context.Background()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateReady || !s.queue.isIdle() {
		err := newInvalidStateError("Hijack requires an idle, Ready session, got %s", s.state)
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateHijacked
	hc := &HijackedConn{
		Conn:              s.conn,
		Frontend:          s.fe,
		PID:               s.pid,
		SecretKey:         s.secretKey,
		ParameterStatuses: s.parameterStatus,
		TxStatus:          s.txStatus,
		Config:            s.cfg,
	}
	s.mu.Unlock()

	close(s.stopCh)
	return hc, nil
}

// Construct builds a Session from a connection previously obtained via
// Hijack (directly, or relayed through a proxy that preserved the wire
// state). hc's connection must be idle and synchronized; Construct resumes
// the read loop immediately and the returned Session is Ready.
func Construct(hc *HijackedConn, tracer Tracer) (*Session, error) {
	params := hc.ParameterStatuses
	if params == nil {
		params = make(map[string]string)
	}

	s := &Session{
		conn:            hc.Conn,
		fe:              hc.Frontend,
		cfg:             hc.Config,
		wl:              newWriteLock(),
		state:           StateReady,
		pid:             hc.PID,
		secretKey:       hc.SecretKey,
		txStatus:        hc.TxStatus,
		parameterStatus: params,
		tracer:          tracer,
		brokenCh:        make(chan struct{}),
		stopCh:          make(chan struct{}),
		DrainTimeout:    5 * time.Second,
	}
	s.cw = ctxwatch.NewContextWatcher(
		func() { _ = s.conn.SetDeadline(time.Now()) },
		func() { _ = s.conn.SetDeadline(time.Time{}) },
	)

	go s.readLoop()

	return s, nil
}

// SyncConn drains any buffered-but-unread bytes from the receive side by
// repeatedly pinging the server, so that Hijack's returned Conn can safely
// be read from directly afterward. It is unnecessary if the caller keeps
// using HijackedConn.Frontend instead of Conn.
func (s *Session) SyncConn(ctx context.Context) error {
	for i := 0; i < 10; i++ {
		if s.fe.ReadBufferLen() == 0 {
			return nil
		}
		if err := s.ping(ctx); err != nil {
			return fmt.Errorf("pgconn: SyncConn: ping failed while syncing conn: %w", err)
		}
	}
	return errors.New("pgconn: SyncConn: conn never synchronized")
}

func (s *Session) ping(ctx context.Context) error {
	r, err := s.Exec(ctx, "-- ping")
	if err != nil {
		return err
	}
	if err := r.Initialize(); err != nil {
		return err
	}
	return r.Close()
}
