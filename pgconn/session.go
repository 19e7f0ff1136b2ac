package pgconn

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pgmux/pgmux/internal/ctxwatch"
	"github.com/pgmux/pgmux/pgproto3"
)

// State is one of the Session lifecycle states.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateInTransaction
	StateInFailedTransaction
	StateBroken
	StateHijacked
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateInTransaction:
		return "in_transaction"
	case StateInFailedTransaction:
		return "in_failed_transaction"
	case StateBroken:
		return "broken"
	case StateHijacked:
		return "hijacked"
	default:
		return "unknown"
	}
}

// Session is one PostgreSQL protocol connection: the handshake, the
// single cooperative read loop, the write lock, and the operation queue
// that lets pipelined callers overlap writes and reads.
type Session struct {
	conn    net.Conn
	fe      *pgproto3.Frontend
	cfg     *Config
	queue   opQueue
	wl      writeLock
	cw      *ctxwatch.ContextWatcher
	tracer  Tracer

	mu             sync.Mutex
	state          State
	pid            uint32
	secretKey      uint32
	txStatus       byte
	parameterStatus map[string]string
	breakErr       error

	onNotification func(*Notification)

	brokenCh chan struct{} // closed once, by Complete, so an idle readLoop can wake and exit
	stopCh   chan struct{} // closed once, by Hijack, so an idle readLoop can wake and exit without breaking the session

	DrainTimeout time.Duration
}

// Notification is a LISTEN/NOTIFY payload delivered asynchronously.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// Tracer is the subset of ambient logging the session drives into; see
// tracelog.Logger for the concrete adapters.
type Tracer interface {
	TraceConnectStart(cfg *Config)
	TraceConnectEnd(err error)
	TraceQueryStart(sql string)
	TraceQueryEnd(err error)
	TraceSessionBreak(err error)
}

// Connect dials cfg, performs the startup/authentication handshake, and
// starts the session's read loop. The returned Session is Ready.
func Connect(ctx context.Context, cfg *Config, tracer Tracer) (*Session, error) {
	if tracer != nil {
		tracer.TraceConnectStart(cfg)
	}

	dial := cfg.DialFunc
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", cfg.Address())
	if err != nil {
		if tracer != nil {
			tracer.TraceConnectEnd(err)
		}
		return nil, &IOError{Err: err}
	}

	if cfg.TLSConfig != nil {
		conn, err = startTLS(conn, cfg.TLSConfig)
		if err != nil {
			if tracer != nil {
				tracer.TraceConnectEnd(err)
			}
			return nil, &IOError{Err: err}
		}
	}

	s := &Session{
		conn:            conn,
		fe:              pgproto3.NewFrontend(conn, conn),
		cfg:             cfg,
		wl:              newWriteLock(),
		state:           StateConnecting,
		parameterStatus: make(map[string]string),
		tracer:          tracer,
		brokenCh:        make(chan struct{}),
		stopCh:          make(chan struct{}),
		DrainTimeout:    5 * time.Second,
	}
	s.cw = ctxwatch.NewContextWatcher(
		func() { _ = conn.SetDeadline(time.Now()) },
		func() { _ = conn.SetDeadline(time.Time{}) },
	)

	if err := s.handshake(ctx, cfg); err != nil {
		conn.Close()
		if tracer != nil {
			tracer.TraceConnectEnd(err)
		}
		return nil, err
	}

	if tracer != nil {
		tracer.TraceConnectEnd(nil)
	}

	go s.readLoop()

	return s, nil
}

func (s *Session) handshake(ctx context.Context, cfg *Config) error {
	s.cw.Watch(ctx)
	defer s.cw.Unwatch()

	params := map[string]string{
		"user":     cfg.User,
		"database": cfg.Database,
	}
	for k, v := range cfg.RuntimeParams {
		params[k] = v
	}

	s.fe.SendStartupMessage(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      params,
	})
	if err := s.fe.Flush(); err != nil {
		return &IOError{Err: err}
	}

	for {
		msg, err := s.fe.Receive()
		if err != nil {
			return &IOError{Err: err}
		}

		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
			// proceed to BackendKeyData/ParameterStatus/ReadyForQuery
		case *pgproto3.AuthenticationCleartextPassword:
			s.fe.Send(&pgproto3.PasswordMessage{Password: cfg.ResolvePassword()})
			if err := s.fe.Flush(); err != nil {
				return &IOError{Err: err}
			}
		case *pgproto3.AuthenticationMD5Password:
			s.fe.Send(&pgproto3.PasswordMessage{Password: hashMD5Password(cfg.User, cfg.ResolvePassword(), m.Salt)})
			if err := s.fe.Flush(); err != nil {
				return &IOError{Err: err}
			}
		case *pgproto3.BackendKeyData:
			s.pid = m.ProcessID
			s.secretKey = m.SecretKey
		case *pgproto3.ParameterStatus:
			s.parameterStatus[m.Name] = m.Value
		case *pgproto3.ErrorResponse:
			return pgErrorFromWire(m)
		case *pgproto3.ReadyForQuery:
			s.mu.Lock()
			s.state = StateReady
			s.txStatus = m.TxStatus
			s.mu.Unlock()
			return nil
		default:
			return newProtocolViolationError("unexpected message %T during handshake", msg)
		}
	}
}

func hashMD5Password(user, password string, salt [4]byte) string {
	h1 := md5.Sum([]byte(password + user))
	h1Hex := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(h1Hex), salt[:]...))
	return "md5" + hex.EncodeToString(h2[:])
}

func pgErrorFromWire(m *pgproto3.ErrorResponse) *PgError {
	return &PgError{
		Severity: m.Severity, Code: m.Code, Message: m.Message, Detail: m.Detail,
		Hint: m.Hint, Position: m.Position, InternalPosition: m.InternalPosition,
		InternalQuery: m.InternalQuery, Where: m.Where, SchemaName: m.SchemaName,
		TableName: m.TableName, ColumnName: m.ColumnName, DataTypeName: m.DataTypeName,
		ConstraintName: m.ConstraintName, File: m.File, Line: m.Line, Routine: m.Routine,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the backend process ID, used to build a CancelRequest.
func (s *Session) PID() uint32 { return s.pid }

// SecretKey returns the backend cancellation secret.
func (s *Session) SecretKey() uint32 { return s.secretKey }

// TxStatus returns the most recently observed ReadyForQuery indicator.
func (s *Session) TxStatus() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStatus
}

// ParameterStatus returns the last reported value of a runtime parameter.
func (s *Session) ParameterStatus(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parameterStatus[name]
}

// OnNotification installs a callback invoked by the read loop whenever an
// asynchronous NotificationResponse arrives (LISTEN/NOTIFY supplement).
func (s *Session) OnNotification(f func(*Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotification = f
}

// PendingSlots reports the queue depth, used by the dispatcher's
// session-selection policy.
func (s *Session) PendingSlots() int { return s.queue.Len() }

// WriteLockFree reports whether the write lock is currently unheld,
// without acquiring it.
func (s *Session) WriteLockFree() bool {
	if s.wl.TryAcquire() {
		s.wl.Release()
		return true
	}
	return false
}

// getCommandWriter enqueues a new slot and acquires the write lock,
// returning both; the caller writes its frontend messages, then must call
// releaseWriteLock once the command's final message is flushed: the lock
// is released after the write, not after the read.
func (s *Session) getCommandWriter(ctx context.Context) (*slot, error) {
	switch s.State() {
	case StateBroken:
		return nil, s.lockedBreakErr()
	case StateHijacked:
		return nil, newInvalidStateError("session was hijacked and is no longer usable")
	}
	sl := s.queue.enqueue()
	if err := s.wl.Acquire(ctx); err != nil {
		return nil, err
	}
	return sl, nil
}

func (s *Session) releaseWriteLock() { s.wl.Release() }

// traceQueryStart/traceQueryEnd bracket the write phase of a command
// submission; the tracer only sees the outcome of getting the command
// onto the wire, not its eventual row results, since those are consumed
// later and possibly by a different goroutine than the submitter.
func (s *Session) traceQueryStart(sql string) {
	if s.tracer != nil {
		s.tracer.TraceQueryStart(sql)
	}
}

func (s *Session) traceQueryEnd(err error) {
	if s.tracer != nil {
		s.tracer.TraceQueryEnd(err)
	}
}

func (s *Session) lockedBreakErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakErr != nil {
		return s.breakErr
	}
	return &ClosedError{what: "session"}
}

// Complete transitions the session to Broken, propagates err to every
// pending slot in FIFO order, and closes the duplex.
func (s *Session) Complete(err error) {
	s.mu.Lock()
	if s.state == StateBroken {
		s.mu.Unlock()
		return
	}
	s.state = StateBroken
	s.breakErr = err
	s.mu.Unlock()
	close(s.brokenCh)

	if s.tracer != nil {
		s.tracer.TraceSessionBreak(err)
	}

	s.queue.breakAll(err)
	s.conn.Close()
}

// readLoop is the single cooperative task that drives reads for this
// session. It intercepts async-response messages itself and forwards
// everything else to the current head slot.
func (s *Session) readLoop() {
	for {
		head := s.waitForHeadOrBreak()
		if head == nil {
			return
		}

		err := s.pumpOneCommand(head)
		s.queue.completeHead(err)
		if err != nil {
			s.Complete(err)
			return
		}
	}
}

// waitForHeadOrBreak blocks until the queue has a head slot ready to be
// read, or the session breaks while idle. It never exits merely because
// the queue happened to be momentarily empty.
func (s *Session) waitForHeadOrBreak() *slot {
	for {
		s.queue.mu.Lock()
		head := s.queue.head
		s.queue.mu.Unlock()
		if head != nil {
			<-head.readReady
			if s.State() == StateBroken {
				return nil
			}
			return head
		}

		wake := s.queue.waitChan()
		if wake == nil {
			continue // a slot was enqueued between the two locks above
		}
		select {
		case <-wake:
		case <-s.brokenCh:
			return nil
		case <-s.stopCh:
			return nil
		}
	}
}

// pumpOneCommand reads backend messages until the slot's command reaches a
// terminal state (ReadyForQuery for the extended/simple protocols this
// driver speaks), forwarding each to the slot's message channel and
// intercepting async-response messages along the way.
func (s *Session) pumpOneCommand(sl *slot) error {
	for {
		msg, err := s.fe.Receive()
		if err != nil {
			return &IOError{Err: err}
		}

		switch m := msg.(type) {
		case *pgproto3.ParameterStatus:
			s.mu.Lock()
			s.parameterStatus[m.Name] = m.Value
			s.mu.Unlock()
			continue
		case *pgproto3.NoticeResponse:
			continue
		case *pgproto3.NotificationResponse:
			s.mu.Lock()
			cb := s.onNotification
			s.mu.Unlock()
			if cb != nil {
				cb(&Notification{PID: m.PID, Channel: m.Channel, Payload: m.Payload})
			}
			continue
		case *pgproto3.ReadyForQuery:
			s.mu.Lock()
			s.txStatus = m.TxStatus
			switch m.TxStatus {
			case 'I':
				s.state = StateReady
			case 'T':
				s.state = StateInTransaction
			case 'E':
				s.state = StateInFailedTransaction
			}
			s.mu.Unlock()
			sl.messages <- msg
			return nil
		default:
			sl.messages <- msg
		}
	}
}

// Close sends Terminate and closes the duplex, for a session that is not
// (or is no longer) broken.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateBroken:
		s.mu.Unlock()
		return s.conn.Close()
	case StateHijacked:
		// The duplex now belongs to whoever called Hijack; Close must not
		// reach in and close it out from under them.
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.fe.Send(&pgproto3.Terminate{})
	_ = s.fe.Flush()
	s.Complete(&ClosedError{what: "session"})
	return nil
}

// sslRequestCode is the fixed sentinel that asks the server whether it
// will accept a TLS upgrade, sent on the same untyped framing as
// CancelRequest before the real StartupMessage.
const sslRequestCode = 80877103

func startTLS(conn net.Conn, tlsConfig *tls.Config) (net.Conn, error) {
	buf := make([]byte, 0, 8)
	buf = appendInt32(buf, 8)
	buf = appendUint32(buf, sslRequestCode)
	if _, err := conn.Write(buf); err != nil {
		return nil, err
	}

	var resp [1]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return nil, err
	}
	if resp[0] != 'S' {
		return nil, errors.New("pgconn: server refused TLS upgrade")
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func appendInt32(dst []byte, n int32) []byte {
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendUint32(dst []byte, n uint32) []byte {
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
