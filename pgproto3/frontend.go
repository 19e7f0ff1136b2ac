package pgproto3

import (
	"errors"
	"io"
)

// Frontend is the client half of the wire protocol: it sends
// FrontendMessages and receives BackendMessages. One Frontend is owned by
// exactly one protocol session: a single cooperative reader
// drives Receive, while Send/Flush may be called by whichever caller
// currently holds that session's write lock.
type Frontend struct {
	cr *chunkReader
	w  io.Writer

	wbuf []byte

	// flyweight response values, reused across Receive calls to avoid an
	// allocation per message.
	bkd              BackendKeyData
	authnOk          AuthenticationOk
	authnCleartext   AuthenticationCleartextPassword
	authnMD5         AuthenticationMD5Password
	paramStatus      ParameterStatus
	readyForQuery    ReadyForQuery
	rowDescription   RowDescription
	dataRow          DataRow
	commandComplete  CommandComplete
	emptyQueryResp   EmptyQueryResponse
	parseComplete    ParseComplete
	bindComplete     BindComplete
	closeComplete    CloseComplete
	noData           NoData
	portalSuspended  PortalSuspended
	paramDescription ParameterDescription
	notification     NotificationResponse
	errorResponse    ErrorResponse
	noticeResponse   NoticeResponse
}

// NewFrontend returns a Frontend that reads from r and writes to w.
func NewFrontend(r io.Reader, w io.Writer) *Frontend {
	return &Frontend{
		cr:   newChunkReader(r),
		w:    w,
		wbuf: make([]byte, 0, 1024),
	}
}

// Send queues msg to be written on the next Flush.
func (f *Frontend) Send(msg FrontendMessage) {
	f.wbuf = msg.Encode(f.wbuf)
}

// SendBind queues a Bind message, failing immediately (before any bytes are
// buffered) if a parameter cannot report its declared length.
func (f *Frontend) SendBind(bind *Bind) error {
	buf, err := bind.EncodeChecked(f.wbuf)
	if err != nil {
		return err
	}
	f.wbuf = buf
	return nil
}

// SendStartupMessage queues the connection's StartupMessage.
func (f *Frontend) SendStartupMessage(msg *StartupMessage) {
	f.wbuf = msg.Encode(f.wbuf)
}

// SendCancelRequest queues a CancelRequest. It is intended to be used on a
// fresh secondary connection, immediately followed by a Flush and a close
// of the duplex.
func (f *Frontend) SendCancelRequest(req *CancelRequest) {
	f.wbuf = req.Encode(f.wbuf)
}

// Flush writes any queued messages to the underlying writer.
func (f *Frontend) Flush() error {
	n, err := f.w.Write(f.wbuf)

	const maxLen = 1024
	if len(f.wbuf) > maxLen {
		f.wbuf = make([]byte, 0, maxLen)
	} else {
		f.wbuf = f.wbuf[:0]
	}

	if err != nil {
		return &writeError{err: err, safeToRetry: n == 0}
	}

	return nil
}

// BufferedLen reports how many bytes are currently queued but not yet
// flushed.
func (f *Frontend) BufferedLen() int { return len(f.wbuf) }

// ShouldFlush reports whether BufferedLen has crossed the advisory
// threshold past which a streaming writer should flush rather than keep
// batching.
func (f *Frontend) ShouldFlush() bool { return len(f.wbuf) >= flushThreshold }

// ReadBufferLen reports how many already-read bytes are buffered on the
// receive side but not yet parsed into a message. A caller about to bypass
// Frontend and read the underlying connection directly must first drain
// this to zero or those bytes are lost.
func (f *Frontend) ReadBufferLen() int { return f.cr.Buffered() }

type writeError struct {
	err         error
	safeToRetry bool
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// SafeToRetry reports whether err is a write error for which zero bytes
// reached the wire, and so the write may be safely retried in full.
func SafeToRetry(err error) bool {
	var we *writeError
	if errors.As(err, &we) {
		return we.safeToRetry
	}
	return false
}

// Receive reads and returns the next backend message. The returned message
// is only valid until the next call to Receive: it aliases a reused,
// flyweight value.
//
// Receive intercepts async-response messages only to the
// extent of parsing them into their proper type; it is the session's job
// (not Frontend's) to recognize ParameterStatus/NoticeResponse/
// NotificationResponse and route them aside from command state.
func (f *Frontend) Receive() (BackendMessage, error) {
	header, err := f.cr.Next(headerLen)
	if err != nil {
		return nil, err
	}

	msgType := header[0]
	bodyLen, err := getBodyLen(header[1:])
	if err != nil {
		return nil, err
	}

	var body []byte
	if bodyLen > 0 {
		body, err = f.cr.Next(int(bodyLen))
		if err != nil {
			return nil, err
		}
	}

	var msg BackendMessage
	switch msgType {
	case 'R':
		msg, err = f.findAuthenticationMessageType(body)
		if err != nil {
			return nil, err
		}
	case 'S':
		msg = &f.paramStatus
	case 'K':
		msg = &f.bkd
	case 'Z':
		msg = &f.readyForQuery
	case 'T':
		msg = &f.rowDescription
	case 'D':
		msg = &f.dataRow
	case 'C':
		msg = &f.commandComplete
	case 'I':
		msg = &f.emptyQueryResp
	case '1':
		msg = &f.parseComplete
	case '2':
		msg = &f.bindComplete
	case '3':
		msg = &f.closeComplete
	case 'n':
		msg = &f.noData
	case 's':
		msg = &f.portalSuspended
	case 't':
		msg = &f.paramDescription
	case 'A':
		msg = &f.notification
	case 'E':
		msg = &f.errorResponse
	case 'N':
		msg = &f.noticeResponse
	default:
		return nil, errors.New("unknown message type: " + string(msgType))
	}

	if err := msg.Decode(body); err != nil {
		return nil, err
	}
	return msg, nil
}

func (f *Frontend) findAuthenticationMessageType(body []byte) (BackendMessage, error) {
	if len(body) < 4 {
		return nil, errors.New("bad authentication message")
	}
	authType := uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	switch authType {
	case 0:
		return &f.authnOk, nil
	case 3:
		return &f.authnCleartext, nil
	case 5:
		return &f.authnMD5, nil
	default:
		return nil, errors.New("unsupported authentication type")
	}
}
