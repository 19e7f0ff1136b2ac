package pgproto3

import (
	"errors"
	"io"
)

// Backend is the server half of the wire protocol. pgmux is a client
// driver, so Backend exists only to let internal/pgmock stand in for a real
// PostgreSQL server in tests: it receives FrontendMessages and sends
// BackendMessages, the mirror image of Frontend.
type Backend struct {
	cr *chunkReader
	w  io.Writer

	wbuf []byte

	bind     Bind
	cancel   CancelRequest
	cls      Close
	describe Describe
	execute  Execute
	flush    Flush
	parse    Parse
	pwd      PasswordMessage
	query    Query
	sync     Sync
	terminate Terminate
	startup  StartupMessage
}

// NewBackend returns a Backend that reads from r and writes to w.
func NewBackend(r io.Reader, w io.Writer) *Backend {
	return &Backend{
		cr:   newChunkReader(r),
		w:    w,
		wbuf: make([]byte, 0, 1024),
	}
}

// Send queues msg to be written on the next Flush.
func (b *Backend) Send(msg BackendMessage) {
	b.wbuf = msg.Encode(b.wbuf)
}

// Flush writes any queued messages to the underlying writer.
func (b *Backend) Flush() error {
	n, err := b.w.Write(b.wbuf)
	const maxLen = 1024
	if len(b.wbuf) > maxLen {
		b.wbuf = make([]byte, 0, maxLen)
	} else {
		b.wbuf = b.wbuf[:0]
	}
	if err != nil {
		return &writeError{err: err, safeToRetry: n == 0}
	}
	return nil
}

// ReceiveStartupMessage reads the untyped startup-phase header (or a
// CancelRequest, which uses the same untyped framing) that begins every
// connection.
func (b *Backend) ReceiveStartupMessage() (FrontendMessage, error) {
	header, err := b.cr.Next(untypedHeaderLen)
	if err != nil {
		return nil, err
	}
	bodyLen, err := getBodyLen(header)
	if err != nil {
		return nil, err
	}
	body, err := b.cr.Next(int(bodyLen))
	if err != nil {
		return nil, err
	}

	if len(body) >= 4 {
		code := uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
		if code == cancelRequestCode {
			if err := b.cancel.Decode(body); err != nil {
				return nil, err
			}
			return &b.cancel, nil
		}
	}

	if err := b.startup.Decode(body); err != nil {
		return nil, err
	}
	return &b.startup, nil
}

// Receive reads and returns the next frontend message. The returned message
// is only valid until the next call to Receive.
func (b *Backend) Receive() (FrontendMessage, error) {
	header, err := b.cr.Next(headerLen)
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
		body, err = b.cr.Next(int(bodyLen))
		if err != nil {
			return nil, err
		}
	}

	var msg FrontendMessage
	switch msgType {
	case 'B':
		msg = &b.bind
	case 'C':
		msg = &b.cls
	case 'D':
		msg = &b.describe
	case 'E':
		msg = &b.execute
	case 'H':
		msg = &b.flush
	case 'P':
		msg = &b.parse
	case 'p':
		msg = &b.pwd
	case 'Q':
		msg = &b.query
	case 'S':
		msg = &b.sync
	case 'X':
		msg = &b.terminate
	default:
		return nil, errors.New("unknown message type: " + string(msgType))
	}

	if err := msg.Decode(body); err != nil {
		return nil, err
	}
	return msg, nil
}
