// Package pgproto3 implements the PostgreSQL wire protocol version 3.
//
// It is used by both sides of the connection: the session half that speaks
// the frontend role (sends Parse/Bind/Execute, receives RowDescription/
// DataRow/...) and the test-mock half that speaks the backend role.
package pgproto3

import (
	"encoding/binary"
	"errors"
)

// ProtocolVersionNumber is the protocol version number for the wire
// protocol version 3, used in the startup message.
const ProtocolVersionNumber = 196608 // 3.0

// Message is the interface implemented by all wire protocol messages.
type Message interface {
	// Decode decodes src into the receiver. src is the body of the message,
	// not including the initial type byte or 4-byte length.
	Decode(src []byte) error

	// Encode appends itself to dst, returning the new slice.
	Encode(dst []byte) []byte
}

// FrontendMessage is a message sent by a frontend (a client, from the
// server's point of view).
type FrontendMessage interface {
	Message
	Frontend() // no-op method to distinguish frontend from backend messages
}

// BackendMessage is a message sent by a backend (a server, from the
// client's point of view).
type BackendMessage interface {
	Message
	Backend() // no-op method to distinguish frontend from backend messages
}

// ErrNoHeader is returned when a message header could not be parsed because
// the buffer is shorter than 5 bytes (or 4 bytes for messages that have no
// leading type byte, e.g. the startup message).
var ErrNoHeader = errors.New("pgproto3: not enough bytes to read message header")

// headerLen is 1 byte message type + 4 byte length, the header shape of
// every message except the startup-phase ones that have no type byte.
const headerLen = 5

// untypedHeaderLen is just the 4 byte length for messages with no type byte.
const untypedHeaderLen = 4

func getBodyLen(header []byte) (int32, error) {
	if len(header) < 4 {
		return 0, ErrNoHeader
	}
	n := int32(binary.BigEndian.Uint32(header)) - 4
	if n < 0 {
		return 0, errors.New("pgproto3: invalid message length")
	}
	return n, nil
}
