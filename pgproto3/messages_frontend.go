package pgproto3

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// StartupMessage is the first message sent on a new connection. It has no
// leading type byte, only the untyped 4-byte length header.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

func (*StartupMessage) Frontend() {}

func (dst *StartupMessage) Decode(src []byte) error {
	if len(src) < 4 {
		return errors.New("startup message too short")
	}
	dst.ProtocolVersion = binary.BigEndian.Uint32(src)
	dst.Parameters = make(map[string]string)

	rp := 4
	for rp < len(src) && src[rp] != 0 {
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return errors.New("bad startup message parameter key")
		}
		key := string(src[rp : rp+idx])
		rp += idx + 1

		idx = bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return errors.New("bad startup message parameter value")
		}
		value := string(src[rp : rp+idx])
		rp += idx + 1

		dst.Parameters[key] = value
	}

	return nil
}

func (src *StartupMessage) Encode(dst []byte) []byte {
	lenAt := len(dst)
	dst = appendInt32(dst, 0)
	dst = appendUint32(dst, src.ProtocolVersion)

	keys := make([]string, 0, len(src.Parameters))
	for k := range src.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dst = append(dst, k...)
		dst = append(dst, 0)
		dst = append(dst, src.Parameters[k]...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)

	binary.BigEndian.PutUint32(dst[lenAt:lenAt+4], uint32(len(dst)-lenAt))
	return dst
}

// PasswordMessage carries a cleartext or pre-hashed (MD5) password in
// response to an authentication request.
type PasswordMessage struct {
	Password string
}

func (*PasswordMessage) Frontend() {}

func (dst *PasswordMessage) Decode(src []byte) error {
	if len(src) < 1 || src[len(src)-1] != 0 {
		return errors.New("bad password message")
	}
	dst.Password = string(src[:len(src)-1])
	return nil
}

func (src *PasswordMessage) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'p')
	dst = append(dst, src.Password...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// Query sends a SQL string for execution via the simple query protocol.
// The string may contain several semicolon-separated statements.
type Query struct {
	String string
}

func (*Query) Frontend() {}

func (dst *Query) Decode(src []byte) error {
	if len(src) < 1 || src[len(src)-1] != 0 {
		return errors.New("bad query message")
	}
	dst.String = string(src[:len(src)-1])
	return nil
}

func (src *Query) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'Q')
	dst = append(dst, src.String...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// Parse names and parses a SQL statement for later Bind/Execute.
// An empty Name parses the unnamed statement.
type Parse struct {
	Name          string
	Query         string
	ParameterOIDs []uint32
}

func (*Parse) Frontend() {}

func (dst *Parse) Decode(src []byte) error {
	idx := bytes.IndexByte(src, 0)
	if idx < 0 {
		return errors.New("bad parse message")
	}
	dst.Name = string(src[:idx])
	rp := idx + 1

	idx = bytes.IndexByte(src[rp:], 0)
	if idx < 0 {
		return errors.New("bad parse message")
	}
	dst.Query = string(src[rp : rp+idx])
	rp += idx + 1

	if len(src[rp:]) < 2 {
		return errors.New("bad parse message")
	}
	count := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	if len(src[rp:]) != count*4 {
		return errors.New("bad parse message")
	}
	dst.ParameterOIDs = nil
	if count > 0 {
		dst.ParameterOIDs = make([]uint32, count)
	}
	for i := 0; i < count; i++ {
		dst.ParameterOIDs[i] = binary.BigEndian.Uint32(src[rp:])
		rp += 4
	}
	return nil
}

func (src *Parse) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'P')
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Query...)
	dst = append(dst, 0)
	dst = appendUint16(dst, uint16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = appendUint32(dst, oid)
	}
	return endMsg(dst, lenAt)
}

// Describe asks the server to describe a prepared statement ('S') or a
// portal ('P').
type Describe struct {
	ObjectType byte
	Name       string
}

func (*Describe) Frontend() {}

func (dst *Describe) Decode(src []byte) error {
	if len(src) < 2 {
		return errors.New("bad describe message")
	}
	dst.ObjectType = src[0]
	if src[len(src)-1] != 0 {
		return errors.New("bad describe message")
	}
	dst.Name = string(src[1 : len(src)-1])
	return nil
}

func (src *Describe) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'D')
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// Execute runs a bound portal, stopping after MaxRows rows (0 means no
// limit), in which case a PortalSuspended may be returned instead of
// CommandComplete.
type Execute struct {
	Portal  string
	MaxRows uint32
}

func (*Execute) Frontend() {}

func (dst *Execute) Decode(src []byte) error {
	idx := bytes.IndexByte(src, 0)
	if idx < 0 {
		return errors.New("bad execute message")
	}
	dst.Portal = string(src[:idx])
	rp := idx + 1
	if len(src[rp:]) != 4 {
		return errors.New("bad execute message")
	}
	dst.MaxRows = binary.BigEndian.Uint32(src[rp:])
	return nil
}

func (src *Execute) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'E')
	dst = append(dst, src.Portal...)
	dst = append(dst, 0)
	dst = appendUint32(dst, src.MaxRows)
	return endMsg(dst, lenAt)
}

// Sync closes out an extended-query command sequence and requests a
// ReadyForQuery.
type Sync struct{}

func (*Sync) Frontend() {}

func (dst *Sync) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad sync message")
	}
	return nil
}

func (src *Sync) Encode(dst []byte) []byte {
	dst = append(dst, 'S')
	return appendInt32(dst, 4)
}

// Flush asks the server to deliver any pending response data without
// waiting for a Sync.
type Flush struct{}

func (*Flush) Frontend() {}

func (dst *Flush) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad flush message")
	}
	return nil
}

func (src *Flush) Encode(dst []byte) []byte {
	dst = append(dst, 'H')
	return appendInt32(dst, 4)
}

// Close closes a prepared statement ('S') or a portal ('P').
type Close struct {
	ObjectType byte
	Name       string
}

func (*Close) Frontend() {}

func (dst *Close) Decode(src []byte) error {
	if len(src) < 2 {
		return errors.New("bad close message")
	}
	dst.ObjectType = src[0]
	if src[len(src)-1] != 0 {
		return errors.New("bad close message")
	}
	dst.Name = string(src[1 : len(src)-1])
	return nil
}

func (src *Close) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'C')
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// Terminate ends the session gracefully.
type Terminate struct{}

func (*Terminate) Frontend() {}

func (dst *Terminate) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad terminate message")
	}
	return nil
}

func (src *Terminate) Encode(dst []byte) []byte {
	dst = append(dst, 'X')
	return appendInt32(dst, 4)
}

// cancelRequestCode is the fixed "protocol version" sentinel that identifies
// a CancelRequest on a fresh, secondary connection.
const cancelRequestCode = 80877102

// CancelRequest is sent on a new, short-lived connection to ask the server
// to cancel the command currently running on the session identified by
// ProcessID/SecretKey.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

func (*CancelRequest) Frontend() {}

func (dst *CancelRequest) Decode(src []byte) error {
	if len(src) != 12 {
		return errors.New("bad cancel request message")
	}
	if binary.BigEndian.Uint32(src) != cancelRequestCode {
		return errors.New("bad cancel request code")
	}
	dst.ProcessID = binary.BigEndian.Uint32(src[4:8])
	dst.SecretKey = binary.BigEndian.Uint32(src[8:12])
	return nil
}

func (src *CancelRequest) Encode(dst []byte) []byte {
	dst = appendInt32(dst, 16)
	dst = appendUint32(dst, cancelRequestCode)
	dst = appendUint32(dst, src.ProcessID)
	return appendUint32(dst, src.SecretKey)
}
