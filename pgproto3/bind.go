package pgproto3

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrLengthRequired is returned when a Bind parameter cannot report its
// declared length; this must be detected before any bytes hit the wire.
var ErrLengthRequired = errors.New("pgproto3: parameter value has no declared length")

// BindParameter is one parameter value of a Bind message. DeclaredLength
// must return the exact number of bytes Encode will write, or -1 for SQL
// NULL (in which case Encode is not called). This split lets a Bind be
// length-prefixed exactly, in one pass, even when a parameter's bytes are
// produced by a streaming writer rather than held in memory up front.
type BindParameter interface {
	DeclaredLength() int32
	Encode(dst []byte) []byte
}

// bytesParameter is the common case: a parameter whose value is already a
// fully materialized []byte (or nil for NULL).
type bytesParameter struct {
	b []byte
}

// NewBindParameter wraps a plain byte slice (nil for SQL NULL) as a
// BindParameter.
func NewBindParameter(b []byte) BindParameter {
	return bytesParameter{b: b}
}

func (p bytesParameter) DeclaredLength() int32 {
	if p.b == nil {
		return -1
	}
	return int32(len(p.b))
}

func (p bytesParameter) Encode(dst []byte) []byte {
	return append(dst, p.b...)
}

// Bind binds parameter values to a prepared statement, creating a portal.
// An empty DestinationPortal binds the unnamed portal; an empty
// PreparedStatement binds the unnamed statement.
type Bind struct {
	DestinationPortal    string
	PreparedStatement    string
	ParameterFormatCodes []int16
	Parameters           []BindParameter
	ResultFormatCodes    []int16
}

func (*Bind) Frontend() {}

// EncodedLen computes the exact wire length of the message body (not
// including the 1-byte type code, but including the 4-byte length field
// itself). It returns ErrLengthRequired if any parameter cannot report a
// declared length.
func (src *Bind) EncodedLen() (int, error) {
	n := len(src.DestinationPortal) + 1 + len(src.PreparedStatement) + 1

	n += 2
	if allSameFormat(src.ParameterFormatCodes) {
		n += 2
	} else {
		n += 2 * len(src.ParameterFormatCodes)
	}

	n += 2
	for _, p := range src.Parameters {
		if p == nil {
			return 0, ErrLengthRequired
		}
		l := p.DeclaredLength()
		if l < -1 {
			return 0, ErrLengthRequired
		}
		n += 4
		if l > 0 {
			n += int(l)
		}
	}

	n += 2
	if allSameFormat(src.ResultFormatCodes) {
		n += 2
	} else {
		n += 2 * len(src.ResultFormatCodes)
	}

	return n + 4, nil // +4 for the length field itself
}

func allSameFormat(codes []int16) bool {
	if len(codes) <= 1 {
		return true
	}
	for _, c := range codes[1:] {
		if c != codes[0] {
			return false
		}
	}
	return true
}

// Encode implements Message by delegating to EncodeChecked and panicking on
// error, matching how every other message's Encode behaves (malformed
// local state is a programmer bug, not a runtime condition to recover
// from). Frontend.SendBind calls EncodeChecked directly so that a missing
// declared length surfaces as an error instead of a panic.
func (src *Bind) Encode(dst []byte) []byte {
	out, err := src.EncodeChecked(dst)
	if err != nil {
		panic(err)
	}
	return out
}

// EncodeChecked appends the Bind message to dst. The total message length is
// computed up front via EncodedLen and written into the header before any
// body bytes are appended, so a caller streaming large parameter batches
// never needs a second pass over dst.
func (src *Bind) EncodeChecked(dst []byte) ([]byte, error) {
	bodyLen, err := src.EncodedLen()
	if err != nil {
		return dst, err
	}

	dst = append(dst, 'B')
	dst = appendInt32(dst, int32(bodyLen))

	startLen := len(dst)

	dst = append(dst, src.DestinationPortal...)
	dst = append(dst, 0)
	dst = append(dst, src.PreparedStatement...)
	dst = append(dst, 0)

	if allSameFormat(src.ParameterFormatCodes) {
		dst = appendUint16(dst, 1)
		if len(src.ParameterFormatCodes) == 0 {
			dst = appendInt16(dst, 0)
		} else {
			dst = appendInt16(dst, src.ParameterFormatCodes[0])
		}
	} else {
		dst = appendUint16(dst, uint16(len(src.ParameterFormatCodes)))
		for _, c := range src.ParameterFormatCodes {
			dst = appendInt16(dst, c)
		}
	}

	dst = appendUint16(dst, uint16(len(src.Parameters)))
	for _, p := range src.Parameters {
		l := p.DeclaredLength()
		dst = appendInt32(dst, l)
		if l <= 0 {
			continue
		}
		before := len(dst)
		dst = p.Encode(dst)
		if len(dst)-before != int(l) {
			return dst, errors.New("pgproto3: parameter encoded length does not match declared length")
		}
	}

	if allSameFormat(src.ResultFormatCodes) {
		dst = appendUint16(dst, 1)
		if len(src.ResultFormatCodes) == 0 {
			dst = appendInt16(dst, 0)
		} else {
			dst = appendInt16(dst, src.ResultFormatCodes[0])
		}
	} else {
		dst = appendUint16(dst, uint16(len(src.ResultFormatCodes)))
		for _, c := range src.ResultFormatCodes {
			dst = appendInt16(dst, c)
		}
	}

	if len(dst)-startLen+4 != bodyLen {
		return dst, errors.New("pgproto3: bind encoded length does not match precomputed length")
	}

	return dst, nil
}

// Decode implements Message for completeness (e.g. for test mocks acting as
// a server); it materializes every parameter as a plain byte slice.
func (dst *Bind) Decode(src []byte) error {
	*dst = Bind{}
	idx := bytes.IndexByte(src, 0)
	if idx < 0 {
		return errors.New("bad bind message")
	}
	dst.DestinationPortal = string(src[:idx])
	rp := idx + 1

	idx = bytes.IndexByte(src[rp:], 0)
	if idx < 0 {
		return errors.New("bad bind message")
	}
	dst.PreparedStatement = string(src[rp : rp+idx])
	rp += idx + 1

	if len(src[rp:]) < 2 {
		return errors.New("bad bind message")
	}
	pfcCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	dst.ParameterFormatCodes = make([]int16, pfcCount)
	for i := 0; i < pfcCount; i++ {
		dst.ParameterFormatCodes[i] = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
	}

	if len(src[rp:]) < 2 {
		return errors.New("bad bind message")
	}
	paramCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	dst.Parameters = make([]BindParameter, paramCount)
	for i := 0; i < paramCount; i++ {
		if len(src[rp:]) < 4 {
			return errors.New("bad bind message")
		}
		l := int32(binary.BigEndian.Uint32(src[rp:]))
		rp += 4
		if l == -1 {
			dst.Parameters[i] = NewBindParameter(nil)
			continue
		}
		if len(src[rp:]) < int(l) {
			return errors.New("bad bind message")
		}
		dst.Parameters[i] = NewBindParameter(src[rp : rp+int(l)])
		rp += int(l)
	}

	if len(src[rp:]) < 2 {
		return errors.New("bad bind message")
	}
	rfcCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	dst.ResultFormatCodes = make([]int16, rfcCount)
	for i := 0; i < rfcCount; i++ {
		dst.ResultFormatCodes[i] = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
	}

	return nil
}
