package pgproto3

// SizedString is a length-prefixed (not NUL-terminated) string for values
// whose byte length is known ahead of encoding and which may contain zero
// bytes, so a plain cstring is not appropriate. No message in this package
// encodes through it; Bind parameters use BindParameter.
type SizedString struct {
	Bytes []byte
}

// EncodedLen returns the number of bytes Encode will append: a 4-byte
// length prefix (or the 0xFFFFFFFF NULL sentinel) plus the payload.
func (s SizedString) EncodedLen() int {
	if s.Bytes == nil {
		return 4
	}
	return 4 + len(s.Bytes)
}

// Encode appends the length-prefixed bytes to dst. A nil Bytes encodes as
// the SQL NULL sentinel (length -1, no payload).
func (s SizedString) Encode(dst []byte) []byte {
	if s.Bytes == nil {
		return appendInt32(dst, -1)
	}
	dst = appendInt32(dst, int32(len(s.Bytes)))
	return append(dst, s.Bytes...)
}

func appendInt32(dst []byte, n int32) []byte {
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
