package pgproto3

import (
	"encoding/binary"
	"strconv"
)

func appendUint16(dst []byte, n uint16) []byte {
	return append(dst, byte(n>>8), byte(n))
}

func appendInt16(dst []byte, n int16) []byte {
	return appendUint16(dst, uint16(n))
}

func appendUint32(dst []byte, n uint32) []byte {
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// beginMsg appends the 1-byte message type and a placeholder 4-byte length,
// returning dst and the offset of the length placeholder so the caller can
// patch it once the body has been appended via endMsg.
func beginMsg(dst []byte, msgType byte) (out []byte, lenAt int) {
	dst = append(dst, msgType)
	lenAt = len(dst)
	dst = appendInt32(dst, 0)
	return dst, lenAt
}

// endMsg patches the length placeholder at lenAt with the total length of
// everything from lenAt to the end of dst (the length field itself counts,
// the type byte does not).
func endMsg(dst []byte, lenAt int) []byte {
	n := int32(len(dst) - lenAt)
	binary.BigEndian.PutUint32(dst[lenAt:lenAt+4], uint32(n))
	return dst
}

func itoa(n int32) string {
	return strconv.FormatInt(int64(n), 10)
}

func parseInt32(s string) int32 {
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}
