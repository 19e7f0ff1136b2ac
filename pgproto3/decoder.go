package pgproto3

import "encoding/binary"

// Decoder is a resumable, non-blocking message cursor over a possibly
// fragmented byte sequence. Unlike chunkReader (which blocks the calling
// goroutine until enough bytes are available), Decoder never blocks: every
// TryXxx method reports whether it could make progress, and the caller is
// responsible for feeding more bytes via Feed and retrying.
//
// A Decoder can always be reconstructed from (header, bytesIntoCurrent)
// plus a new byte sequence beginning at or before the saved offset — callers
// that need to hand a partially-consumed Decoder across a read boundary can
// do so by keeping the same Decoder value around; there is no hidden state
// outside the fields below.
type Decoder struct {
	buf []byte // unconsumed bytes fed so far
	pos int    // read position within buf for the current message body

	hasHeader    bool
	msgType      byte // 0 for untyped (startup-phase) headers
	typed        bool
	bodyLen      int32
	bodyConsumed int32
}

// Feed appends more bytes to the decoder's internal buffer.
func (d *Decoder) Feed(b []byte) {
	if d.pos > 0 {
		d.buf = d.buf[d.pos:]
		d.pos = 0
	}
	d.buf = append(d.buf, b...)
}

// CurrentMessage reports the type byte of the current message header. Valid
// only after MoveNext returns true. Returns 0 for an untyped header.
func (d *Decoder) CurrentMessage() byte { return d.msgType }

// CurrentRemaining reports how many body bytes of the current message have
// not yet been consumed.
func (d *Decoder) CurrentRemaining() int32 { return d.bodyLen - d.bodyConsumed }

// CurrentConsumed reports how many body bytes of the current message have
// already been consumed.
func (d *Decoder) CurrentConsumed() int32 { return d.bodyConsumed }

// IsCurrentBuffered reports whether the remaining body of the current
// message is already fully present in the internal buffer.
func (d *Decoder) IsCurrentBuffered() bool {
	return d.hasHeader && int32(len(d.buf)-d.pos) >= d.CurrentRemaining()
}

// MoveNext advances past the current message (if fully consumed) and parses
// the next header. It returns false if there are not enough buffered bytes
// to parse a complete header, in which case all state needed to resume once
// more bytes are fed is preserved.
//
// typed selects whether to parse a 1-byte-type+4-byte-length header (true,
// the steady-state case) or the untyped 4-byte-length-only header used only
// during the startup phase (false).
func (d *Decoder) MoveNext(typed bool) bool {
	need := untypedHeaderLen
	if typed {
		need = headerLen
	}

	avail := len(d.buf) - d.pos
	if avail < need {
		return false
	}

	hdr := d.buf[d.pos : d.pos+need]
	var bodyLen int32
	if typed {
		bodyLen = int32(binary.BigEndian.Uint32(hdr[1:5])) - 4
		d.msgType = hdr[0]
	} else {
		bodyLen = int32(binary.BigEndian.Uint32(hdr[0:4])) - 4
		d.msgType = 0
	}
	if bodyLen < 0 {
		bodyLen = 0
	}

	d.pos += need
	d.hasHeader = true
	d.typed = typed
	d.bodyLen = bodyLen
	d.bodyConsumed = 0
	return true
}

// ConsumeCurrent skips whatever remains of the current message body,
// provided it is already fully buffered. Returns false (a no-op) if the
// remaining body is not yet fully buffered.
func (d *Decoder) ConsumeCurrent() bool {
	if !d.IsCurrentBuffered() {
		return false
	}
	d.pos += int(d.CurrentRemaining())
	d.bodyConsumed = d.bodyLen
	return true
}

func (d *Decoder) remainingBuffered() []byte {
	n := d.CurrentRemaining()
	if int32(len(d.buf)-d.pos) < n {
		n = int32(len(d.buf) - d.pos)
	}
	return d.buf[d.pos : d.pos+int(n)]
}

// TryReadByte attempts to read and consume one byte of the current body.
func (d *Decoder) TryReadByte() (b byte, ok bool) {
	buf := d.remainingBuffered()
	if len(buf) < 1 {
		return 0, false
	}
	d.Advance(1)
	return buf[0], true
}

// TryReadShort attempts to read and consume a big-endian int16.
func (d *Decoder) TryReadShort() (v int16, ok bool) {
	buf := d.remainingBuffered()
	if len(buf) < 2 {
		return 0, false
	}
	v = int16(binary.BigEndian.Uint16(buf))
	d.Advance(2)
	return v, true
}

// TryReadInt attempts to read and consume a big-endian int32.
func (d *Decoder) TryReadInt() (v int32, ok bool) {
	buf := d.remainingBuffered()
	if len(buf) < 4 {
		return 0, false
	}
	v = int32(binary.BigEndian.Uint32(buf))
	d.Advance(4)
	return v, true
}

// TryReadUint attempts to read and consume a big-endian uint32.
func (d *Decoder) TryReadUint() (v uint32, ok bool) {
	buf := d.remainingBuffered()
	if len(buf) < 4 {
		return 0, false
	}
	v = binary.BigEndian.Uint32(buf)
	d.Advance(4)
	return v, true
}

// TryReadCString attempts to read and consume a NUL-terminated string,
// returning it without the terminator.
func (d *Decoder) TryReadCString() (s string, ok bool) {
	b, ok := d.TryReadCStringBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// TryReadCStringBytes is like TryReadCString but returns the bytes without
// allocating a string. The returned slice aliases the decoder's internal
// buffer and is only valid until the next Feed.
func (d *Decoder) TryReadCStringBytes() (b []byte, ok bool) {
	buf := d.remainingBuffered()
	for i, c := range buf {
		if c == 0 {
			d.Advance(int32(i + 1))
			return buf[:i], true
		}
	}
	return nil, false
}

// TryCopyTo attempts to copy len(dst) bytes of the current body into dst,
// consuming them. Returns false if fewer than len(dst) bytes are buffered.
func (d *Decoder) TryCopyTo(dst []byte) bool {
	buf := d.remainingBuffered()
	if len(buf) < len(dst) {
		return false
	}
	copy(dst, buf)
	d.Advance(int32(len(dst)))
	return true
}

// Advance skips n already-buffered bytes of the current body without
// interpreting them.
func (d *Decoder) Advance(n int32) {
	d.pos += int(n)
	d.bodyConsumed += n
}

// Rewind un-consumes n bytes of the current body, moving the cursor
// backwards. It is the caller's responsibility to ensure n does not exceed
// CurrentConsumed.
func (d *Decoder) Rewind(n int32) {
	d.pos -= int(n)
	d.bodyConsumed -= n
}
