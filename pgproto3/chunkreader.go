package pgproto3

import (
	"io"

	"github.com/pgmux/pgmux/internal/iobufpool"
)

// defaultBufSize matches PostgreSQL's internal send buffer size, so a single
// underlying read typically drains exactly one flush's worth of messages.
const defaultBufSize = 8192

// flushThreshold is the advisory buffered-bytes watermark past which the
// write side of a duplex should flush rather than keep batching.
const flushThreshold = 64 * 1024

// chunkReader is a buffered, pooled-buffer front end to an io.Reader. It
// exists so Frontend can read a header, then the body, without forcing a
// fresh syscall per logical read: Next returns a slice directly out of the
// internal buffer when possible, and only grows/shifts it when the
// requested span crosses what's currently buffered.
type chunkReader struct {
	r io.Reader

	buf    *[]byte
	rp, wp int // buf[rp:wp] is the unconsumed, already-read region
}

func newChunkReader(r io.Reader) *chunkReader {
	buf := iobufpool.Get(defaultBufSize)
	return &chunkReader{r: r, buf: buf}
}

// Next returns a []byte of exactly n bytes, reading from the underlying
// io.Reader as needed. The returned slice aliases the internal buffer and is
// only valid until the next call to Next.
func (cr *chunkReader) Next(n int) ([]byte, error) {
	if cr.rp == cr.wp {
		cr.rp = 0
		cr.wp = 0
	}

buffered:
	if (cr.wp - cr.rp) >= n {
		buf := (*cr.buf)[cr.rp : cr.rp+n]
		cr.rp += n
		return buf, nil
	}

	// Not enough already buffered. Make room: either compact in place or
	// grow into a larger pooled buffer.
	if len(*cr.buf) < n {
		bigBuf := iobufpool.Get(n)
		copy(*bigBuf, (*cr.buf)[cr.rp:cr.wp])
		cr.wp -= cr.rp
		cr.rp = 0
		iobufpool.Put(cr.buf)
		cr.buf = bigBuf
	} else if cap(*cr.buf)-cr.rp < n {
		copy((*cr.buf)[0:], (*cr.buf)[cr.rp:cr.wp])
		cr.wp -= cr.rp
		cr.rp = 0
	}

	readBuf := (*cr.buf)[cr.wp:cap(*cr.buf)]
	nn, err := io.ReadAtLeast(cr.r, readBuf, n-(cr.wp-cr.rp))
	cr.wp += nn
	*cr.buf = (*cr.buf)[:cap(*cr.buf)]
	if err != nil {
		return nil, err
	}

	goto buffered
}

// Buffered reports how many already-read bytes sit unconsumed in the
// internal buffer, i.e. bytes that would be lost to a caller who started
// reading the wrapped io.Reader directly.
func (cr *chunkReader) Buffered() int { return cr.wp - cr.rp }

// Close releases the internal buffer back to the pool. The chunkReader must
// not be used after Close.
func (cr *chunkReader) Close() {
	if cr.buf != nil {
		iobufpool.Put(cr.buf)
		cr.buf = nil
	}
}
