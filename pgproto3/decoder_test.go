package pgproto3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecoderResumesAcrossPartialFeeds(t *testing.T) {
	rfq := (&ReadyForQuery{TxStatus: 'T'}).Encode(nil)

	var d Decoder

	// Feed only the header's first 3 bytes: MoveNext must report false and
	// preserve state.
	d.Feed(rfq[:3])
	require.False(t, d.MoveNext(true))

	// Feed the rest of the header.
	d.Feed(rfq[3:5])
	require.True(t, d.MoveNext(true))
	require.Equal(t, byte('Z'), d.CurrentMessage())
	require.Equal(t, int32(1), d.CurrentRemaining())

	// Body byte not yet fed.
	_, ok := d.TryReadByte()
	require.False(t, ok)

	d.Feed(rfq[5:])
	b, ok := d.TryReadByte()
	require.True(t, ok)
	require.Equal(t, byte('T'), b)
	require.Equal(t, int32(0), d.CurrentRemaining())
}

func TestDecoderTryReadCStringBytes(t *testing.T) {
	ps := (&ParameterStatus{Name: "application_name", Value: "pgmux"}).Encode(nil)

	var d Decoder
	d.Feed(ps)
	require.True(t, d.MoveNext(true))

	name, ok := d.TryReadCStringBytes()
	require.True(t, ok)
	require.Equal(t, "application_name", string(name))

	value, ok := d.TryReadCStringBytes()
	require.True(t, ok)
	require.Equal(t, "pgmux", string(value))

	require.Equal(t, int32(0), d.CurrentRemaining())
}

func TestDecoderAdvanceAndRewind(t *testing.T) {
	bkd := (&BackendKeyData{ProcessID: 100, SecretKey: 200}).Encode(nil)

	var d Decoder
	d.Feed(bkd)
	require.True(t, d.MoveNext(true))

	pid, ok := d.TryReadUint()
	require.True(t, ok)
	require.Equal(t, uint32(100), pid)

	d.Rewind(4)
	pidAgain, ok := d.TryReadUint()
	require.True(t, ok)
	require.Equal(t, uint32(100), pidAgain)

	secret, ok := d.TryReadUint()
	require.True(t, ok)
	require.Equal(t, uint32(200), secret)
}

func TestDecoderTryCopyTo(t *testing.T) {
	dr := (&DataRow{Values: [][]byte{[]byte("abcd")}}).Encode(nil)

	var d Decoder
	d.Feed(dr)
	require.True(t, d.MoveNext(true))

	_, ok := d.TryReadShort()
	require.True(t, ok)

	_, ok = d.TryReadInt()
	require.True(t, ok)

	dst := make([]byte, 4)
	require.True(t, d.TryCopyTo(dst))
	require.Equal(t, "abcd", string(dst))
}
