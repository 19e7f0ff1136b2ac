package pgconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgproto3"
)

// TestPipelinedExecs_PreserveFIFOOrder submits two simple-query commands
// before reading either response, then verifies each CommandReader sees
// exactly its own command's rows in submission order — the operation
// queue's FIFO guarantee, independent of how the caller interleaves reads.
func TestPipelinedExecs_PreserveFIFOOrder(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 'a'"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: "a"}}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("a")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 'b'"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: "a"}}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("b")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	r1, err := sess.Exec(context.Background(), "select 'a'")
	require.NoError(t, err)
	r2, err := sess.Exec(context.Background(), "select 'b'")
	require.NoError(t, err)

	require.NoError(t, r2.Initialize())
	more, err := r2.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []byte("b"), r2.Values()[0])
	require.NoError(t, r2.Close())

	require.NoError(t, r1.Initialize())
	more, err = r1.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []byte("a"), r1.Values()[0])
	require.NoError(t, r1.Close())

	require.NoError(t, sess.Close())
	require.NoError(t, <-scriptErrs)
}
