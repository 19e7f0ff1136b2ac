package pgconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

// TestSendBatch_ErrorBarrier exercises a server error on the first queued
// command leaving the second command's result to surface the same error
// after a single trailing ReadyForQuery, rather than corrupting the
// session.
func TestSendBatch_ErrorBarrier(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "bogus sql"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "select 1"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		// Postgres stops processing a pipelined group as soon as one
		// command errors: it skips the second command's Bind/Describe/
		// Execute entirely and reports only one ErrorResponse before the
		// trailing ReadyForQuery.
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "42601", Message: "syntax error"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	b := &pgconn.Batch{}
	b.Queue("bogus sql", nil, nil, nil, nil)
	b.Queue("select 1", nil, nil, nil, nil)

	r, err := sess.SendBatch(context.Background(), b)
	require.NoError(t, err)

	err = r.Initialize()
	require.Error(t, err)
	require.Equal(t, err, r.Err())

	// The second command was silently drained server-side; it surfaces
	// the same error rather than reading as a clean, empty result.
	more, err := r.NextResult()
	require.Error(t, err)
	require.True(t, more)
	require.Equal(t, r.Err(), err)

	// Only now has the batch's trailing ReadyForQuery actually been read.
	more, err = r.NextResult()
	require.NoError(t, err)
	require.False(t, more)

	require.NoError(t, r.Close())
	require.Equal(t, pgconn.StateReady, sess.State())

	require.NoError(t, sess.Close())
	require.NoError(t, <-scriptErrs)
}

// TestSendBatch_ErrorBarrierThreeCommands is the literal [A, B, C] case: a
// server error on B must leave both B and C reporting that same error, not
// just the command whose ErrorResponse was actually observed on the wire.
func TestSendBatch_ErrorBarrierThreeCommands(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "select 1"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "bogus sql"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "select 2"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		// A succeeds normally; B's Parse fails, so the server answers B with
		// a single ErrorResponse and drops C entirely, then sends the
		// trailing ReadyForQuery.
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.NoData{}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "42601", Message: "syntax error"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	b := &pgconn.Batch{}
	b.Queue("select 1", nil, nil, nil, nil)
	b.Queue("bogus sql", nil, nil, nil, nil)
	b.Queue("select 2", nil, nil, nil, nil)

	r, err := sess.SendBatch(context.Background(), b)
	require.NoError(t, err)

	// A completes normally.
	require.NoError(t, r.Initialize())
	more, err := r.Read()
	require.NoError(t, err)
	require.False(t, more)

	// B errors.
	more, err = r.NextResult()
	require.Error(t, err)
	require.True(t, more)
	bErr := r.Err()
	require.Equal(t, bErr, err)

	// C reports the same error as B, even though nothing identifies C on
	// the wire.
	more, err = r.NextResult()
	require.Error(t, err)
	require.True(t, more)
	require.Equal(t, bErr, err)

	// The batch's trailing ReadyForQuery is only consumed now.
	more, err = r.NextResult()
	require.NoError(t, err)
	require.False(t, more)

	require.NoError(t, r.Close())
	require.Equal(t, pgconn.StateReady, sess.State())

	require.NoError(t, sess.Close())
	require.NoError(t, <-scriptErrs)
}
