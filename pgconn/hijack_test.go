package pgconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

// TestHijack_Basic exercises Hijack on an idle Ready session: it must
// report the connection's protocol state, move the session to
// StateHijacked, and leave the session itself unusable afterward.
func TestHijack_Basic(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps, pgmock.WaitForClose())

	sess, scriptErrs := newTestSession(t, script)

	hc, err := sess.Hijack()
	require.NoError(t, err)
	require.NotNil(t, hc)
	require.NotNil(t, hc.Conn)
	require.NotNil(t, hc.Frontend)
	require.Equal(t, pgconn.StateHijacked, sess.State())

	_, err = sess.Exec(context.Background(), "select 1")
	require.Error(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, hc.Conn.Close())
	require.NoError(t, <-scriptErrs)
}

// TestHijack_RejectsAlreadyHijacked rejects a second Hijack attempt once the
// session has already handed off raw ownership of the duplex: the guard
// checks both "no pending commands" and "still Ready", and a session that
// already moved to StateHijacked must fail the latter.
func TestHijack_RejectsAlreadyHijacked(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps, pgmock.WaitForClose())

	sess, scriptErrs := newTestSession(t, script)

	hc, err := sess.Hijack()
	require.NoError(t, err)

	_, err = sess.Hijack()
	require.Error(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, hc.Conn.Close())
	require.NoError(t, <-scriptErrs)
}

// TestConstruct_RoundTrip hijacks a session, rebuilds one from the
// HijackedConn via Construct, and confirms the rebuilt session can run a
// command against the same underlying connection.
func TestConstruct_RoundTrip(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "select 1"}),
		pgmock.ExpectMessage(&pgproto3.Bind{ParameterFormatCodes: []int16{0}, Parameters: []pgproto3.BindParameter{}, ResultFormatCodes: []int16{0}}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'P'}),
		pgmock.ExpectMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.NoData{}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	hc, err := sess.Hijack()
	require.NoError(t, err)

	sess2, err := pgconn.Construct(hc, nil)
	require.NoError(t, err)
	require.Equal(t, pgconn.StateReady, sess2.State())

	r, err := sess2.ExecParams(context.Background(), "select 1", nil, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	more, err := r.Read()
	require.NoError(t, err)
	require.False(t, more)
	require.NoError(t, r.Close())

	require.NoError(t, sess2.Close())
	require.NoError(t, <-scriptErrs)
}

// TestSyncConn_NoBufferedData confirms SyncConn is a no-op (no pings sent)
// when the receive side has nothing buffered, which is always true right
// after Hijack since the read loop never gets ahead of command state.
func TestSyncConn_NoBufferedData(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps, pgmock.WaitForClose())

	sess, scriptErrs := newTestSession(t, script)

	hc, err := sess.Hijack()
	require.NoError(t, err)

	sess2, err := pgconn.Construct(hc, nil)
	require.NoError(t, err)

	require.NoError(t, sess2.SyncConn(context.Background()))

	require.NoError(t, sess2.Close())
	require.NoError(t, <-scriptErrs)
}
