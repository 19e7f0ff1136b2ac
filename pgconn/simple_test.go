package pgconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

func TestExec_SimpleQuerySingleRow(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: "?column?", DataTypeOID: 23, DataTypeSize: 4, Format: 0},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	r, err := sess.Exec(context.Background(), "select 1")
	require.NoError(t, err)

	require.NoError(t, r.Initialize())
	require.Equal(t, 1, r.FieldCount())
	require.True(t, r.HasRows())

	more, err := r.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, [][]byte{[]byte("1")}, r.Values())

	more, err = r.Read()
	require.NoError(t, err)
	require.False(t, more)
	require.EqualValues(t, 1, r.RowsAffected())

	require.NoError(t, r.Close())
	require.True(t, r.IsClosed())

	require.NoError(t, sess.Close())
	require.NoError(t, <-scriptErrs)
}

func TestExec_ServerErrorLeavesSessionReusable(t *testing.T) {
	script := &pgmock.Script{Steps: connectSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select bogus"}),
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "42703", Message: "column \"bogus\" does not exist"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 2"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: "?column?"}}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("2")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.WaitForClose(),
	)

	sess, scriptErrs := newTestSession(t, script)

	r, err := sess.Exec(context.Background(), "select bogus")
	require.NoError(t, err)
	err = r.Initialize()
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "42703", pgErr.Code)
	require.NoError(t, r.Close())

	require.Equal(t, pgconn.StateReady, sess.State())

	r2, err := sess.Exec(context.Background(), "select 2")
	require.NoError(t, err)
	require.NoError(t, r2.Initialize())
	more, err := r2.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.NoError(t, r2.Close())

	require.NoError(t, sess.Close())
	require.NoError(t, <-scriptErrs)
}
