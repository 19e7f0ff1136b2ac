package pgconn_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

// TestPerformUserCancellation dials a second connection and sends a
// CancelRequest carrying this session's backend_pid/backend_secret.
func TestPerformUserCancellation(t *testing.T) {
	mainClient, mainServer := net.Pipe()
	cancelClient, cancelServer := net.Pipe()

	dialCount := 0
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialCount++
		if dialCount == 1 {
			return mainClient, nil
		}
		return cancelClient, nil
	}

	mainScript := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	mainScript.Steps = append(mainScript.Steps, pgmock.WaitForClose())
	mainErrs := make(chan error, 1)
	go func() {
		backend := pgproto3.NewBackend(mainServer, mainServer)
		mainErrs <- mainScript.Run(backend)
		mainServer.Close()
	}()

	cancelReqCh := make(chan *pgproto3.CancelRequest, 1)
	go func() {
		backend := pgproto3.NewBackend(cancelServer, cancelServer)
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return
		}
		if cr, ok := msg.(*pgproto3.CancelRequest); ok {
			cancelReqCh <- cr
		}
		cancelServer.Close()
	}()

	cfg := &pgconn.Config{
		Host:           "ignored",
		Port:           5432,
		Database:       "testdb",
		User:           "tester",
		ConnectTimeout: 5 * time.Second,
		RuntimeParams:  map[string]string{},
		DialFunc:       dial,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := pgconn.Connect(ctx, cfg, nil)
	require.NoError(t, err)

	err = sess.PerformUserCancellation(context.Background(), 2*time.Second)
	require.NoError(t, err)

	select {
	case cr := <-cancelReqCh:
		require.Equal(t, sess.PID(), cr.ProcessID)
		require.Equal(t, sess.SecretKey(), cr.SecretKey)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel request never arrived")
	}

	require.NoError(t, sess.Close())
	require.NoError(t, <-mainErrs)
}
