package pgconn_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/internal/faultyconn"
	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgconn"
	"github.com/pgmux/pgmux/pgproto3"
)

// TestExec_WriteFaultBreaksSession drives a connection through
// faultyconn.Conn and, once it is Ready, starts intercepting outbound
// frontend messages: the handler closes the underlying pipe instead of
// forwarding the message, simulating a connection that dies mid-write.
// Exec should surface the write failure immediately, and the read loop —
// independently observing the same closed pipe — should break the session
// in the background.
func TestExec_WriteFaultBreaksSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	fc := faultyconn.New(clientConn)

	scriptErrs := make(chan error, 1)
	go func() {
		backend := pgproto3.NewBackend(serverConn, serverConn)
		script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
		scriptErrs <- script.Run(backend)
		serverConn.Close()
	}()

	cfg := &pgconn.Config{
		Host:           "ignored",
		Port:           5432,
		Database:       "testdb",
		User:           "tester",
		ConnectTimeout: 5 * time.Second,
		RuntimeParams:  map[string]string{},
		DialFunc: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return fc, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := pgconn.Connect(ctx, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, pgconn.StateReady, sess.State())

	simulatedFault := errors.New("simulated write fault")
	fc.HandleFrontendMessage = func(_ io.Writer, _ pgproto3.FrontendMessage) error {
		clientConn.Close()
		return simulatedFault
	}

	_, execErr := sess.Exec(ctx, "select 1")
	require.Error(t, execErr)

	require.Eventually(t, func() bool {
		return sess.State() == pgconn.StateBroken
	}, 2*time.Second, 10*time.Millisecond, "session never transitioned to Broken after the write fault")

	<-scriptErrs
}
