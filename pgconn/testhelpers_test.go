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

// newTestSession dials an in-memory net.Pipe, runs script against the
// server half on a pgproto3.Backend, and returns a live Session connected
// to the client half. scriptErrs receives the script's Run result once it
// finishes (nil on success), buffered so the server goroutine never blocks
// on a test that doesn't read it.
func newTestSession(t *testing.T, script *pgmock.Script) (*pgconn.Session, <-chan error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	scriptErrs := make(chan error, 1)

	go func() {
		backend := pgproto3.NewBackend(serverConn, serverConn)
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
			return clientConn, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := pgconn.Connect(ctx, cfg, nil)
	require.NoError(t, err)
	return sess, scriptErrs
}

func connectSteps() []pgmock.Step {
	return pgmock.AcceptUnauthenticatedConnRequestSteps()
}
