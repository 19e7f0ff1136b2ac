package pgxpool_test

import (
	"fmt"
	"net"
	"testing"

	"github.com/pgmux/pgmux/internal/pgmock"
	"github.com/pgmux/pgmux/pgxpool"
	"github.com/pgmux/pgmux/pgproto3"
)

// fakeServer accepts connections and, after pgmock's handshake steps,
// answers every simple-query and extended-query message a test sends until
// the client terminates. This stands in for a real PostgreSQL server the
// way internal/pgmock's Script/Step pair does, scaled up to serve an
// entire DataSource's connection pool rather than one session.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln}
	go fs.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func (fs *fakeServer) addr() string { return fs.ln.Addr().String() }

func (fs *fakeServer) acceptLoop() {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		go fs.serve(conn)
	}
}

// serve performs the handshake, then answers every simple Query with a
// one-row, one-column result whose value echoes the query text, until the
// client terminates or the connection closes.
func (fs *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	backend := pgproto3.NewBackend(conn, conn)

	handshake := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	if err := handshake.Run(backend); err != nil {
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case *pgproto3.Terminate:
			return
		case *pgproto3.Query:
			backend.Send(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: "echo"}}})
			backend.Send(&pgproto3.DataRow{Values: [][]byte{[]byte(m.String)}})
			backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
			backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Parse:
			backend.Send(&pgproto3.ParseComplete{})
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Bind:
			backend.Send(&pgproto3.BindComplete{})
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Describe:
			backend.Send(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: "echo"}}})
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Execute:
			backend.Send(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}})
			backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Sync:
			backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err := backend.Flush(); err != nil {
				return
			}
		}
	}
}

func testConfig(t *testing.T, addr string) *pgxpool.Config {
	t.Helper()
	host, port := splitAddr(t, addr)
	cfg, err := pgxpool.ParseConfig(fmt.Sprintf("host=%s port=%s user=tester dbname=testdb", host, port))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return cfg
}

func splitAddr(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	return host, port
}
