package pgxpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/pgxpool"
)

func TestDataSource_ExecMultiplexed(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 2

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	r, err := ds.Exec(ctx, "select 'via dispatcher'")
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	more, err := r.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []byte("select 'via dispatcher'"), r.Values()[0])
	require.NoError(t, r.Close())
}

// TestDataSource_ExecMultiplexedConcurrentCallsComplete fires two Execs
// concurrently before either completes; since each Exec holds the session
// only for the duration of its write (not its read), the dispatcher may
// satisfy both from the first session it opens, or a concurrent caller may
// open a second one if the first session's write lock is momentarily held.
// Either outcome is a correctly functioning dispatcher; this test only
// asserts that both calls complete without error and neither blocks
// forever.
func TestDataSource_ExecMultiplexedConcurrentCallsComplete(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 2

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			r, err := ds.Exec(ctx, "select 1")
			if err != nil {
				results <- err
				return
			}
			if err := r.Initialize(); err != nil {
				results <- err
				return
			}
			_, err = r.Read()
			if err != nil {
				results <- err
				return
			}
			results <- r.Close()
		}(i)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("Exec never completed")
		}
	}
}

func TestDataSource_ExecPreparedReusesRegistryName(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	sql := "select $1::int"

	r1, err := ds.ExecPrepared(ctx, sql, [][]byte{[]byte("1")}, nil, nil, false)
	require.NoError(t, err)
	require.NoError(t, r1.Initialize())
	require.NoError(t, r1.Close())

	// Second call for the same sql should skip Parse, since the session's
	// statement cache already has it; the fake server answers Bind/
	// Describe/Execute/Sync identically either way, so this mainly proves
	// the call completes without the dispatcher tripping over a stale
	// name.
	r2, err := ds.ExecPrepared(ctx, sql, [][]byte{[]byte("2")}, nil, nil, false)
	require.NoError(t, err)
	require.NoError(t, r2.Initialize())
	require.NoError(t, r2.Close())
}
