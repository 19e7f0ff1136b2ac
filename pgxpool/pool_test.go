package pgxpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgmux/pgmux/pgxpool"
)

func TestConnectConfig_EstablishesAndAcquires(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 2

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	c, err := ds.Acquire(ctx)
	require.NoError(t, err)

	r, err := c.Exec(ctx, "select 'hello'")
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	more, err := r.Read()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []byte("select 'hello'"), r.Values()[0])
	require.NoError(t, r.Close())

	c.Release()
}

func TestConn_SecondExecWithoutPipeliningIsRejected(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	c, err := ds.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release()

	r1, err := c.Exec(ctx, "select 1")
	require.NoError(t, err)

	_, err = c.Exec(ctx, "select 2")
	require.Error(t, err)

	require.NoError(t, r1.Initialize())
	_, err = r1.Read()
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	r2, err := c.Exec(ctx, "select 2")
	require.NoError(t, err)
	require.NoError(t, r2.Initialize())
	require.NoError(t, r2.Close())
}

func TestConn_AllowPipeliningPermitsOverlap(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.addr())
	cfg.MaxConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ds, err := pgxpool.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer ds.Close()

	c, err := ds.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release()
	c.AllowPipelining(true)

	r1, err := c.Exec(ctx, "select 1")
	require.NoError(t, err)
	r2, err := c.Exec(ctx, "select 2")
	require.NoError(t, err)

	require.NoError(t, r1.Initialize())
	require.NoError(t, r1.Close())
	require.NoError(t, r2.Initialize())
	require.NoError(t, r2.Close())
}
