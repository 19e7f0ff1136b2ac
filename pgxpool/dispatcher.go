package pgxpool

import (
	"context"
	"sync"

	"github.com/pgmux/pgmux/internal/stmtcache"
	"github.com/pgmux/pgmux/pgconn"
)

// dispatcher is the multiplexed submission path: callers with no session
// of their own share a small set of sessions, opened lazily up to
// pool_size, selected by "write_lock free, minimal pending slots, LRU
// tie-break".
type dispatcher struct {
	ds *DataSource

	mu       sync.Mutex
	sessions []*mplexSession
	// ready wakes callers blocked in acquireForMultiplex when every
	// session's write lock is held and the pool is already at MaxConns; it
	// holds at most MaxConns pending wake-ups.
	ready chan struct{}
}

type mplexSession struct {
	sess    *session
	lastUse int64 // monotonically increasing use counter, lower = least recently used
}

func newDispatcher(ds *DataSource) *dispatcher {
	return &dispatcher{
		ds:    ds,
		ready: make(chan struct{}, ds.config.MaxConns),
	}
}

var useCounter int64

func nextUse() int64 {
	useCounter++
	return useCounter
}

// acquireForMultiplex selects the best existing session, or opens a new
// one (up to MaxConns), or blocks until one is freed up.
func (d *dispatcher) acquireForMultiplex(ctx context.Context) (*session, error) {
	for {
		d.mu.Lock()
		best := d.selectLocked()
		if best != nil {
			best.lastUse = nextUse()
			d.mu.Unlock()
			return best.sess, nil
		}
		atMax := int32(len(d.sessions)) >= d.ds.config.MaxConns
		d.mu.Unlock()

		if !atMax {
			sess, err := d.openLocked(ctx)
			if err != nil {
				return nil, err
			}
			return sess, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.ready:
		}
	}
}

// selectLocked implements the selection policy: prefer a session whose
// write lock is free and whose pending slot count is minimal; ties are
// broken by least-recently-used. Sessions that have gone Broken are
// pruned as they're found.
func (d *dispatcher) selectLocked() *mplexSession {
	var best *mplexSession
	live := d.sessions[:0]
	for _, ms := range d.sessions {
		if ms.sess.s.State() == pgconn.StateBroken {
			continue
		}
		live = append(live, ms)
		if !ms.sess.s.WriteLockFree() {
			continue
		}
		switch {
		case best == nil:
			best = ms
		case ms.sess.s.PendingSlots() < best.sess.s.PendingSlots():
			best = ms
		case ms.sess.s.PendingSlots() == best.sess.s.PendingSlots() && ms.lastUse < best.lastUse:
			best = ms
		}
	}
	d.sessions = live
	return best
}

func (d *dispatcher) openLocked(ctx context.Context) (*session, error) {
	cfg := d.ds.config

	connCfg := cfg.ConnConfig
	if cfg.BeforeConnect != nil {
		cp := *cfg.ConnConfig
		connCfg = &cp
		if err := cfg.BeforeConnect(ctx, connCfg); err != nil {
			return nil, err
		}
	}

	s, err := pgconn.Connect(ctx, connCfg, cfg.Tracer)
	if err != nil {
		return nil, err
	}
	if cfg.AfterConnect != nil {
		if err := cfg.AfterConnect(ctx, s); err != nil {
			s.Close()
			return nil, err
		}
	}

	sess := &session{s: s}
	if cfg.StatementCacheCapacity > 0 {
		sess.cache = stmtcache.NewLRUCache(cfg.StatementCacheCapacity)
	}

	d.mu.Lock()
	d.sessions = append(d.sessions, &mplexSession{sess: sess, lastUse: nextUse()})
	d.mu.Unlock()

	// A fresh session just got added; wake one waiter so it can re-check
	// selectLocked rather than open yet another connection.
	select {
	case d.ready <- struct{}{}:
	default:
	}

	return sess, nil
}

// release signals the dispatcher that the caller is done submitting (the
// write lock was already released as part of the write path itself); this
// only wakes a waiter blocked on pool saturation.
func (d *dispatcher) release() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Exec runs sql through the multiplexed path: the dispatcher selects (or
// opens) a session, submits the command, and immediately frees the
// session back to the selection pool — the command's own CommandReader
// governs when its slot is actually consumed.
func (ds *DataSource) Exec(ctx context.Context, sql string) (*pgconn.CommandReader, error) {
	sess, err := ds.dispatcherOnce().acquireForMultiplex(ctx)
	if err != nil {
		return nil, err
	}
	defer ds.dispatcherOnce().release()
	return sess.s.Exec(ctx, sql)
}

// ExecParams runs sql through the multiplexed extended-query path.
func (ds *DataSource) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16) (*pgconn.CommandReader, error) {
	sess, err := ds.dispatcherOnce().acquireForMultiplex(ctx)
	if err != nil {
		return nil, err
	}
	defer ds.dispatcherOnce().release()
	return sess.s.ExecParams(ctx, sql, paramValues, paramOIDs, paramFormats, resultFormats)
}

// ExecParamsSchemaOnly is ExecParams' Describe-only counterpart: it never
// sends Execute, returning only the result's row description.
func (ds *DataSource) ExecParamsSchemaOnly(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats []int16) (*pgconn.CommandReader, error) {
	sess, err := ds.dispatcherOnce().acquireForMultiplex(ctx)
	if err != nil {
		return nil, err
	}
	defer ds.dispatcherOnce().release()
	return sess.s.ExecParamsSchemaOnly(ctx, sql, paramValues, paramOIDs, paramFormats)
}

// ExecPrepared runs a registry-named prepared statement through the
// multiplexed path, preparing it on the selected session first if that
// session hasn't seen it yet. bypassCache forces the unnamed-statement path
// (ExecParamsSchemaOnly's sibling, ExecParams) even when a cached name
// already exists for sql.
func (ds *DataSource) ExecPrepared(ctx context.Context, sql string, paramValues [][]byte, paramFormats, resultFormats []int16, bypassCache bool) (*pgconn.CommandReader, error) {
	d := ds.dispatcherOnce()
	sess, err := d.acquireForMultiplex(ctx)
	if err != nil {
		return nil, err
	}
	defer d.release()

	if bypassCache {
		return sess.s.ExecParams(ctx, sql, paramValues, nil, nil, resultFormats)
	}

	name := ds.registry.Name(sql)

	if sess.cache != nil && sess.cache.Get(sql) != nil {
		return sess.s.ExecPrepared(ctx, name, paramValues, paramFormats, resultFormats)
	}

	sd, err := sess.s.Prepare(ctx, name, sql, nil)
	if err != nil {
		return nil, err
	}
	if sess.cache != nil {
		sess.cache.Put(sd)
	}
	return sess.s.ExecPrepared(ctx, name, paramValues, paramFormats, resultFormats)
}

func (ds *DataSource) dispatcherOnce() *dispatcher {
	ds.dispatcherInit.Do(func() { ds.dispatcherInst = newDispatcher(ds) })
	return ds.dispatcherInst
}
