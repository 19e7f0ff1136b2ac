package pgxpool

import (
	"sync"

	"github.com/pgmux/pgmux/internal/stmtcache"
)

// registry is the data source's global command-text to prepared-statement
// identifier mapping. Unlike the per-session stmtcache.Cache (which tracks
// whether a given connection has actually parsed the statement yet), the
// registry only fixes the deterministic name a statement will be prepared
// under, so every session in the pool agrees on it without coordination.
type registry struct {
	mu    sync.RWMutex
	names map[string]string
}

func newRegistry() *registry {
	return &registry{names: make(map[string]string)}
}

// Name returns the prepared-statement name for sql, computing and caching
// it on first use.
func (r *registry) Name(sql string) string {
	r.mu.RLock()
	name, ok := r.names[sql]
	r.mu.RUnlock()
	if ok {
		return name
	}

	name = stmtcache.StatementName(sql)
	r.mu.Lock()
	r.names[sql] = name
	r.mu.Unlock()
	return name
}

// Forget drops sql's cached name, e.g. after a 0A000 "cached plan must not
// change result type" forces every session to reprepare it.
func (r *registry) Forget(sql string) {
	r.mu.Lock()
	delete(r.names, sql)
	r.mu.Unlock()
}
