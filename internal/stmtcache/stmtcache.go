// Package stmtcache is a cache for statement descriptions.
package stmtcache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pgmux/pgmux/pgconn"
)

// StatementName returns a statement name stable for sql across sessions and
// process restarts, so independent sessions that prepare the same sql agree
// on its name without coordinating. This driver never varies a prepared
// statement's parameter OIDs for a given sql text (Prepare is always called
// with a nil OID hint, letting the server infer them), so the cache key is
// sql alone rather than the full (sql, parameter_type_vector) pair.
func StatementName(sql string) string {
	digest := sha256.Sum256([]byte(sql))
	return "stmtcache_" + hex.EncodeToString(digest[0:24])
}

// Cache caches statement descriptions.
type Cache interface {
	// Get returns the statement description for sql. Returns nil if not found.
	Get(sql string) *pgconn.StatementDescription

	// Put stores sd in the cache. Put panics if sd.SQL is "". Put does nothing if sd.SQL already exists in the cache.
	Put(sd *pgconn.StatementDescription)

	// Invalidate invalidates statement description identified by sql. Does nothing if not found.
	Invalidate(sql string)

	// InvalidateAll invalidates all statement descriptions.
	InvalidateAll()

	// HandleInvalidated returns a slice of all statement descriptions invalidated since the last call to HandleInvalidated.
	HandleInvalidated() []*pgconn.StatementDescription

	// Len returns the number of cached prepared statement descriptions.
	Len() int

	// Cap returns the maximum number of cached prepared statement descriptions.
	Cap() int
}

// IsStatementInvalid reports whether err is the class of server error that
// means a cached prepared statement no longer matches the table shape it
// was planned against (e.g. a column was altered underneath it). Matching
// on SQLSTATE "0A000" rather than the error message text is deliberately
// broad: that code covers other "feature not supported" cases too, but the
// cost of a false positive is only an extra Parse, not a wrong result.
func IsStatementInvalid(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	if !ok {
		return false
	}
	return pgErr.Code == "0A000"
}
