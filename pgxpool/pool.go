// Package pgxpool owns a fixed-size set of protocol sessions and exposes
// both an exclusive acquire path and a multiplexed submission path that
// can interleave commands from many callers onto a single connection.
package pgxpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/pgmux/pgmux/internal/stmtcache"
	"github.com/pgmux/pgmux/pgconn"
)

var defaultMaxConns = int32(4)
var defaultMinConns = int32(0)
var defaultMaxConnLifetime = time.Hour
var defaultMaxConnIdleTime = time.Minute * 30
var defaultHealthCheckPeriod = time.Minute
var defaultStatementCacheCap = 512

// Config configures a DataSource. It must be created by ParseConfig (or
// built up from one) so zero-value Configs can't be handed to Connect by
// mistake.
type Config struct {
	ConnConfig *pgconn.Config

	BeforeConnect func(context.Context, *pgconn.Config) error
	AfterConnect  func(context.Context, *pgconn.Session) error
	BeforeAcquire func(context.Context, *pgconn.Session) bool
	AfterRelease  func(*pgconn.Session) bool

	MaxConnLifetime       time.Duration
	MaxConnLifetimeJitter time.Duration
	MaxConnIdleTime       time.Duration
	MaxConns              int32
	MinConns              int32
	HealthCheckPeriod     time.Duration

	// StatementCacheCapacity bounds the per-session statement cache; 0
	// disables prepared-statement caching entirely.
	StatementCacheCapacity int

	Tracer pgconn.Tracer

	createdByParseConfig bool
}

// ParseConfig builds a Config from a pgconn DSN, recognizing the
// additional pool_max_conns / pool_min_conns / pool_max_conn_lifetime /
// pool_max_conn_idle_time / pool_health_check_period keys.
func ParseConfig(dsn string) (*Config, error) {
	connConfig, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ConnConfig:             connConfig,
		MaxConns:               defaultMaxConns,
		MinConns:                defaultMinConns,
		MaxConnLifetime:        defaultMaxConnLifetime,
		MaxConnIdleTime:        defaultMaxConnIdleTime,
		HealthCheckPeriod:      defaultHealthCheckPeriod,
		StatementCacheCapacity: defaultStatementCacheCap,
		createdByParseConfig:   true,
	}

	if s, ok := connConfig.RuntimeParams["pool_max_conns"]; ok {
		delete(connConfig.RuntimeParams, "pool_max_conns")
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 1 {
			return nil, fmt.Errorf("pgxpool: invalid pool_max_conns %q", s)
		}
		cfg.MaxConns = int32(n)
	}
	if s, ok := connConfig.RuntimeParams["pool_min_conns"]; ok {
		delete(connConfig.RuntimeParams, "pool_min_conns")
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return nil, fmt.Errorf("pgxpool: invalid pool_min_conns %q", s)
		}
		cfg.MinConns = int32(n)
	}
	for key, dst := range map[string]*time.Duration{
		"pool_max_conn_lifetime":   &cfg.MaxConnLifetime,
		"pool_max_conn_idle_time":  &cfg.MaxConnIdleTime,
		"pool_health_check_period": &cfg.HealthCheckPeriod,
	} {
		if s, ok := connConfig.RuntimeParams[key]; ok {
			delete(connConfig.RuntimeParams, key)
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("pgxpool: invalid %s %q", key, s)
			}
			*dst = d
		}
	}

	return cfg, nil
}

// session is the pooled resource value: a protocol session plus the
// statement cache scoped to it.
type session struct {
	s     *pgconn.Session
	cache stmtcache.Cache
}

// DataSource owns a fixed-size pool of protocol sessions, a global
// command-text→prepared-statement-id registry, and the dispatcher that
// implements the multiplexed submission path.
type DataSource struct {
	p      *puddle.Pool[*session]
	config *Config

	beforeAcquire func(context.Context, *pgconn.Session) bool
	afterRelease  func(*pgconn.Session) bool

	maxConnLifetime       time.Duration
	maxConnLifetimeJitter time.Duration
	maxConnIdleTime       time.Duration
	minConns              int32
	healthCheckPeriod     time.Duration
	healthCheckChan       chan struct{}

	newConnsCount        int64
	lifetimeDestroyCount int64
	idleDestroyCount     int64

	registry *registry

	dispatcherInit sync.Once
	dispatcherInst *dispatcher

	closeOnce sync.Once
	closeChan chan struct{}
}

// Connect builds a DataSource from a DSN and establishes its minimum
// connection count.
func Connect(ctx context.Context, dsn string) (*DataSource, error) {
	cfg, err := ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, cfg)
}

// ConnectConfig builds a DataSource from cfg, which must come from
// ParseConfig.
func ConnectConfig(ctx context.Context, cfg *Config) (*DataSource, error) {
	if !cfg.createdByParseConfig {
		panic("pgxpool: config must be created by ParseConfig")
	}

	ds := &DataSource{
		config:                cfg,
		beforeAcquire:         cfg.BeforeAcquire,
		afterRelease:          cfg.AfterRelease,
		maxConnLifetime:       cfg.MaxConnLifetime,
		maxConnLifetimeJitter: cfg.MaxConnLifetimeJitter,
		maxConnIdleTime:       cfg.MaxConnIdleTime,
		minConns:              cfg.MinConns,
		healthCheckPeriod:     cfg.HealthCheckPeriod,
		healthCheckChan:       make(chan struct{}, 1),
		registry:              newRegistry(),
		closeChan:             make(chan struct{}),
	}

	constructor := func(ctx context.Context) (*session, error) {
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

		var cache stmtcache.Cache
		if cfg.StatementCacheCapacity > 0 {
			cache = stmtcache.NewLRUCache(cfg.StatementCacheCapacity)
		}

		return &session{s: s, cache: cache}, nil
	}

	destructor := func(sess *session) {
		sess.s.Close()
	}

	p, err := puddle.NewPool(&puddle.Config[*session]{
		Constructor: constructor,
		Destructor:  destructor,
		MaxSize:     cfg.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	ds.p = p

	if err := ds.checkMinConns(); err != nil {
		ds.Close()
		return nil, err
	}

	res, err := ds.p.Acquire(ctx)
	if err != nil {
		ds.Close()
		return nil, err
	}
	res.Release()

	go ds.backgroundHealthCheck()

	return ds, nil
}

// Close closes every session and rejects future Acquire calls. It blocks
// until all sessions are returned and closed.
func (ds *DataSource) Close() {
	ds.closeOnce.Do(func() {
		close(ds.closeChan)
		ds.p.Close()
		d := ds.dispatcherOnce()
		d.mu.Lock()
		for _, ms := range d.sessions {
			ms.sess.s.Close()
		}
		d.sessions = nil
		d.mu.Unlock()
	})
}

func (ds *DataSource) isExpired(res *puddle.Resource[*session]) bool {
	now := time.Now()
	if now.Sub(res.CreationTime()) > ds.maxConnLifetime+ds.maxConnLifetimeJitter {
		return true
	}
	if ds.maxConnLifetimeJitter == 0 {
		return false
	}
	jitterSecs := rand.Float64() * ds.maxConnLifetimeJitter.Seconds()
	return now.Sub(res.CreationTime()) > ds.maxConnLifetime+time.Duration(jitterSecs)*time.Second
}

func (ds *DataSource) triggerHealthCheck() {
	go func() {
		time.Sleep(500 * time.Millisecond)
		select {
		case ds.healthCheckChan <- struct{}{}:
		default:
		}
	}()
}

func (ds *DataSource) backgroundHealthCheck() {
	ticker := time.NewTicker(ds.healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ds.closeChan:
			return
		case <-ds.healthCheckChan:
			ds.checkHealth()
		case <-ticker.C:
			ds.checkHealth()
		}
	}
}

func (ds *DataSource) checkHealth() {
	for {
		if err := ds.checkMinConns(); err != nil {
			break
		}
		if !ds.checkConnsHealth() {
			break
		}
		select {
		case <-ds.closeChan:
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (ds *DataSource) checkConnsHealth() bool {
	var destroyed bool
	total := ds.Stat().TotalConns()
	resources := ds.p.AcquireAllIdle()
	for _, res := range resources {
		switch {
		case ds.isExpired(res) && total >= ds.minConns:
			atomic.AddInt64(&ds.lifetimeDestroyCount, 1)
			res.Destroy()
			destroyed = true
			total--
		case res.IdleDuration() > ds.maxConnIdleTime && total > ds.minConns:
			atomic.AddInt64(&ds.idleDestroyCount, 1)
			res.Destroy()
			destroyed = true
			total--
		case !ds.sessionHealthy(res.Value()):
			res.Destroy()
			destroyed = true
			total--
		default:
			res.ReleaseUnused()
		}
	}
	return destroyed
}

func (ds *DataSource) sessionHealthy(sess *session) bool {
	return sess.s.State() != pgconn.StateBroken
}

func (ds *DataSource) checkMinConns() error {
	toCreate := ds.minConns - ds.Stat().TotalConns()
	if toCreate <= 0 {
		return nil
	}
	return ds.createIdleResources(context.Background(), int(toCreate))
}

func (ds *DataSource) createIdleResources(parentCtx context.Context, n int) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			atomic.AddInt64(&ds.newConnsCount, 1)
			errs <- ds.p.CreateResource(ctx)
		}()
	}

	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			cancel()
			firstErr = err
		}
	}
	return firstErr
}

// Conn is an exclusively-acquired session: the caller owns it until
// Release, and may pipeline commands on it directly if allowed.
type Conn struct {
	ds          *DataSource
	res         *puddle.Resource[*session]
	allowPipelining bool
	mu          sync.Mutex
	inFlight    bool
}

// Acquire reserves one session exclusively. Release must be called to
// return it to the pool.
func (ds *DataSource) Acquire(ctx context.Context) (*Conn, error) {
	for {
		res, err := ds.p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		sess := res.Value()
		if ds.beforeAcquire == nil || ds.beforeAcquire(ctx, sess.s) {
			return &Conn{ds: ds, res: res}, nil
		}
		res.Destroy()
	}
}

// AllowPipelining permits more than one in-flight command on this
// exclusively-held session at a time; otherwise a second submission while
// one is outstanding fails with pgconn.ErrConnBusy.
func (c *Conn) AllowPipelining(allow bool) { c.allowPipelining = allow }

// Session returns the underlying protocol session.
func (c *Conn) Session() *pgconn.Session { return c.res.Value().s }

// StatementCache returns this connection's statement cache, or nil if
// statement caching is disabled.
func (c *Conn) StatementCache() stmtcache.Cache { return c.res.Value().cache }

// beginExclusiveCommand enforces the exclusive-path pipelining rule
// before a caller writes a new command.
func (c *Conn) beginExclusiveCommand() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight && !c.allowPipelining {
		return pgconn.ErrConnBusy
	}
	c.inFlight = true
	return nil
}

func (c *Conn) endExclusiveCommand() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// Exec runs sql through the simple-query protocol on this exclusively-held
// session, enforcing the pipelining rule from AllowPipelining.
func (c *Conn) Exec(ctx context.Context, sql string) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().Exec(ctx, sql)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// ExecParams runs sql through the extended-query protocol with the unnamed
// statement on this exclusively-held session.
func (c *Conn) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats, resultFormats []int16) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().ExecParams(ctx, sql, paramValues, paramOIDs, paramFormats, resultFormats)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// ExecParamsSchemaOnly is ExecParams' Describe-only counterpart: it never
// sends Execute, returning only the result's row description.
func (c *Conn) ExecParamsSchemaOnly(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats []int16) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().ExecParamsSchemaOnly(ctx, sql, paramValues, paramOIDs, paramFormats)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// ExecPrepared runs a previously Prepare'd statement on this
// exclusively-held session.
func (c *Conn) ExecPrepared(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats, resultFormats []int16) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().ExecPrepared(ctx, stmtName, paramValues, paramFormats, resultFormats)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// ExecPreparedSchemaOnly is ExecPrepared's Describe-only counterpart.
func (c *Conn) ExecPreparedSchemaOnly(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats []int16) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().ExecPreparedSchemaOnly(ctx, stmtName, paramValues, paramFormats)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// SendBatch queues b on this exclusively-held session.
func (c *Conn) SendBatch(ctx context.Context, b *pgconn.Batch) (*pgconn.CommandReader, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	r, err := c.Session().SendBatch(ctx, b)
	if err != nil {
		c.endExclusiveCommand()
		return nil, err
	}
	r.OnClose(c.endExclusiveCommand)
	return r, nil
}

// Prepare parses and describes a statement on this exclusively-held
// session without binding/executing it.
func (c *Conn) Prepare(ctx context.Context, name, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	if err := c.beginExclusiveCommand(); err != nil {
		return nil, err
	}
	defer c.endExclusiveCommand()
	return c.Session().Prepare(ctx, name, sql, paramOIDs)
}

// Release returns the connection to the pool. If the underlying session
// is Broken, it is destroyed instead of reused.
func (c *Conn) Release() {
	sess := c.res.Value()
	if sess.s.State() == pgconn.StateBroken {
		c.res.Destroy()
		return
	}
	if c.ds.afterRelease == nil || c.ds.afterRelease(sess.s) {
		c.res.Release()
	} else {
		c.res.Destroy()
	}
}

// Config returns a copy of the Config used to build ds.
func (ds *DataSource) Config() *Config {
	cp := *ds.config
	connCfg := *ds.config.ConnConfig
	cp.ConnConfig = &connCfg
	return &cp
}
