package pgxpool

import (
	"time"

	"github.com/jackc/puddle/v2"
)

// Stat is a snapshot of DataSource statistics.
type Stat struct {
	s                    *puddle.Stat
	newConnsCount        int64
	lifetimeDestroyCount int64
	idleDestroyCount     int64
}

// Stat returns a snapshot of pool statistics.
func (ds *DataSource) Stat() *Stat {
	return &Stat{
		s:                    ds.p.Stat(),
		newConnsCount:        ds.newConnsCount,
		lifetimeDestroyCount: ds.lifetimeDestroyCount,
		idleDestroyCount:     ds.idleDestroyCount,
	}
}

func (s *Stat) AcquireCount() int64            { return s.s.AcquireCount() }
func (s *Stat) AcquireDuration() time.Duration { return s.s.AcquireDuration() }
func (s *Stat) AcquiredConns() int32           { return s.s.AcquiredResources() }
func (s *Stat) CanceledAcquireCount() int64    { return s.s.CanceledAcquireCount() }
func (s *Stat) ConstructingConns() int32       { return s.s.ConstructingResources() }
func (s *Stat) EmptyAcquireCount() int64       { return s.s.EmptyAcquireCount() }
func (s *Stat) IdleConns() int32               { return s.s.IdleResources() }
func (s *Stat) MaxConns() int32                { return s.s.MaxResources() }
func (s *Stat) TotalConns() int32              { return s.s.TotalResources() }
func (s *Stat) NewConnsCount() int64           { return s.newConnsCount }
func (s *Stat) MaxLifetimeDestroyCount() int64 { return s.lifetimeDestroyCount }
func (s *Stat) MaxIdleDestroyCount() int64     { return s.idleDestroyCount }
