package engine

import (
	"sync/atomic"

	"github.com/ledgerwatch/buildcalc/tagset"
)

// Pool shards N independent Engines across round-robin dispatch, sharding
// whole engine instances across workers rather than adding fine-grained
// locking to a hot data structure (spec.md §5's ambient concurrency note:
// the engine instance is the unit of serialization).
type Pool struct {
	engines []*Engine
	next    uint64
}

// NewPool builds shards independent Engines, each with its own tag registry
// and cache tiers built from the same builder/options template. builderFn is
// invoked once per shard so each engine gets its own Builder (Builder state
// is consumed by Build and cannot be shared).
func NewPool(shards int, builderFn func() *tagset.Builder, opts ...Option) (*Pool, error) {
	if shards <= 0 {
		shards = 1
	}
	p := &Pool{engines: make([]*Engine, shards)}
	for i := 0; i < shards; i++ {
		e, err := New(builderFn(), opts...)
		if err != nil {
			return nil, err
		}
		p.engines[i] = e
	}
	return p, nil
}

// Next returns the next engine in round-robin order. Callers must not share
// a single returned *Engine across concurrent Calculate calls; Next's
// round-robin dispatch only guarantees distinct engines for distinct calls,
// not serialization of a single shard under concurrent use.
func (p *Pool) Next() *Engine {
	i := atomic.AddUint64(&p.next, 1)
	return p.engines[int(i)%len(p.engines)]
}

// Shards returns the number of engines in the pool.
func (p *Pool) Shards() int { return len(p.engines) }
