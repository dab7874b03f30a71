// Package cache implements the two-tier LRU of spec.md §4.7: a Result Cache
// keyed by the full input fingerprint, and a Prepared-Context Cache keyed by
// the fingerprint of the input with preview_slot excluded, enabling the
// single-slot incremental delta path.
package cache

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/c2h5oh/datasize"
	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/buildcalc/aggregator"
	"github.com/ledgerwatch/buildcalc/log"
	"github.com/ledgerwatch/buildcalc/model"
)

// Stats mirrors spec.md §6's get_cache_stats() surface.
type Stats struct {
	ResultSize, ResultCapacity     int
	ResultHits, ResultMisses       uint64
	PreparedSize, PreparedCapacity int
	PreparedHits, PreparedMisses   uint64
}

// Cache owns both LRU tiers. It is single-writer per spec.md §5: the engine
// instance is the unit of serialization, one worker owning its caches
// outright.
type Cache struct {
	mu sync.Mutex

	results  *lru.Cache
	prepared *lru.Cache

	// residentResult tracks, via a compact rolling id assigned per fingerprint,
	// which result-cache entries are currently resident — a RoaringBitmap
	// secondary index kept in step with result-tier adds and evictions. Only
	// the result tier is tracked, and Stats does not read it: sizes come from
	// each LRU's own Len.
	residentResult *roaring.Bitmap
	fpIDs          map[Fingerprint]uint32
	nextFPID       uint32

	resultCapacity, preparedCapacity int

	resultHits, resultMisses     uint64
	preparedHits, preparedMisses uint64
}

// DefaultResultCapacity and DefaultPreparedCapacity follow spec.md §9(d)'s
// guidance that prepared-context entries are much larger than result entries
// and should use an independent, smaller capacity. Both are plain entry
// counts; the matching byte budgets below are expressed with
// datasize.ByteSize and are only logged.
const (
	DefaultResultCapacity   = 4096 // ~ 4096 * datasize.KB worth of result envelopes
	DefaultPreparedCapacity = 256  // prepared contexts are larger; budget fewer entries
)

var (
	resultBudget   = 4096 * datasize.KB
	preparedBudget = 16 * datasize.MB
)

// New builds a cache with the given tier capacities (entry counts, not byte
// budgets: the byte budgets above document intent for operators sizing a
// deployment, per spec.md §9's capacity guidance).
func New(resultCapacity, preparedCapacity int) (*Cache, error) {
	if resultCapacity <= 0 {
		resultCapacity = DefaultResultCapacity
	}
	if preparedCapacity <= 0 {
		preparedCapacity = DefaultPreparedCapacity
	}

	c := &Cache{
		fpIDs:            make(map[Fingerprint]uint32),
		residentResult:   roaring.New(),
		resultCapacity:   resultCapacity,
		preparedCapacity: preparedCapacity,
	}

	results, err := lru.NewWithEvict(resultCapacity, c.onResultEvict)
	if err != nil {
		return nil, err
	}
	prepared, err := lru.New(preparedCapacity)
	if err != nil {
		return nil, err
	}
	c.results = results
	c.prepared = prepared

	log.Debug("cache initialized", "result_capacity", resultCapacity, "prepared_capacity", preparedCapacity,
		"result_budget", resultBudget.HumanReadable(), "prepared_budget", preparedBudget.HumanReadable())
	return c, nil
}

func (c *Cache) onResultEvict(key, _ interface{}) {
	fp := key.(Fingerprint)
	if id, ok := c.fpIDs[fp]; ok {
		c.residentResult.Remove(id)
		delete(c.fpIDs, fp)
	}
}

func (c *Cache) fpID(fp Fingerprint) uint32 {
	if id, ok := c.fpIDs[fp]; ok {
		return id
	}
	id := c.nextFPID
	c.nextFPID++
	c.fpIDs[fp] = id
	return id
}

// GetResult looks up a previously computed output by its full fingerprint.
func (c *Cache) GetResult(fp Fingerprint) (model.Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.results.Get(fp)
	if !ok {
		c.resultMisses++
		return model.Output{}, false
	}
	c.resultHits++
	return v.(model.Output), true
}

// PutResult stores an output under its full fingerprint.
func (c *Cache) PutResult(fp Fingerprint, out model.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results.Add(fp, out)
	c.residentResult.Add(c.fpID(fp))
}

// GetPrepared looks up a previously assembled aggregator.Prepared by the base
// fingerprint (input sans preview_slot).
func (c *Cache) GetPrepared(fp Fingerprint) (*aggregator.Prepared, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.prepared.Get(fp)
	if !ok {
		c.preparedMisses++
		return nil, false
	}
	c.preparedHits++
	return v.(*aggregator.Prepared), true
}

// PutPrepared stores a prepared context under the base fingerprint.
func (c *Cache) PutPrepared(fp Fingerprint, p *aggregator.Prepared) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared.Add(fp, p)
}

// Wipe discards both tiers and resets counters, per spec.md §6's wipe_cache().
func (c *Cache) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results.Purge()
	c.prepared.Purge()
	c.residentResult = roaring.New()
	c.fpIDs = make(map[Fingerprint]uint32)
	c.resultHits, c.resultMisses = 0, 0
	c.preparedHits, c.preparedMisses = 0, 0
}

// Stats reports current occupancy and cumulative hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ResultSize:       c.results.Len(),
		ResultCapacity:   c.resultCapacity,
		ResultHits:       c.resultHits,
		ResultMisses:     c.resultMisses,
		PreparedSize:     c.prepared.Len(),
		PreparedCapacity: c.preparedCapacity,
		PreparedHits:     c.preparedHits,
		PreparedMisses:   c.preparedMisses,
	}
}
