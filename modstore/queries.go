package modstore

import (
	"sort"

	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/tagset"
)

// SumBase returns the sum of BASE_ADD values whose predicate holds.
func (s *Store) SumBase(key string, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) float64 {
	g := s.group(key)
	var total float64
	for _, m := range g.baseAdd {
		if m.contributes(activeTags, ctx, cache) {
			total += m.Value
		}
	}
	return total
}

// SumIncreased returns Σ of contributing INCREASED values; callers apply the
// total multiplier as (1 + Σ) per spec.md §4.2.
func (s *Store) SumIncreased(key string, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) float64 {
	g := s.group(key)
	var total float64
	for _, m := range g.increase {
		if m.contributes(activeTags, ctx, cache) {
			total += m.Value
		}
	}
	return total
}

// ProductMore returns Π(1+bucketSum) across MORE buckets: modifiers sharing a
// Bucket label are summed first, then buckets are multiplied together, per
// spec.md §4.2. A modifier with no Bucket label is its own singleton bucket.
func (s *Store) ProductMore(key string, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) float64 {
	g := s.group(key)
	if len(g.more) == 0 {
		return 1.0
	}

	bucketSums := make(map[string]float64)
	var singletonOrder []string
	order := make(map[string]int)
	next := 0

	for _, m := range g.more {
		if !m.contributes(activeTags, ctx, cache) {
			continue
		}
		label := m.Bucket
		if label == "" {
			label = singletonLabel(m.seq)
			singletonOrder = append(singletonOrder, label)
		}
		if _, ok := order[label]; !ok {
			order[label] = next
			next++
		}
		bucketSums[label] += m.Value
	}

	labels := make([]string, 0, len(bucketSums))
	for l := range bucketSums {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return order[labels[i]] < order[labels[j]] })

	product := 1.0
	for _, l := range labels {
		product *= 1 + bucketSums[l]
	}
	return product
}

func singletonLabel(seq int) string {
	return "\x00singleton\x00" + itoa(seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// AnyFlag is the disjunction over contributing FLAG modifiers.
func (s *Store) AnyFlag(key string, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) bool {
	g := s.group(key)
	for _, m := range g.flag {
		if m.contributes(activeTags, ctx, cache) {
			return true
		}
	}
	return false
}

// Override returns the highest-priority contributing OVERRIDE value. Ties in
// SourcePriority are broken by insertion order: first insertion wins
// (spec.md §9 open question b, pinned here as an invariant).
func (s *Store) Override(key string, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) (float64, bool) {
	g := s.group(key)
	var best *Modifier
	for i := range g.override {
		m := &g.override[i]
		if !m.contributes(activeTags, ctx, cache) {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		if m.SourcePriority > best.SourcePriority {
			best = m
		} else if m.SourcePriority == best.SourcePriority && m.seq < best.seq {
			best = m
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Value, true
}
