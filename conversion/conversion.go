// Package conversion executes the damage-type DAG of spec.md §4.5: Phase A
// (extra-as gain) then Phase B (conversion), producing damage buckets that
// retain a provenance tag set so type-gated modifiers still apply after
// conversion (the "tag-retention" contract).
package conversion

import (
	"strings"

	"github.com/petar/GoLLRB/llrb"

	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/modstore"
	"github.com/ledgerwatch/buildcalc/tagset"
)

// CanonicalTypes is the fixed topology Physical -> Lightning -> Cold -> Fire
// -> Chaos of spec.md §4.5.
var CanonicalTypes = []string{"physical", "lightning", "cold", "fire", "chaos"}

func DAGIndex(t string) int {
	for i, c := range CanonicalTypes {
		if c == t {
			return i
		}
	}
	return len(CanonicalTypes)
}

// Bucket is a single (amount, provenance) damage entry.
type Bucket struct {
	Amount     float64
	Provenance tagset.Bitset
}

// Buckets maps damage type -> its list of entries.
type Buckets map[string][]Bucket

func (b Buckets) total(t string) float64 {
	var sum float64
	for _, e := range b[t] {
		sum += e.Amount
	}
	return sum
}

// PreRescaleSums reports, per source type, the sum of outgoing conversion
// fractions before clamping/rescaling — recorded so the trace can show the
// pre-rescale value per spec.md §8's invariant list.
type PreRescaleSums map[string]float64

// edge orders (destination DAG index, fraction) pairs for a single source
// type in a GoLLRB tree keyed by destination DAG index, giving a sorted,
// mutable ordered structure for spec.md §4.5's "deterministic by
// destination's canonical DAG index".
type edge struct {
	dstIndex int
	dst      string
	fraction float64
}

func (e edge) Less(other llrb.Item) bool {
	return e.dstIndex < other.(edge).dstIndex
}

// RunExtraAs executes Phase A: for every "extra.<src>_as_<dst>" key with
// value v, emits an additional bucket in dst equal to v * base_of(src)
// without removing anything from src.
func RunExtraAs(store *modstore.Store, registry *tagset.Registry, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache, buckets Buckets) error {
	for _, key := range store.Keys() {
		if !strings.HasPrefix(key, "extra.") {
			continue
		}
		rest := strings.TrimPrefix(key, "extra.")
		idx := strings.Index(rest, "_as_")
		if idx < 0 {
			continue
		}
		src, dst := rest[:idx], rest[idx+len("_as_"):]

		v := store.SumBase(key, activeTags, ctx, cache)
		if v == 0 {
			continue
		}

		srcProvenance := tagset.NewBitset(registry.Population())
		baseOfSrc := buckets.total(src)
		for _, e := range buckets[src] {
			srcProvenance = srcProvenance.Union(e.Provenance)
		}

		dstID, err := registry.Intern(dst)
		if err != nil {
			return err
		}
		provenance := srcProvenance.Union(registry.Closure(dstID))
		buckets[dst] = append(buckets[dst], Bucket{Amount: v * baseOfSrc, Provenance: provenance})
	}
	return nil
}

// RunConversion executes Phase B in canonical DAG order, mutating buckets in
// place and returning the pre-rescale outgoing-fraction sums for tracing.
func RunConversion(store *modstore.Store, registry *tagset.Registry, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache, buckets Buckets) (PreRescaleSums, error) {
	pre := make(PreRescaleSums)

	for _, src := range CanonicalTypes {
		tree := llrb.New()
		var total float64
		for _, dst := range CanonicalTypes {
			if dst == src {
				continue
			}
			key := "conv." + src + "_to_" + dst
			f := store.SumBase(key, activeTags, ctx, cache)
			if f <= 0 {
				continue
			}
			total += f
			tree.InsertNoReplace(edge{dstIndex: DAGIndex(dst), dst: dst, fraction: f})
		}
		pre[src] = total
		if total == 0 {
			continue
		}

		scale := 1.0
		if total > 1.0 {
			scale = 1.0 / total
		}

		var edges []edge
		if tree.Len() > 0 {
			tree.AscendGreaterOrEqual(tree.Min(), func(i llrb.Item) bool {
				edges = append(edges, i.(edge))
				return true
			})
		}

		srcEntries := buckets[src]
		newSrcEntries := make([]Bucket, len(srcEntries))
		copy(newSrcEntries, srcEntries)

		for _, e := range edges {
			fraction := e.fraction * scale
			dstID, err := registry.Intern(e.dst)
			if err != nil {
				return nil, err
			}
			dstTagClosure := registry.Closure(dstID)

			for i, se := range srcEntries {
				amt := fraction * se.Amount
				if amt == 0 {
					continue
				}
				provenance := se.Provenance.Union(dstTagClosure)
				buckets[e.dst] = append(buckets[e.dst], Bucket{Amount: amt, Provenance: provenance})
				newSrcEntries[i].Amount -= amt
			}
		}
		buckets[src] = newSrcEntries
	}

	return pre, nil
}
