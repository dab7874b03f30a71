package modstore

import (
	"math/rand"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/buildcalc/tagset"
)

// SumBase must not depend on insertion order for unconditioned modifiers:
// fuzz a bounded batch of values and compare the aggregate under two
// independently shuffled insertion orders.
func TestAggregationIsOrderIndependentUnderFuzzing(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 20).Funcs(
		func(v *float64, c fuzz.Continue) { *v = c.Float64()*200 - 100 },
	)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		var values []float64
		f.Fuzz(&values)

		base := func(order []int) float64 {
			s := New()
			for _, idx := range order {
				s.Add(Modifier{StatKey: "dmg.fire", Kind: BaseAdd, Value: values[idx]})
			}
			return s.SumBase("dmg.fire", tagset.NewBitset(8), nil, nil)
		}

		orderA := rng.Perm(len(values))
		orderB := rng.Perm(len(values))

		require.InDelta(t, base(orderA), base(orderB), 1e-6)
	}
}

// Repeated queries against the same Store must return the same answer
// (Store is read-only from the aggregation queries' perspective).
func TestQueriesAreDeterministicUnderFuzzing(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 10).Funcs(
		func(v *float64, c fuzz.Continue) { *v = c.Float64()*10 - 5 },
	)

	for i := 0; i < 50; i++ {
		var values []float64
		f.Fuzz(&values)

		s := New()
		for _, v := range values {
			s.Add(Modifier{StatKey: "mod.inc.dmg.fire", Kind: Increased, Value: v})
		}

		first := s.SumIncreased("mod.inc.dmg.fire", tagset.NewBitset(8), nil, nil)
		second := s.SumIncreased("mod.inc.dmg.fire", tagset.NewBitset(8), nil, nil)
		require.Equal(t, first, second)
	}
}
