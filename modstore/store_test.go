package modstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/tagset"
)

func allTags() tagset.Bitset { return tagset.NewBitset(8) }

func TestSumBaseAndIncreased(t *testing.T) {
	s := New()
	s.Add(Modifier{StatKey: "dmg.fire.min", Kind: BaseAdd, Value: 10})
	s.Add(Modifier{StatKey: "dmg.fire.min", Kind: BaseAdd, Value: 5})
	s.Add(Modifier{StatKey: "mod.inc.dmg.fire", Kind: Increased, Value: 0.5})
	s.Add(Modifier{StatKey: "mod.inc.dmg.fire", Kind: Increased, Value: 0.5})

	ctx := &condition.Context{}
	cache := condition.NewCache()
	require.Equal(t, 15.0, s.SumBase("dmg.fire.min", allTags(), ctx, cache))
	require.Equal(t, 1.0, s.SumIncreased("mod.inc.dmg.fire", allTags(), ctx, cache))
}

// Scenario 2 of spec.md §8: More vs Increased.
func TestMoreVsIncreased(t *testing.T) {
	base := 100.0
	s := New()
	s.Add(Modifier{StatKey: "mod.inc.dmg.fire", Kind: Increased, Value: 1.00})
	s.Add(Modifier{StatKey: "mod.more.dmg.fire", Kind: More, Value: 0.50})

	ctx := &condition.Context{}
	cache := condition.NewCache()
	inc := s.SumIncreased("mod.inc.dmg.fire", allTags(), ctx, cache)
	more := s.ProductMore("mod.more.dmg.fire", allTags(), ctx, cache)
	got := base * (1 + inc) * more
	require.InDelta(t, 300.0, got, 1e-9)
}

// Scenario 3 of spec.md §8: bucketed More sum.
func TestBucketedMoreSum(t *testing.T) {
	s := New()
	s.Add(Modifier{StatKey: "mod.more.dmg.fire", Kind: More, Value: 0.20, Bucket: "frenzy"})
	s.Add(Modifier{StatKey: "mod.more.dmg.fire", Kind: More, Value: 0.30, Bucket: "frenzy"})
	s.Add(Modifier{StatKey: "mod.more.dmg.fire", Kind: More, Value: 0.10, Bucket: "empower"})

	ctx := &condition.Context{}
	cache := condition.NewCache()
	got := s.ProductMore("mod.more.dmg.fire", allTags(), ctx, cache)
	require.InDelta(t, 1.65, got, 1e-9)
}

func TestProductMoreEmptyIsOne(t *testing.T) {
	s := New()
	ctx := &condition.Context{}
	require.Equal(t, 1.0, s.ProductMore("nothing", allTags(), ctx, condition.NewCache()))
}

func TestSumIncreasedEmptyIsZero(t *testing.T) {
	s := New()
	ctx := &condition.Context{}
	require.Equal(t, 0.0, s.SumIncreased("nothing", allTags(), ctx, condition.NewCache()))
}

func TestOverrideTieBreakFirstInsertionWins(t *testing.T) {
	s := New()
	s.Add(Modifier{StatKey: "crit.chance", Kind: Override, Value: 0.5, SourcePriority: 1})
	s.Add(Modifier{StatKey: "crit.chance", Kind: Override, Value: 0.9, SourcePriority: 1})

	ctx := &condition.Context{}
	v, ok := s.Override("crit.chance", allTags(), ctx, condition.NewCache())
	require.True(t, ok)
	require.Equal(t, 0.5, v)
}

func TestOverrideHighestPriorityWins(t *testing.T) {
	s := New()
	s.Add(Modifier{StatKey: "crit.chance", Kind: Override, Value: 0.5, SourcePriority: 1})
	s.Add(Modifier{StatKey: "crit.chance", Kind: Override, Value: 0.9, SourcePriority: 5})

	ctx := &condition.Context{}
	v, ok := s.Override("crit.chance", allTags(), ctx, condition.NewCache())
	require.True(t, ok)
	require.Equal(t, 0.9, v)
}

func TestTagRequirementsGateContribution(t *testing.T) {
	s := New()
	req := tagset.NewBitset(8)
	req.Set(3)
	s.Add(Modifier{StatKey: "dmg.fire.min", Kind: BaseAdd, Value: 10, TagRequirements: req})

	ctx := &condition.Context{}
	withoutTag := tagset.NewBitset(8)
	require.Equal(t, 0.0, s.SumBase("dmg.fire.min", withoutTag, ctx, condition.NewCache()))

	withTag := tagset.NewBitset(8)
	withTag.Set(3)
	require.Equal(t, 10.0, s.SumBase("dmg.fire.min", withTag, ctx, condition.NewCache()))
}

func TestConditionGatesContribution(t *testing.T) {
	arena := condition.NewArena()
	node := arena.Flag("lucky")

	s := New()
	s.Add(Modifier{StatKey: "crit.multiplier", Kind: BaseAdd, Value: 0.5, ConditionArena: arena, Condition: node, HasCondition: true})

	ctxFalse := &condition.Context{Flags: map[string]bool{"lucky": false}}
	require.Equal(t, 0.0, s.SumBase("crit.multiplier", allTags(), ctxFalse, condition.NewCache()))

	ctxTrue := &condition.Context{Flags: map[string]bool{"lucky": true}}
	require.Equal(t, 0.5, s.SumBase("crit.multiplier", allTags(), ctxTrue, condition.NewCache()))
}

// A pure HasTag/And/Or predicate must still gate correctly once the tag-only
// fast path is precomputed at Add time (condition.HasOnlyTagLeaves/TagFastPath).
func TestTagOnlyPredicateFastPath(t *testing.T) {
	arena := condition.NewArena()
	node := arena.And(arena.HasTag(2), arena.Or(arena.HasTag(4), arena.HasTag(5)))

	s := New()
	s.Add(Modifier{StatKey: "mod.inc.dmg.fire", Kind: Increased, Value: 0.3, ConditionArena: arena, Condition: node, HasCondition: true})

	ctx := &condition.Context{}

	// None of {2,4,5} set: the fast path itself should short-circuit this to
	// false without evaluating the And/Or tree.
	none := tagset.NewBitset(8)
	none.Set(6)
	require.Equal(t, 0.0, s.SumIncreased("mod.inc.dmg.fire", none, ctx, condition.NewCache()))

	// Tag 2 present but neither branch of the Or: fast path does not apply
	// (intersection non-empty), falls through to a real Eval that is false.
	onlyAnd := tagset.NewBitset(8)
	onlyAnd.Set(2)
	require.Equal(t, 0.0, s.SumIncreased("mod.inc.dmg.fire", onlyAnd, ctx, condition.NewCache()))

	both := tagset.NewBitset(8)
	both.Set(2)
	both.Set(4)
	require.Equal(t, 0.3, s.SumIncreased("mod.inc.dmg.fire", both, ctx, condition.NewCache()))
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.Add(Modifier{StatKey: "dmg.fire.min", Kind: BaseAdd, Value: 10})
	clone := s.Clone()
	clone.Add(Modifier{StatKey: "dmg.fire.min", Kind: BaseAdd, Value: 5})

	ctx := &condition.Context{}
	require.Equal(t, 10.0, s.SumBase("dmg.fire.min", allTags(), ctx, condition.NewCache()))
	require.Equal(t, 15.0, clone.SumBase("dmg.fire.min", allTags(), ctx, condition.NewCache()))
}
