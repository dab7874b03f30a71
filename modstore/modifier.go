// Package modstore implements the bucketed modifier store of spec.md §4.2: a
// keyed collection of typed modifiers (base-add, increased, more, flag,
// override) with optional tag requirements and predicates, and the five
// aggregation queries the pipeline drives off of it.
package modstore

import (
	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/tagset"
)

type Kind int

const (
	BaseAdd Kind = iota
	Increased
	More
	Flag
	Override
)

// Modifier is the tagged variant of spec.md §3/§9: a fixed set of
// constructors selected via the Kind field rather than a dynamic dispatch
// hierarchy.
type Modifier struct {
	StatKey string
	Kind    Kind
	Value   float64

	Source         string
	SourcePriority int

	TagRequirements tagset.Bitset

	// Condition is optional; nil means "always contributes" (subject still to
	// TagRequirements).
	ConditionArena *condition.Arena
	Condition      condition.NodeID
	HasCondition   bool

	// Bucket labels a logical effect for MORE modifiers so that two lines of
	// the same effect are summed before being multiplied against unrelated
	// MORE effects (spec.md §4.2, the "bucket" rule).
	Bucket string

	seq int // insertion order, used for the OVERRIDE tie-break

	// fastPathTags/fastPathApplicable cache condition.TagFastPath/HasOnlyTagLeaves
	// for this modifier's predicate, computed once at Store.Add time: when
	// fastPathApplicable is true and activeTags has none of fastPathTags set,
	// contributes can return false without ever calling condition.Eval.
	fastPathTags       tagset.Bitset
	fastPathApplicable bool
}

// prepareFastPath precomputes the tag-only fast path for a conditioned
// modifier, once, before it is stored.
func (m *Modifier) prepareFastPath() {
	if !m.HasCondition || !condition.HasOnlyTagLeaves(m.ConditionArena, m.Condition) {
		return
	}
	ids := condition.TagFastPath(m.ConditionArena, m.Condition).ToSlice()
	if len(ids) == 0 {
		// A degenerate all-And()/all-Or() predicate with no HasTag leaf at
		// all; nothing to fast-path against.
		return
	}
	var maxID tagset.ID
	for _, v := range ids {
		if id := v.(tagset.ID); id > maxID {
			maxID = id
		}
	}
	b := tagset.NewBitset(int(maxID) + 1)
	for _, v := range ids {
		b.Set(v.(tagset.ID))
	}
	m.fastPathTags = b
	m.fastPathApplicable = true
}

func (m Modifier) contributes(activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) bool {
	if !m.TagRequirements.IsSubset(activeTags) {
		return false
	}
	if !m.HasCondition {
		return true
	}
	if m.fastPathApplicable && m.fastPathTags.Intersection(activeTags).IsEmpty() {
		return false
	}
	evalCtx, evalCache := ctx, cache
	if ctx != nil && !ctx.ActiveTags.Equal(activeTags) {
		// HasTag leaves read this query's own active set (e.g. a bucket's
		// provenance); the shared per-run cache was not filled against it.
		scoped := *ctx
		scoped.ActiveTags = activeTags
		evalCtx, evalCache = &scoped, condition.NewCache()
	}
	return condition.Eval(m.ConditionArena, m.Condition, evalCtx, evalCache)
}
