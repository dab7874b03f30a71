package condition

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/ledgerwatch/buildcalc/tagset"
)

// Context is the runtime context a predicate is evaluated against:
// context_flags, context_values, the active tag set, and mechanic stack
// counts (spec.md §4.3).
type Context struct {
	Flags          map[string]bool
	Values         map[string]float64
	ActiveTags     tagset.Bitset
	MechanicStacks map[string]int
}

func (c *Context) flag(name string) bool {
	if c.Flags == nil {
		return false
	}
	return c.Flags[name]
}

func (c *Context) value(name string) float64 {
	if c.Values == nil {
		return 0
	}
	return c.Values[name]
}

func (c *Context) stacks(name string) int {
	if c.MechanicStacks == nil {
		return 0
	}
	return c.MechanicStacks[name]
}

// Cache memoizes node evaluations for the lifetime of a single pipeline run,
// per spec.md §4.2's "cache the per-query evaluation of each predicate during
// a single pipeline run" requirement. A fresh Cache must be created per call
// to Engine.Calculate; Arenas (and their NodeIDs) are shared across calls, so
// the cache cannot be.
type Cache map[cacheKey]bool

type cacheKey struct {
	arena *Arena
	id    NodeID
}

func NewCache() Cache { return make(Cache) }

// Eval evaluates node id against ctx. Evaluation is total and side-effect
// free: unknown flag/value names fall back to false/0, never an error.
func Eval(arena *Arena, id NodeID, ctx *Context, cache Cache) bool {
	key := cacheKey{arena: arena, id: id}
	if v, ok := cache[key]; ok {
		return v
	}
	v := evalNode(arena, arena.node(id), ctx, cache)
	cache[key] = v
	return v
}

func evalNode(arena *Arena, n Node, ctx *Context, cache Cache) bool {
	switch n.Kind {
	case KindAlways:
		return true
	case KindFlag:
		return ctx.flag(n.Name)
	case KindHasTag:
		return ctx.ActiveTags.Test(n.Tag)
	case KindMechanicStacks:
		return compareFloat(n.Op, float64(ctx.stacks(n.Name)), n.N)
	case KindCompare:
		lhs := evalNumeric(arena, n.Lhs, ctx)
		rhs := evalNumeric(arena, n.Rhs, ctx)
		return compareFloat(n.Op, lhs, rhs)
	case KindAnd:
		for _, c := range n.Children {
			if !Eval(arena, c, ctx, cache) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if Eval(arena, c, ctx, cache) {
				return true
			}
		}
		return false
	case KindNot:
		return !Eval(arena, n.Children[0], ctx, cache)
	default:
		return false
	}
}

// evalNumeric resolves a Value/Literal leaf used under Compare. Non-numeric
// nodes (e.g. a nested boolean subtree) evaluate to 0/1 via Eval, matching
// the AST's total-evaluation contract.
func evalNumeric(arena *Arena, id NodeID, ctx *Context) float64 {
	n := arena.node(id)
	switch n.Kind {
	case KindLiteral:
		return n.Literal
	case KindValue:
		return ctx.value(n.Name)
	default:
		if Eval(arena, id, ctx, NewCache()) {
			return 1
		}
		return 0
	}
}

func compareFloat(op CompareOp, lhs, rhs float64) bool {
	switch op {
	case OpLT:
		return lhs < rhs
	case OpLE:
		return lhs <= rhs
	case OpEQ:
		return lhs == rhs // exact equality per spec.md §4.3, no epsilon
	case OpGE:
		return lhs >= rhs
	case OpGT:
		return lhs > rhs
	case OpNE:
		return lhs != rhs
	default:
		return false
	}
}

// TagFastPath returns the deduplicated set of tag ids referenced by HasTag
// nodes anywhere under root, used by modstore to skip predicate evaluation
// entirely for modifiers whose predicate can only ever fail given the active
// tag set (none of its referenced tags are members).
func TagFastPath(arena *Arena, root NodeID) mapset.Set {
	seen := mapset.NewThreadUnsafeSet()
	var walk func(id NodeID)
	walk = func(id NodeID) {
		n := arena.node(id)
		switch n.Kind {
		case KindHasTag:
			seen.Add(n.Tag)
		case KindAnd, KindOr, KindNot:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	walk(root)
	return seen
}

// HasOnlyTagLeaves reports whether root's subtree is built exclusively from
// HasTag/And/Or nodes. TagFastPath's referenced-tag set is only sound to use
// as a skip-evaluation shortcut when this holds: a Not, or any non-tag leaf
// (Flag/Compare/MechanicStacks/Always), can make the predicate true
// independently of tag membership, so a disjoint tag set would not prove the
// predicate false in those trees the way it does in a pure HasTag/And/Or one.
func HasOnlyTagLeaves(arena *Arena, root NodeID) bool {
	n := arena.node(root)
	switch n.Kind {
	case KindHasTag:
		return true
	case KindAnd, KindOr:
		for _, c := range n.Children {
			if !HasOnlyTagLeaves(arena, c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
