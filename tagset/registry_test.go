package tagset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Registry {
	t.Helper()
	r, err := NewBuilder(PolicyFail).
		AddTag("damage", CategoryIdentity).
		AddTag("fire", CategoryIdentity, "damage").
		AddTag("elemental", CategoryIdentity, "damage").
		AddTag("fire", CategoryIdentity, "elemental"). // duplicate AddTag is ignored
		AddTag("spell", CategoryIdentity).
		AddTag("projectile", CategoryIdentity).
		Build()
	require.NoError(t, err)
	return r
}

func TestClosureIncludesAncestors(t *testing.T) {
	r := buildSample(t)
	fireID, ok := r.Lookup("fire")
	require.True(t, ok)

	closure := r.Closure(fireID)
	damageID, _ := r.Lookup("damage")
	require.True(t, closure.Test(fireID))
	require.True(t, closure.Test(damageID))

	spellID, _ := r.Lookup("spell")
	require.False(t, closure.Test(spellID))
}

func TestClosureIdempotent(t *testing.T) {
	r := buildSample(t)
	fireID, _ := r.Lookup("fire")
	c1 := r.Closure(fireID)

	// closure-of-closure-union must equal the closure itself
	c2 := r.ClosureOf(c1)
	require.True(t, c1.Equal(c2))
}

func TestCycleDetection(t *testing.T) {
	_, err := NewBuilder(PolicyFail).
		AddTag("a", CategoryIdentity, "b").
		AddTag("b", CategoryIdentity, "a").
		Build()
	require.Error(t, err)
}

func TestUnknownTagPolicy(t *testing.T) {
	r := buildSample(t)

	_, err := r.Intern("nonexistent")
	require.Error(t, err)

	r2, err := NewBuilder(PolicyAutoIntern).AddTag("fire", CategoryIdentity).Build()
	require.NoError(t, err)
	id, err := r2.Intern("cold")
	require.NoError(t, err)
	require.True(t, r2.Closure(id).Test(id))
}

func TestBitsetSetOperations(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(65)
	b.Set(129)
	require.Equal(t, 3, b.Popcount())

	other := NewBitset(130)
	other.Set(65)
	require.True(t, other.IsSubset(b))
	require.False(t, b.IsSubset(other))

	union := b.Union(other)
	require.Equal(t, 3, union.Popcount())

	inter := b.Intersection(other)
	require.Equal(t, 1, inter.Popcount())
	require.True(t, inter.Test(65))
}
