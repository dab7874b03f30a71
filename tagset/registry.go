package tagset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerwatch/buildcalc/log"
)

// ID is the dense integer identifier backing every Bitset bit position.
type ID uint32

// Category classifies a tag per spec.md §3: identity, mechanic, rule, state.
type Category int

const (
	CategoryIdentity Category = iota
	CategoryMechanic
	CategoryRule
	CategoryState
)

// UnknownPolicy governs what happens when evaluation encounters a tag key
// that was never registered at build time (spec.md §4.1, §9 open question a).
type UnknownPolicy int

const (
	// PolicyFail rejects the input with a TagUnknown validation error.
	PolicyFail UnknownPolicy = iota
	// PolicyAutoIntern transparently interns the tag into the registry's side
	// table and writes a warning through the log package; no entry is added
	// to a call's trace.
	PolicyAutoIntern
)

type tagDef struct {
	key      string
	category Category
	parents  []string
}

// Builder assembles a Registry from tag definitions, then computes and
// freezes the ancestor closure for every tag: an ordered, one-shot,
// data-driven build step.
type Builder struct {
	policy UnknownPolicy
	defs   []tagDef
	seen   map[string]bool
}

func NewBuilder(policy UnknownPolicy) *Builder {
	return &Builder{policy: policy, seen: make(map[string]bool)}
}

func (b *Builder) AddTag(key string, category Category, parents ...string) *Builder {
	if b.seen[key] {
		return b
	}
	b.seen[key] = true
	b.defs = append(b.defs, tagDef{key: key, category: category, parents: parents})
	return b
}

// Registry's built tags and their closures are fixed by Build. Under
// PolicyAutoIntern, Intern of an unknown key appends to the population,
// closures and key list while holding sideMu; Lookup, Key, Closure and
// Population read without that lock.
type Registry struct {
	policy     UnknownPolicy
	byKey      map[string]ID
	byID       []tagDef
	closures   []Bitset
	population int

	sideMu  sync.Mutex
	sideTbl map[string]ID
}

func (r *Registry) Population() int { return r.population }

func (r *Registry) Lookup(key string) (ID, bool) {
	id, ok := r.byKey[key]
	return id, ok
}

func (r *Registry) Key(id ID) string {
	if int(id) >= len(r.byID) {
		return ""
	}
	return r.byID[id].key
}

func (r *Registry) Category(id ID) Category {
	if int(id) >= len(r.byID) {
		return CategoryIdentity
	}
	return r.byID[id].category
}

// Intern resolves key to an ID, applying the registry's UnknownPolicy when the
// key was not registered at build time.
func (r *Registry) Intern(key string) (ID, error) {
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}
	r.sideMu.Lock()
	defer r.sideMu.Unlock()
	if id, ok := r.sideTbl[key]; ok {
		return id, nil
	}
	if r.policy == PolicyFail {
		return 0, fmt.Errorf("tagset: unknown tag %q", key)
	}
	id := ID(r.population)
	r.population++
	r.sideTbl[key] = id
	// Re-widen every existing closure so a population growth that crosses a
	// 64-bit word boundary doesn't leave earlier closures too narrow to ever
	// record membership in the newly interned tag.
	wide := NewBitset(r.population)
	wide.Set(id)
	for i := range r.closures {
		r.closures[i] = r.closures[i].Union(NewBitset(r.population))
	}
	r.closures = append(r.closures, wide)
	r.byID = append(r.byID, tagDef{key: key, category: CategoryState})
	log.Warn("auto-interned unknown tag", "key", key, "id", id)
	return id, nil
}

// Closure returns the precomputed ancestor closure of id, including id
// itself. The returned bitset must not be mutated by callers; Clone it first.
func (r *Registry) Closure(id ID) Bitset {
	if int(id) >= len(r.closures) {
		return NewBitset(r.population)
	}
	return r.closures[id]
}

// ClosureOf returns the union of Closure(id) for every id set in s.
func (r *Registry) ClosureOf(s Bitset) Bitset {
	out := NewBitset(r.population)
	s.ForEach(func(id ID) {
		out = out.Union(r.Closure(id))
	})
	return out
}

// Build computes closures via topological expansion with cycle detection; a
// cycle is a fatal ConfigInvalid condition (spec.md §4.1).
func (b *Builder) Build() (*Registry, error) {
	sort.SliceStable(b.defs, func(i, j int) bool { return b.defs[i].key < b.defs[j].key })

	byKey := make(map[string]ID, len(b.defs))
	for i, d := range b.defs {
		byKey[d.key] = ID(i)
	}

	n := len(b.defs)
	closures := make([]Bitset, n)
	state := make([]int, n) // 0=unvisited 1=visiting 2=done

	var visit func(id ID) error
	visit = func(id ID) error {
		switch state[id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("tagset: cycle detected at tag %q", b.defs[id].key)
		}
		state[id] = 1
		closure := NewBitset(n)
		closure.Set(id)
		for _, pkey := range b.defs[id].parents {
			pid, ok := byKey[pkey]
			if !ok {
				return fmt.Errorf("tagset: tag %q has unknown parent %q", b.defs[id].key, pkey)
			}
			if err := visit(pid); err != nil {
				return err
			}
			closure = closure.Union(closures[pid])
		}
		closures[id] = closure
		state[id] = 2
		return nil
	}

	for i := range b.defs {
		if err := visit(ID(i)); err != nil {
			return nil, err
		}
	}

	return &Registry{
		policy:     b.policy,
		byKey:      byKey,
		byID:       append([]tagDef(nil), b.defs...),
		closures:   closures,
		population: n,
		sideTbl:    make(map[string]ID),
	}, nil
}
