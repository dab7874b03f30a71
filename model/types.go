// Package model holds the canonical in-process value types described in
// spec.md §3. It has no JSON tags and no validation logic of its own: the
// envelope package owns the wire<->model boundary (spec.md §2 component 8,
// §4.9).
package model

import "github.com/ledgerwatch/buildcalc/condition"

// Predicate is a compiled condition tree plus the arena it belongs to; it is
// the model-level representation an Affix carries.
type Predicate struct {
	Arena *condition.Arena
	Node  condition.NodeID
}

type SkillKind int

const (
	SkillActive SkillKind = iota
	SkillSupport
	SkillAura
)

type Affix struct {
	Stats     map[string]float64
	Tags      []string
	Condition *Predicate
}

type Item struct {
	ID            string
	Slot          string
	BaseType      string
	IsTwoHanded   bool
	ImplicitStats map[string]float64
	Affixes       []Affix
	Tags          []string
	IsCorrupted   bool

	// LimitationKey dedups "limited unique" items (spec.md §4.4 sanitization);
	// empty means unlimited. Among items sharing a non-empty LimitationKey,
	// only the first (by Items slice order) survives sanitization.
	LimitationKey string
}

// DamageRange is a skill's per-element min/max base damage line.
type DamageRange struct {
	Min, Max float64
}

type DecayRule struct {
	// PerCall is the number of stacks lost every time the aggregator runs;
	// zero means no decay. The engine is pure, so decay only ever bounds the
	// count used within a single call — it never mutates caller state.
	PerCall int
}

type MechanicDefinition struct {
	Name           string
	Max            int
	PerStackEffect map[string]float64
	Decay          *DecayRule
}

type MechanicState struct {
	Name   string
	Stacks int
}

type Skill struct {
	ID             string
	Kind           SkillKind
	DamageType     string
	IsAttack       bool
	Level          int
	BaseDamage     map[string]DamageRange
	BaseTime       float64
	Cooldown       *float64
	ManaCost       float64
	Effectiveness  float64
	Tags           []string
	Stats          map[string]float64
	InjectedTags   []string
	ManaMultiplier float64
	PerLevelGrowth map[string]float64
}

type TargetConfig struct {
	Level           int
	DefenseConstant float64 // armor mitigation constant "k", spec.md §4.6/§9(c)
	Resistances     map[string]float64
	GenericDR       float64
	Armor           float64
	Evasion         float64
	// LifePool is required by the EHP formula (spec.md §4.6 stage 9) but is
	// not itemized among target_config's listed fields in spec.md §6; it is
	// carried here as the Open Question (DESIGN.md) resolution.
	LifePool float64
}

type PreviewSlot struct {
	SlotType string
	Item     *Item
}

type VarianceMode int

const (
	VarianceAverage VarianceMode = iota
	VarianceMin
	VarianceMax
)

type Input struct {
	ContextFlags        map[string]bool
	ContextValues       map[string]float64
	TargetConfig        TargetConfig
	Items               []Item
	ActiveSkill         Skill
	SupportSkills       []Skill
	GlobalOverrides     map[string]float64
	MechanicDefinitions []MechanicDefinition
	MechanicStates      []MechanicState
	PreviewSlot         *PreviewSlot
	Variance            VarianceMode
}
