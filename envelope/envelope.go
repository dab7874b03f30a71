// Package envelope owns the wire<->model boundary of spec.md §4.9: JSON
// structs with json tags, converted to/from the internal model package, with
// validation errors wrapped as path-located errkind.InputValidation values.
package envelope

import (
	"math"

	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/tagset"
)

// requireFinite rejects a NaN numeric field, per spec.md §6's numeric
// contract: "NaN inputs fail with a validation error."
func requireFinite(v float64, path ...string) error {
	if math.IsNaN(v) {
		return errkind.New(errkind.InputValidation, "value must not be NaN", path...)
	}
	return nil
}

// requireFiniteMap rejects any NaN value in m, reporting the offending key
// appended to path.
func requireFiniteMap(m map[string]float64, path ...string) error {
	for k, v := range m {
		if math.IsNaN(v) {
			return errkind.New(errkind.InputValidation, "value must not be NaN", append(append([]string{}, path...), k)...)
		}
	}
	return nil
}

type ConditionEnvelope struct {
	// Always string-form of the node ("always" | "flag:<name>" | ...); kept
	// deliberately minimal since the predicate grammar itself is a host-side
	// concern (spec.md §3 leaves predicate construction to the caller).
	Expr string `json:"expr"`
}

type AffixEnvelope struct {
	Stats     map[string]float64 `json:"stats"`
	Tags      []string           `json:"tags"`
	Condition *ConditionEnvelope `json:"condition,omitempty"`
}

type ItemEnvelope struct {
	ID            string             `json:"id"`
	Slot          string             `json:"slot"`
	BaseType      string             `json:"base_type"`
	IsTwoHanded   bool               `json:"is_two_handed"`
	ImplicitStats map[string]float64 `json:"implicit_stats"`
	Affixes       []AffixEnvelope    `json:"affixes"`
	Tags          []string           `json:"tags"`
	IsCorrupted   bool               `json:"is_corrupted"`
	LimitationKey string             `json:"limitation_key,omitempty"`
}

type DamageRangeEnvelope struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type SkillEnvelope struct {
	ID             string                         `json:"id"`
	SkillType      string                         `json:"skill_type"`
	DamageType     string                         `json:"damage_type,omitempty"`
	IsAttack       bool                           `json:"is_attack"`
	Level          int                            `json:"level"`
	BaseDamage     map[string]DamageRangeEnvelope `json:"base_damage"`
	BaseTime       float64                        `json:"base_time"`
	Cooldown       *float64                       `json:"cooldown,omitempty"`
	ManaCost       float64                        `json:"mana_cost"`
	Effectiveness  float64                        `json:"effectiveness"`
	Tags           []string                       `json:"tags"`
	Stats          map[string]float64             `json:"stats"`
	InjectedTags   []string                       `json:"injected_tags,omitempty"`
	ManaMultiplier float64                        `json:"mana_multiplier"`
	PerLevelGrowth map[string]float64             `json:"per_level_growth,omitempty"`
}

type TargetConfigEnvelope struct {
	Level           int                `json:"level"`
	DefenseConstant float64            `json:"defense_constant"`
	Resistances     map[string]float64 `json:"resistances"`
	GenericDR       float64            `json:"generic_dr"`
	Armor           float64            `json:"armor"`
	Evasion         float64            `json:"evasion"`
	LifePool        float64            `json:"life_pool"`
}

type MechanicDefinitionEnvelope struct {
	Name           string             `json:"name"`
	Max            int                `json:"max"`
	PerStackEffect map[string]float64 `json:"per_stack_effect"`
	DecayPerCall   int                `json:"decay_per_call,omitempty"`
}

type MechanicStateEnvelope struct {
	Name   string `json:"name"`
	Stacks int    `json:"stacks"`
}

type PreviewSlotEnvelope struct {
	SlotType string        `json:"slot_type"`
	Item     *ItemEnvelope `json:"item,omitempty"`
}

type InputEnvelope struct {
	ContextFlags        map[string]bool              `json:"context_flags"`
	ContextValues       map[string]float64            `json:"context_values"`
	TargetConfig        TargetConfigEnvelope           `json:"target_config"`
	Items               []ItemEnvelope                 `json:"items"`
	ActiveSkill         SkillEnvelope                  `json:"active_skill"`
	SupportSkills       []SkillEnvelope                `json:"support_skills"`
	GlobalOverrides     map[string]float64             `json:"global_overrides"`
	MechanicDefinitions []MechanicDefinitionEnvelope   `json:"mechanic_definitions,omitempty"`
	MechanicStates      []MechanicStateEnvelope        `json:"mechanic_states,omitempty"`
	PreviewSlot         *PreviewSlotEnvelope            `json:"preview_slot,omitempty"`
	Variance            string                          `json:"variance,omitempty"` // "average" | "min" | "max"
	// DebugTrace opts this single call into the per-stage event log (spec.md
	// §4.8): "Opt-in per call", not a process-wide setting.
	DebugTrace bool `json:"debug_trace,omitempty"`
}

type TypeBreakdownEnvelope struct {
	Amount      float64  `json:"amount"`
	HistoryTags []string `json:"history_tags"`
}

type DamageBreakdownEnvelope struct {
	ByType          map[string]float64               `json:"by_type"`
	BaseDamage      map[string]float64               `json:"base_damage"`
	TotalIncreased  float64                           `json:"total_increased"`
	TotalMore       float64                           `json:"total_more"`
	AfterConversion map[string]TypeBreakdownEnvelope `json:"after_conversion"`
}

type TraceEntryEnvelope struct {
	Phase       string             `json:"phase"`
	Description string             `json:"description"`
	Values      map[string]float64 `json:"values,omitempty"`
	MatchedTags []string           `json:"matched_tags,omitempty"`
}

type OutputEnvelope struct {
	DPSTheoretical  float64                 `json:"dps_theoretical"`
	DPSEffective    float64                 `json:"dps_effective"`
	HitDamage       float64                 `json:"hit_damage"`
	Rate            float64                 `json:"rate"`
	CritChance      float64                 `json:"crit_chance"`
	CritMultiplier  float64                 `json:"crit_multiplier"`
	HitChance       float64                 `json:"hit_chance"`
	EHPSeries       map[string]float64      `json:"ehp_series"`
	DamageBreakdown DamageBreakdownEnvelope `json:"damage_breakdown"`
	DebugTrace      []TraceEntryEnvelope    `json:"debug_trace"`
}

type OutputDeltaEnvelope struct {
	DPSTheoretical float64 `json:"dps_theoretical"`
	DPSEffective   float64 `json:"dps_effective"`
	HitDamage      float64 `json:"hit_damage"`
	Rate           float64 `json:"rate"`
	CritChance     float64 `json:"crit_chance"`
	CritMultiplier float64 `json:"crit_multiplier"`
	HitChance      float64 `json:"hit_chance"`
}

type DiffEnvelope struct {
	Base    OutputEnvelope      `json:"base"`
	Preview OutputEnvelope      `json:"preview"`
	Delta   OutputDeltaEnvelope `json:"delta"`
}

type CacheStatsEnvelope struct {
	ResultHits       uint64 `json:"result_hits"`
	ResultMisses     uint64 `json:"result_misses"`
	ResultSize       int    `json:"result_size"`
	ResultCapacity   int    `json:"result_capacity"`
	PreparedHits     uint64 `json:"prepared_hits"`
	PreparedMisses   uint64 `json:"prepared_misses"`
	PreparedSize     int    `json:"prepared_size"`
	PreparedCapacity int    `json:"prepared_capacity"`
}

// ToModel converts the wire envelope into internal value types, validating
// as it goes. Every validation failure carries a path locator, per spec.md §7.
// registry resolves tag:/not_tag: predicate expressions (spec.md §4.1).
func (e *InputEnvelope) ToModel(registry *tagset.Registry) (*model.Input, error) {
	if err := requireFiniteMap(e.ContextValues, "context_values"); err != nil {
		return nil, err
	}
	if err := requireFiniteMap(e.GlobalOverrides, "global_overrides"); err != nil {
		return nil, err
	}

	target, err := toTargetConfig(e.TargetConfig)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(e.Items))
	for i, it := range e.Items {
		mi, err := toItem(registry, it)
		if err != nil {
			return nil, errkind.Wrap(errkind.InputValidation, err, "invalid item", "items", itoa(i))
		}
		items = append(items, mi)
	}

	if e.ActiveSkill.ID == "" {
		return nil, errkind.New(errkind.InputValidation, "active_skill.id is required", "active_skill", "id")
	}
	activeSkill, err := toSkill(e.ActiveSkill)
	if err != nil {
		return nil, errkind.Wrap(errkind.InputValidation, err, "invalid active_skill", "active_skill")
	}

	supports := make([]model.Skill, 0, len(e.SupportSkills))
	for i, s := range e.SupportSkills {
		ms, err := toSkill(s)
		if err != nil {
			return nil, errkind.Wrap(errkind.InputValidation, err, "invalid support skill", "support_skills", itoa(i))
		}
		supports = append(supports, ms)
	}

	defs := make([]model.MechanicDefinition, 0, len(e.MechanicDefinitions))
	for i, d := range e.MechanicDefinitions {
		if err := requireFiniteMap(d.PerStackEffect, "mechanic_definitions", itoa(i), "per_stack_effect"); err != nil {
			return nil, err
		}
		md := model.MechanicDefinition{Name: d.Name, Max: d.Max, PerStackEffect: d.PerStackEffect}
		if d.DecayPerCall > 0 {
			md.Decay = &model.DecayRule{PerCall: d.DecayPerCall}
		}
		defs = append(defs, md)
	}

	states := make([]model.MechanicState, 0, len(e.MechanicStates))
	for _, s := range e.MechanicStates {
		states = append(states, model.MechanicState{Name: s.Name, Stacks: s.Stacks})
	}

	var preview *model.PreviewSlot
	if e.PreviewSlot != nil {
		preview = &model.PreviewSlot{SlotType: e.PreviewSlot.SlotType}
		if e.PreviewSlot.Item != nil {
			mi, err := toItem(registry, *e.PreviewSlot.Item)
			if err != nil {
				return nil, errkind.Wrap(errkind.InputValidation, err, "invalid preview_slot.item", "preview_slot", "item")
			}
			preview.Item = &mi
		}
	}

	variance, err := toVariance(e.Variance)
	if err != nil {
		return nil, err
	}

	return &model.Input{
		ContextFlags:        e.ContextFlags,
		ContextValues:       e.ContextValues,
		TargetConfig:        target,
		Items:               items,
		ActiveSkill:         activeSkill,
		SupportSkills:       supports,
		GlobalOverrides:     e.GlobalOverrides,
		MechanicDefinitions: defs,
		MechanicStates:      states,
		PreviewSlot:         preview,
		Variance:            variance,
	}, nil
}

func toVariance(v string) (model.VarianceMode, error) {
	switch v {
	case "", "average":
		return model.VarianceAverage, nil
	case "min":
		return model.VarianceMin, nil
	case "max":
		return model.VarianceMax, nil
	default:
		return 0, errkind.New(errkind.InputValidation, "unknown variance mode "+v, "variance")
	}
}

func toTargetConfig(e TargetConfigEnvelope) (model.TargetConfig, error) {
	if e.Level < 0 {
		return model.TargetConfig{}, errkind.New(errkind.ConfigInvalid, "target_config.level must be non-negative", "target_config", "level")
	}
	for _, f := range []struct {
		v    float64
		name string
	}{
		{e.DefenseConstant, "defense_constant"},
		{e.GenericDR, "generic_dr"},
		{e.Armor, "armor"},
		{e.Evasion, "evasion"},
		{e.LifePool, "life_pool"},
	} {
		if err := requireFinite(f.v, "target_config", f.name); err != nil {
			return model.TargetConfig{}, err
		}
	}
	if err := requireFiniteMap(e.Resistances, "target_config", "resistances"); err != nil {
		return model.TargetConfig{}, err
	}
	return model.TargetConfig{
		Level:           e.Level,
		DefenseConstant: e.DefenseConstant,
		Resistances:     e.Resistances,
		GenericDR:       e.GenericDR,
		Armor:           e.Armor,
		Evasion:         e.Evasion,
		LifePool:        e.LifePool,
	}, nil
}

func toItem(registry *tagset.Registry, e ItemEnvelope) (model.Item, error) {
	if err := requireFiniteMap(e.ImplicitStats, "implicit_stats"); err != nil {
		return model.Item{}, err
	}
	affixes := make([]model.Affix, 0, len(e.Affixes))
	for i, a := range e.Affixes {
		if err := requireFiniteMap(a.Stats, "affixes", itoa(i), "stats"); err != nil {
			return model.Item{}, err
		}
		aff := model.Affix{Stats: a.Stats, Tags: a.Tags}
		if a.Condition != nil {
			arena, node, err := parsePredicate(registry, a.Condition.Expr)
			if err != nil {
				return model.Item{}, err
			}
			aff.Condition = &model.Predicate{Arena: arena, Node: node}
		}
		affixes = append(affixes, aff)
	}
	return model.Item{
		ID:            e.ID,
		Slot:          e.Slot,
		BaseType:      e.BaseType,
		IsTwoHanded:   e.IsTwoHanded,
		ImplicitStats: e.ImplicitStats,
		Affixes:       affixes,
		Tags:          e.Tags,
		IsCorrupted:   e.IsCorrupted,
		LimitationKey: e.LimitationKey,
	}, nil
}

func toSkill(e SkillEnvelope) (model.Skill, error) {
	if e.BaseTime <= 0 {
		return model.Skill{}, errkind.New(errkind.ConfigInvalid, "base_time must be positive", "base_time")
	}
	for _, f := range []struct {
		v    float64
		name string
	}{
		{e.BaseTime, "base_time"},
		{e.ManaCost, "mana_cost"},
		{e.Effectiveness, "effectiveness"},
		{e.ManaMultiplier, "mana_multiplier"},
	} {
		if err := requireFinite(f.v, f.name); err != nil {
			return model.Skill{}, err
		}
	}
	if e.Cooldown != nil {
		if err := requireFinite(*e.Cooldown, "cooldown"); err != nil {
			return model.Skill{}, err
		}
	}
	if err := requireFiniteMap(e.Stats, "stats"); err != nil {
		return model.Skill{}, err
	}
	if err := requireFiniteMap(e.PerLevelGrowth, "per_level_growth"); err != nil {
		return model.Skill{}, err
	}
	for k, d := range e.BaseDamage {
		if err := requireFinite(d.Min, "base_damage", k, "min"); err != nil {
			return model.Skill{}, err
		}
		if err := requireFinite(d.Max, "base_damage", k, "max"); err != nil {
			return model.Skill{}, err
		}
	}
	kind := model.SkillActive
	switch e.SkillType {
	case "support":
		kind = model.SkillSupport
	case "aura":
		kind = model.SkillAura
	}
	baseDamage := make(map[string]model.DamageRange, len(e.BaseDamage))
	for k, v := range e.BaseDamage {
		baseDamage[k] = model.DamageRange{Min: v.Min, Max: v.Max}
	}
	manaMultiplier := e.ManaMultiplier
	if manaMultiplier == 0 {
		manaMultiplier = 1
	}
	return model.Skill{
		ID:             e.ID,
		Kind:           kind,
		DamageType:     e.DamageType,
		IsAttack:       e.IsAttack,
		Level:          e.Level,
		BaseDamage:     baseDamage,
		BaseTime:       e.BaseTime,
		Cooldown:       e.Cooldown,
		ManaCost:       e.ManaCost,
		Effectiveness:  e.Effectiveness,
		Tags:           e.Tags,
		Stats:          e.Stats,
		InjectedTags:   e.InjectedTags,
		ManaMultiplier: manaMultiplier,
		PerLevelGrowth: e.PerLevelGrowth,
	}, nil
}

// FromModel converts an internal Output into its wire representation.
func FromModel(o *model.Output) OutputEnvelope {
	afterConversion := make(map[string]TypeBreakdownEnvelope, len(o.DamageBreakdown.AfterConversion))
	for k, v := range o.DamageBreakdown.AfterConversion {
		afterConversion[k] = TypeBreakdownEnvelope{Amount: v.Amount, HistoryTags: v.HistoryTags}
	}
	trace := make([]TraceEntryEnvelope, 0, len(o.DebugTrace))
	for _, t := range o.DebugTrace {
		trace = append(trace, TraceEntryEnvelope{Phase: t.Phase, Description: t.Description, Values: t.Values, MatchedTags: t.MatchedTags})
	}
	return OutputEnvelope{
		DPSTheoretical: o.DPSTheoretical,
		DPSEffective:   o.DPSEffective,
		HitDamage:      o.HitDamage,
		Rate:           o.Rate,
		CritChance:     o.CritChance,
		CritMultiplier: o.CritMultiplier,
		HitChance:      o.HitChance,
		EHPSeries:      o.EHPSeries,
		DamageBreakdown: DamageBreakdownEnvelope{
			ByType:          o.DamageBreakdown.ByType,
			BaseDamage:      o.DamageBreakdown.BaseDamage,
			TotalIncreased:  o.DamageBreakdown.TotalIncreased,
			TotalMore:       o.DamageBreakdown.TotalMore,
			AfterConversion: afterConversion,
		},
		DebugTrace: trace,
	}
}

// DiffFromModel converts an internal Diff into its wire representation.
func DiffFromModel(d *model.Diff) DiffEnvelope {
	return DiffEnvelope{
		Base:    FromModel(&d.Base),
		Preview: FromModel(&d.Preview),
		Delta: OutputDeltaEnvelope{
			DPSTheoretical: d.Delta.DPSTheoretical,
			DPSEffective:   d.Delta.DPSEffective,
			HitDamage:      d.Delta.HitDamage,
			Rate:           d.Delta.Rate,
			CritChance:     d.Delta.CritChance,
			CritMultiplier: d.Delta.CritMultiplier,
			HitChance:      d.Delta.HitChance,
		},
	}
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
