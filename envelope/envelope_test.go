package envelope

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/buildcalc/tagset"
)

func buildRegistry(t *testing.T) *tagset.Registry {
	t.Helper()
	reg, err := tagset.DefaultCatalog(tagset.NewBuilder(tagset.PolicyAutoIntern)).Build()
	require.NoError(t, err)
	return reg
}

func TestToModelValidatesRequiredFields(t *testing.T) {
	reg := buildRegistry(t)
	in := &InputEnvelope{}
	_, err := in.ToModel(reg)
	require.Error(t, err)
}

func TestToModelRoundTripsBasicInput(t *testing.T) {
	reg := buildRegistry(t)
	in := &InputEnvelope{
		TargetConfig: TargetConfigEnvelope{Level: 1},
		ActiveSkill: SkillEnvelope{
			ID:            "fireball",
			IsAttack:      false,
			BaseTime:      1,
			Effectiveness: 1,
			BaseDamage:    map[string]DamageRangeEnvelope{"fire": {Min: 10, Max: 20}},
		},
	}

	model, err := in.ToModel(reg)
	require.NoError(t, err)
	require.Equal(t, "fireball", model.ActiveSkill.ID)
	require.InDelta(t, 10, model.ActiveSkill.BaseDamage["fire"].Min, 1e-9)
	require.Equal(t, 1.0, model.ActiveSkill.ManaMultiplier) // zero-value defaults to 1
}

func TestToModelRejectsNonPositiveBaseTime(t *testing.T) {
	reg := buildRegistry(t)
	in := &InputEnvelope{
		ActiveSkill: SkillEnvelope{ID: "s", BaseTime: 0},
	}
	_, err := in.ToModel(reg)
	require.Error(t, err)
}

func TestToModelRejectsNaN(t *testing.T) {
	reg := buildRegistry(t)
	nan := math.NaN()

	cases := map[string]*InputEnvelope{
		"target_config field": {
			TargetConfig: TargetConfigEnvelope{Level: 1, Armor: nan},
			ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
		},
		"target_config.resistances": {
			TargetConfig: TargetConfigEnvelope{Level: 1, Resistances: map[string]float64{"fire": nan}},
			ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
		},
		"active_skill field": {
			TargetConfig: TargetConfigEnvelope{Level: 1},
			ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: nan},
		},
		"active_skill.base_damage": {
			TargetConfig: TargetConfigEnvelope{Level: 1},
			ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1, BaseDamage: map[string]DamageRangeEnvelope{"fire": {Min: nan, Max: 1}}},
		},
		"item.implicit_stats": {
			TargetConfig: TargetConfigEnvelope{Level: 1},
			ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
			Items:        []ItemEnvelope{{ID: "ring", Slot: "ring_1", ImplicitStats: map[string]float64{"life": nan}}},
		},
		"context_values": {
			TargetConfig:  TargetConfigEnvelope{Level: 1},
			ActiveSkill:   SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
			ContextValues: map[string]float64{"rage": nan},
		},
		"global_overrides": {
			TargetConfig:    TargetConfigEnvelope{Level: 1},
			ActiveSkill:     SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
			GlobalOverrides: map[string]float64{"crit.chance": nan},
		},
	}

	for name, in := range cases {
		in := in
		t.Run(name, func(t *testing.T) {
			_, err := in.ToModel(reg)
			require.Error(t, err)
		})
	}
}

func TestPredicateExprCompiles(t *testing.T) {
	reg := buildRegistry(t)
	in := &InputEnvelope{
		TargetConfig: TargetConfigEnvelope{Level: 1},
		ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
		Items: []ItemEnvelope{
			{
				ID:   "ring",
				Slot: "ring_1",
				Affixes: []AffixEnvelope{
					{Stats: map[string]float64{"mod.inc.dmg.fire": 0.2}, Condition: &ConditionEnvelope{Expr: "and(flag:in_boss_fight, tag:two_handed)"}},
				},
			},
		},
	}
	m, err := in.ToModel(reg)
	require.NoError(t, err)
	require.NotNil(t, m.Items[0].Affixes[0].Condition)
}

func TestPredicateExprRejectsGarbage(t *testing.T) {
	reg := buildRegistry(t)
	in := &InputEnvelope{
		TargetConfig: TargetConfigEnvelope{Level: 1},
		ActiveSkill:  SkillEnvelope{ID: "s", BaseTime: 1, Effectiveness: 1},
		Items: []ItemEnvelope{
			{
				ID:   "ring",
				Slot: "ring_1",
				Affixes: []AffixEnvelope{
					{Condition: &ConditionEnvelope{Expr: "not_even_close_to_valid"}},
				},
			},
		},
	}
	_, err := in.ToModel(reg)
	require.Error(t, err)
}
