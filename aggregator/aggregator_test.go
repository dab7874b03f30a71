package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/tagset"
	"github.com/ledgerwatch/buildcalc/trace"
)

func buildRegistry(t *testing.T) *tagset.Registry {
	t.Helper()
	reg, err := tagset.DefaultCatalog(tagset.NewBuilder(tagset.PolicyAutoIntern)).Build()
	require.NoError(t, err)
	return reg
}

func baseInput() *model.Input {
	return &model.Input{
		ActiveSkill: model.Skill{ID: "skill-1", BaseTime: 1, Effectiveness: 1},
	}
}

// Two-handed main hand drops an off-hand item, and the discard is traced.
func TestSanitizeDropsOffHandWithTwoHandedMainHand(t *testing.T) {
	reg := buildRegistry(t)
	in := baseInput()
	in.Items = []model.Item{
		{ID: "sword", Slot: "main_hand", IsTwoHanded: true},
		{ID: "shield", Slot: "off_hand"},
	}
	rec := trace.NewRecorder()

	prepared, err := Assemble(reg, in, rec)
	require.NoError(t, err)
	require.NotNil(t, prepared)

	found := false
	for _, e := range rec.Entries() {
		if e.Phase == "sanitization" {
			found = true
		}
	}
	require.True(t, found, "expected a sanitization trace entry for the discarded off-hand")
}

// Limited-unique items dedup: only the first by input order survives.
func TestSanitizeDedupsLimitedUnique(t *testing.T) {
	reg := buildRegistry(t)
	in := baseInput()
	in.Items = []model.Item{
		{ID: "ring-a", Slot: "ring_1", LimitationKey: "unique:one-ring", ImplicitStats: map[string]float64{"life": 10}},
		{ID: "ring-b", Slot: "ring_2", LimitationKey: "unique:one-ring", ImplicitStats: map[string]float64{"life": 999}},
	}

	prepared, err := Assemble(reg, in, trace.Noop{})
	require.NoError(t, err)
	require.InDelta(t, 10, prepared.Store.SumBase("life", prepared.ActiveTags, nil, nil), 1e-9)
}

// local-before-global: an item's own local INCREASED lines scale its own
// base intrinsic numbers before those numbers enter the global store.
func TestLocalFirstScalesOwnBase(t *testing.T) {
	reg := buildRegistry(t)
	in := baseInput()
	in.Items = []model.Item{
		{
			ID:            "wand",
			Slot:          "main_hand",
			ImplicitStats: map[string]float64{"local.dmg.min": 10, "local.dmg.max": 20},
			Affixes: []model.Affix{
				{Stats: map[string]float64{"mod.inc.local.dmg.min": 0.5, "mod.inc.local.dmg.max": 0.5}},
			},
		},
	}

	prepared, err := Assemble(reg, in, trace.Noop{})
	require.NoError(t, err)
	require.InDelta(t, 15, prepared.Store.SumBase("dmg.min", prepared.ActiveTags, nil, nil), 1e-9)
	require.InDelta(t, 30, prepared.Store.SumBase("dmg.max", prepared.ActiveTags, nil, nil), 1e-9)
}

// Mechanic decay bounds the stack count used for folding without mutating
// the input, and clamps to the mechanic's configured maximum.
func TestMechanicDecayAndMaxClamp(t *testing.T) {
	reg := buildRegistry(t)
	in := baseInput()
	in.MechanicDefinitions = []model.MechanicDefinition{
		{Name: "frenzy", Max: 5, PerStackEffect: map[string]float64{"mod.more.dmg.all": 0.1}, Decay: &model.DecayRule{PerCall: 2}},
	}
	in.MechanicStates = []model.MechanicState{{Name: "frenzy", Stacks: 10}}

	prepared, err := Assemble(reg, in, trace.Noop{})
	require.NoError(t, err)
	// 10 - 2 decay = 8, clamped to Max=5 -> 5 stacks folded.
	require.InDelta(t, 0.5, prepared.Store.SumBase("mod.more.dmg.all", prepared.ActiveTags, nil, nil), 1e-9)
}

// Per-level growth scales base_damage linearly by (level-1).
func TestPerLevelGrowthScalesLinearly(t *testing.T) {
	reg := buildRegistry(t)
	in := baseInput()
	in.ActiveSkill.Level = 4
	in.ActiveSkill.BaseDamage = map[string]model.DamageRange{"fire": {Min: 10, Max: 10}}
	in.ActiveSkill.PerLevelGrowth = map[string]float64{"dmg.fire": 2}

	prepared, err := Assemble(reg, in, trace.Noop{})
	require.NoError(t, err)
	require.InDelta(t, 16, prepared.Skill.BaseDamage["fire"].Min, 1e-9) // 10 + 2*(4-1)
}

// Unknown tags fail validation when the registry's policy requires it.
func TestUnknownTagFailsUnderStrictPolicy(t *testing.T) {
	reg, err := tagset.DefaultCatalog(tagset.NewBuilder(tagset.PolicyFail)).Build()
	require.NoError(t, err)

	in := baseInput()
	in.ActiveSkill.Tags = []string{"definitely_not_a_registered_tag"}

	_, err = Assemble(reg, in, trace.Noop{})
	require.Error(t, err)
}
