package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/buildcalc/envelope"
	"github.com/ledgerwatch/buildcalc/tagset"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(tagset.DefaultCatalog(tagset.NewBuilder(tagset.PolicyAutoIntern)))
	require.NoError(t, err)
	return e
}

func sampleEnvelope() *envelope.InputEnvelope {
	return &envelope.InputEnvelope{
		TargetConfig: envelope.TargetConfigEnvelope{Level: 1, Resistances: map[string]float64{}},
		ActiveSkill: envelope.SkillEnvelope{
			ID:            "fireball",
			BaseTime:      1,
			Effectiveness: 1,
			BaseDamage:    map[string]envelope.DamageRangeEnvelope{"fire": {Min: 100, Max: 100}},
		},
	}
}

func TestCalculateProducesDeterministicOutput(t *testing.T) {
	e := newTestEngine(t)
	in := sampleEnvelope()

	out1, err := e.Calculate(in)
	require.NoError(t, err)
	out2, err := e.Calculate(in)
	require.NoError(t, err)
	require.Equal(t, out1, out2)
	require.InDelta(t, 100.0, out1.HitDamage, 1e-9)
}

func TestCalculateCachesResults(t *testing.T) {
	e := newTestEngine(t)
	in := sampleEnvelope()

	_, err := e.Calculate(in)
	require.NoError(t, err)
	_, err = e.Calculate(in)
	require.NoError(t, err)

	stats := e.CacheStats()
	require.GreaterOrEqual(t, stats.ResultHits, uint64(1))
}

// Incremental recomputation equals from-scratch (spec.md §8 scenario 7): a
// preview-slot swap must match a full recomputation of the swapped-in input.
func TestIncrementalEqualsFromScratch(t *testing.T) {
	e := newTestEngine(t)
	base := sampleEnvelope()
	base.Items = []envelope.ItemEnvelope{
		{ID: "old-ring", Slot: "ring_1", ImplicitStats: map[string]float64{"mod.inc.dmg.fire": 0.1}},
	}

	withPreview := sampleEnvelope()
	withPreview.Items = base.Items
	withPreview.PreviewSlot = &envelope.PreviewSlotEnvelope{
		SlotType: "ring_1",
		Item:     &envelope.ItemEnvelope{ID: "new-ring", Slot: "ring_1", ImplicitStats: map[string]float64{"mod.inc.dmg.fire": 0.4}},
	}

	fromScratch := sampleEnvelope()
	fromScratch.Items = []envelope.ItemEnvelope{
		{ID: "new-ring", Slot: "ring_1", ImplicitStats: map[string]float64{"mod.inc.dmg.fire": 0.4}},
	}

	// Warm the prepared-context cache for the base input first.
	_, err := e.Calculate(base)
	require.NoError(t, err)

	incremental, err := e.Calculate(withPreview)
	require.NoError(t, err)

	scratch, err := e.Calculate(fromScratch)
	require.NoError(t, err)

	require.InDelta(t, scratch.HitDamage, incremental.HitDamage, 1e-9)
	require.InDelta(t, scratch.DPSEffective, incremental.DPSEffective, 1e-9)
}

func TestCalculateDiffReportsDelta(t *testing.T) {
	e := newTestEngine(t)
	base := sampleEnvelope()
	preview := sampleEnvelope()
	preview.ActiveSkill.Effectiveness = 2

	diff, err := e.CalculateDiff(base, preview)
	require.NoError(t, err)
	require.InDelta(t, diff.Preview.HitDamage-diff.Base.HitDamage, diff.Delta.HitDamage, 1e-9)
}

func TestWipeCacheClearsStats(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Calculate(sampleEnvelope())
	require.NoError(t, err)

	e.WipeCache()
	stats := e.CacheStats()
	require.Equal(t, 0, stats.ResultSize)
}

func TestVersionReturnsNonEmptyString(t *testing.T) {
	e := newTestEngine(t)
	require.NotEmpty(t, e.Version())
}
