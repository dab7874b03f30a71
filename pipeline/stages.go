package pipeline

import (
	"math"

	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/conversion"
	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/modstore"
	"github.com/ledgerwatch/buildcalc/tagset"
)

// rollRange resolves a skill's min/max damage line per the requested variance
// mode (spec.md §4.6 stage 3): average of the two bounds, or either bound.
func rollRange(rng model.DamageRange, variance model.VarianceMode) float64 {
	switch variance {
	case model.VarianceMin:
		return rng.Min
	case model.VarianceMax:
		return rng.Max
	default:
		return (rng.Min + rng.Max) / 2
	}
}

// modificationFactors computes the Modification stage's per-bucket-entry
// multiplier (spec.md §4.6 stage 6): one (1+increased) factor AND one
// more-product factor per canonical damage-type identity tag present in the
// entry's provenance, multiplied together across the present families. This
// is what reproduces spec.md §8's tag-retention worked example: a bucket
// converted from physical to fire still carries the "physical" identity tag
// in its provenance, so physical-gated and fire-gated modifiers both apply.
func modificationFactors(store *modstore.Store, registry *tagset.Registry, provenance tagset.Bitset, ctx *condition.Context, cache condition.Cache, damageType string) (incFactor, moreFactor float64) {
	incFactor, moreFactor = 1.0, 1.0
	matched := false
	for _, t := range conversion.CanonicalTypes {
		id, ok := registry.Lookup(t)
		if !ok || !provenance.Test(id) {
			continue
		}
		matched = true
		incFactor *= 1 + store.SumIncreased("mod.inc.dmg."+t, provenance, ctx, cache)
		moreFactor *= store.ProductMore("mod.more.dmg."+t, provenance, ctx, cache)
	}
	if !matched {
		// Non-canonical damage type (e.g. a host-defined extra type): fall back
		// to a single family keyed by its own name.
		incFactor = 1 + store.SumIncreased("mod.inc.dmg."+damageType, provenance, ctx, cache)
		moreFactor = store.ProductMore("mod.more.dmg."+damageType, provenance, ctx, cache)
	}

	// Generic "all damage" family always applies, independent of type.
	incFactor *= 1 + store.SumIncreased("mod.inc.dmg.all", provenance, ctx, cache)
	moreFactor *= store.ProductMore("mod.more.dmg.all", provenance, ctx, cache)
	return incFactor, moreFactor
}

// computeRate implements the Speed stage (spec.md §4.6 stage 7): selects the
// attack or cast speed family by skill kind, applies increased/more to the
// base rate, then caps at 1/cooldown when the skill has one.
func computeRate(store *modstore.Store, skill model.Skill, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) (float64, error) {
	if skill.BaseTime <= 0 {
		return 0, errkind.New(errkind.ConfigInvalid, "active_skill.base_time must be positive", "active_skill", "base_time")
	}

	family := "speed.cast"
	if skill.IsAttack {
		family = "speed.attack"
	}

	incSum := store.SumIncreased("mod.inc."+family, activeTags, ctx, cache)
	moreProduct := store.ProductMore("mod.more."+family, activeTags, ctx, cache)

	rate := (1 / skill.BaseTime) * (1 + incSum) * moreProduct
	if skill.Cooldown != nil && *skill.Cooldown > 0 {
		cap := 1 / *skill.Cooldown
		if rate > cap {
			rate = cap
		}
	}
	return rate, nil
}

// computeCrit implements the Crit & Luck stage (spec.md §4.6 stage 8): an
// additive base+increased crit chance clamped to [0,1], the "lucky" roll-
// twice-take-higher transform 1-(1-p)^2, a hard cannot_crit override, and the
// expected-damage-multiplier 1+p*(critMultiplier-1).
func computeCrit(store *modstore.Store, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) (chance, expectedMultiplier, critMultiplier float64) {
	base := store.SumBase("crit.chance", activeTags, ctx, cache)
	incSum := store.SumIncreased("mod.inc.crit.chance", activeTags, ctx, cache)
	chance = clamp(base+incSum, 0, 1)

	if store.AnyFlag("lucky", activeTags, ctx, cache) {
		chance = 1 - (1-chance)*(1-chance)
	}
	if store.AnyFlag("cannot_crit", activeTags, ctx, cache) {
		chance = 0
	}

	critMultiplier = 1 + store.SumBase("crit.multiplier", activeTags, ctx, cache) +
		store.SumIncreased("mod.inc.crit.multiplier", activeTags, ctx, cache)

	expectedMultiplier = 1 + chance*(critMultiplier-1)
	return chance, expectedMultiplier, critMultiplier
}

// mitigate implements the Mitigation & Output stage (spec.md §4.6 stage 9):
// resistance with a -200% penetration floor, generic damage reduction, the
// raw/(raw+armor*k) armor formula (physical only), and the EHP series.
func mitigate(postModification map[string]float64, target model.TargetConfig, store *modstore.Store, activeTags tagset.Bitset, ctx *condition.Context, cache condition.Cache) (mitigatedByType map[string]float64, ehp map[string]float64) {
	mitigatedByType = make(map[string]float64, len(postModification))
	ehp = make(map[string]float64, len(postModification))
	genericDR := clamp(target.GenericDR, 0, 1)

	for damageType, raw := range postModification {
		if raw == 0 {
			continue
		}

		res := target.Resistances[damageType]
		pen := store.SumBase("pen."+damageType, activeTags, ctx, cache)
		resEff := res - pen
		if resEff < -2.0 {
			resEff = -2.0
		}
		resFactor := 1 - clamp(resEff, -2.0, 0.9)

		passThrough := resFactor * (1 - genericDR)
		if damageType == "physical" && target.Armor > 0 {
			k := target.DefenseConstant
			if k <= 0 {
				k = 1.0
			}
			// spec.md §4.6 stage 9 armor formula: raw/(raw+armor*k) is the
			// fraction of physical damage that passes through.
			passThrough *= raw / (raw + target.Armor*k)
		}

		mitigatedByType[damageType] = raw * passThrough

		if target.LifePool > 0 {
			if passThrough <= 0 {
				ehp[damageType] = math.MaxFloat64
			} else {
				ehp[damageType] = target.LifePool / passThrough
			}
		}
	}

	return mitigatedByType, ehp
}
