// Package pipeline implements the nine-stage orchestrator of spec.md §4.6.
// Stages 1-2 (sanitization, aggregation) happen in aggregator.Assemble;
// pipeline.Run picks up from the prepared context and executes stages 3-9.
package pipeline

import (
	"math"

	"github.com/ledgerwatch/buildcalc/aggregator"
	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/conversion"
	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/tagset"
	"github.com/ledgerwatch/buildcalc/trace"
)

// Run executes stages 3-9 over a prepared context and produces the output
// envelope of spec.md §6.
func Run(registry *tagset.Registry, prepared *aggregator.Prepared, input *model.Input, tr trace.Collector) (*model.Output, error) {
	ctx := &condition.Context{
		Flags:          input.ContextFlags,
		Values:         contextValues(input, prepared),
		ActiveTags:     prepared.ActiveTags,
		MechanicStacks: mechanicStacks(input.MechanicStates),
	}
	cache := condition.NewCache()
	store := prepared.Store

	// Stage 3: base calculation.
	buckets := conversion.Buckets{}
	baseDamage := make(map[string]float64)
	for el, rng := range prepared.Skill.BaseDamage {
		roll := rollRange(rng, input.Variance)
		amount := roll * prepared.Skill.Effectiveness
		baseDamage[el] = amount
		if amount == 0 {
			continue
		}
		elID, err := registry.Intern(el)
		if err != nil {
			return nil, errkind.Wrap(errkind.TagUnknown, err, "unknown damage type "+el)
		}
		buckets[el] = append(buckets[el], conversion.Bucket{Amount: amount, Provenance: registry.Closure(elID)})
	}
	if tr.Enabled() {
		tr.Record("base_calculation", "rolled base damage", baseDamage, nil)
	}

	// Stage 4: extra-as.
	if err := conversion.RunExtraAs(store, registry, prepared.ActiveTags, ctx, cache, buckets); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "extra-as phase failed")
	}

	// Stage 5: conversion.
	preRescale, err := conversion.RunConversion(store, registry, prepared.ActiveTags, ctx, cache, buckets)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "conversion phase failed")
	}
	if tr.Enabled() {
		tr.Record("conversion", "pre-rescale outgoing fractions", preRescale, nil)
	}

	// Stage 6: modification. postModification holds each type's damage after
	// conversion and inc/more modification, but before mitigation; this is
	// what damage_breakdown.after_conversion reports.
	postModification := make(map[string]float64)
	afterConversion := make(map[string]model.TypeBreakdown)
	var totalIncreasedContribution, totalMoreContribution float64

	for _, damageType := range allBucketTypes(buckets) {
		var typeTotal float64
		var historyTags []string
		for _, entry := range buckets[damageType] {
			incFactor, moreFactor := modificationFactors(store, registry, entry.Provenance, ctx, cache, damageType)
			afterInc := entry.Amount * incFactor
			final := afterInc * moreFactor
			totalIncreasedContribution += afterInc - entry.Amount
			totalMoreContribution += final - afterInc
			typeTotal += final
			historyTags = append(historyTags, resolveTagKeys(registry, entry.Provenance)...)
		}
		postModification[damageType] = typeTotal
		afterConversion[damageType] = model.TypeBreakdown{Amount: typeTotal, HistoryTags: dedupStrings(historyTags)}
	}

	// Stage 7: speed.
	rate, err := computeRate(store, prepared.Skill, prepared.ActiveTags, ctx, cache)
	if err != nil {
		return nil, err
	}

	// Stage 8: crit & luck.
	critChance, expectedCritMultiplier, critMultiplier := computeCrit(store, prepared.ActiveTags, ctx, cache)

	// Stage 9: mitigation & output.
	byType, ehp := mitigate(postModification, prepared.Target, store, prepared.ActiveTags, ctx, cache)
	var hitDamage float64
	for _, v := range byType {
		hitDamage += v
	}

	hitChance := 1.0
	if prepared.Skill.IsAttack {
		accuracy := store.SumBase("acc.rating", prepared.ActiveTags, ctx, cache) *
			(1 + store.SumIncreased("mod.inc.acc.rating", prepared.ActiveTags, ctx, cache))
		denom := accuracy + prepared.Target.Evasion
		if denom > 0 {
			hitChance = clamp(accuracy*1.5/denom, 0, 1)
		}
	}

	dpsTheoretical := saturate(hitDamage * rate)
	dpsEffective := saturate(dpsTheoretical * hitChance * expectedCritMultiplier)

	if tr.Enabled() {
		tr.Record("output", "assembled output", map[string]float64{
			"hit_damage":      hitDamage,
			"rate":            rate,
			"dps_theoretical": dpsTheoretical,
			"dps_effective":   dpsEffective,
		}, nil)
	}

	return &model.Output{
		DPSTheoretical: dpsTheoretical,
		DPSEffective:   dpsEffective,
		HitDamage:      hitDamage,
		Rate:           rate,
		CritChance:     critChance,
		CritMultiplier: critMultiplier,
		HitChance:      hitChance,
		EHPSeries:      ehp,
		DamageBreakdown: model.DamageBreakdown{
			ByType:          byType,
			BaseDamage:      baseDamage,
			TotalIncreased:  totalIncreasedContribution,
			TotalMore:       totalMoreContribution,
			AfterConversion: afterConversion,
		},
		DebugTrace: tr.Entries(),
	}, nil
}

func allBucketTypes(buckets conversion.Buckets) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range conversion.CanonicalTypes {
		if _, ok := buckets[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	for t := range buckets {
		if !seen[t] {
			out = append(out, t)
		}
	}
	return out
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func resolveTagKeys(registry *tagset.Registry, s tagset.Bitset) []string {
	var out []string
	s.ForEach(func(id tagset.ID) {
		out = append(out, registry.Key(id))
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// saturate implements spec.md §6's numeric contract: divide-by-zero-derived
// infinities saturate to math.MaxFloat64 rather than propagating as Inf.
func saturate(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(v, -1) {
		return -math.MaxFloat64
	}
	return v
}

func contextValues(input *model.Input, prepared *aggregator.Prepared) map[string]float64 {
	out := make(map[string]float64, len(input.ContextValues))
	for k, v := range input.ContextValues {
		out[k] = v
	}
	for _, state := range input.MechanicStates {
		out["per_"+state.Name] = float64(state.Stacks)
	}
	return out
}

func mechanicStacks(states []model.MechanicState) map[string]int {
	out := make(map[string]int, len(states))
	for _, s := range states {
		out[s.Name] = s.Stacks
	}
	return out
}
