// Package engine wires the tag registry, aggregator, conversion engine,
// pipeline executor, two-tier cache, and serialization boundary into the
// single entry point spec.md §6 describes: calculate, calculate_diff,
// get_cache_stats, wipe_cache, version.
package engine

import (
	"github.com/ledgerwatch/buildcalc/aggregator"
	"github.com/ledgerwatch/buildcalc/cache"
	"github.com/ledgerwatch/buildcalc/envelope"
	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/internal/buildinfo"
	"github.com/ledgerwatch/buildcalc/log"
	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/pipeline"
	"github.com/ledgerwatch/buildcalc/tagset"
	"github.com/ledgerwatch/buildcalc/trace"
)

// Engine is not safe for concurrent Calculate calls: per spec.md §5 it is the
// unit of serialization. Use Pool for sharded concurrent dispatch.
type Engine struct {
	registry *tagset.Registry
	cache    *cache.Cache
	opts     Options
}

// New builds an Engine around a registry builder already seeded with a
// host's tag catalog (tagset.DefaultCatalog plus any host-specific tags).
func New(builder *tagset.Builder, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	registry, err := builder.Build()
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, err, "tag registry build failed")
	}

	c, err := cache.New(o.ResultCacheCapacity, o.PreparedCacheCapacity)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "cache construction failed")
	}

	log.Info("engine initialized", "tag_population", registry.Population(), "version", buildinfo.Version())
	return &Engine{registry: registry, cache: c, opts: o}, nil
}

// Calculate implements spec.md §6's calculate(input) -> output, including the
// result-cache short-circuit and the prepared-context incremental delta path.
func (e *Engine) Calculate(in *envelope.InputEnvelope) (envelope.OutputEnvelope, error) {
	input, err := in.ToModel(e.registry)
	if err != nil {
		return envelope.OutputEnvelope{}, err
	}

	out, err := e.calculateModel(input, traceCollectorFor(in.DebugTrace))
	if err != nil {
		return envelope.OutputEnvelope{}, err
	}
	return envelope.FromModel(out), nil
}

// traceCollectorFor returns the per-stage event collector for a single call:
// a Recorder when the caller opted in via InputEnvelope.DebugTrace, a
// zero-cost Noop otherwise (spec.md §4.8's "Opt-in per call").
func traceCollectorFor(enabled bool) trace.Collector {
	if enabled {
		return trace.NewRecorder()
	}
	return trace.Noop{}
}

func (e *Engine) calculateModel(input *model.Input, tr trace.Collector) (*model.Output, error) {
	fullFP := cache.Full(input)
	if cached, ok := e.cache.GetResult(fullFP); ok {
		log.Debug("result cache hit", "fingerprint", fullFP)
		// No stage runs on a hit: report this call's own trace, not the one
		// stored with the cached output by an earlier call.
		cached.DebugTrace = tr.Entries()
		return &cached, nil
	}

	if input.TargetConfig.DefenseConstant <= 0 {
		input.TargetConfig.DefenseConstant = e.opts.DefaultArmorConstant
	}

	// The prepared-context cache holds only the item-independent ("ambient")
	// contributions — active skill, supports, mechanics, context flags, and
	// overrides — keyed on a fingerprint that excludes preview_slot. Items are
	// always folded fresh on top (spec.md §4.7): this is cheap relative to
	// skill/mechanic derivation, and lets a preview-slot swap substitute the
	// one affected item without re-deriving or double-counting anything else.
	baseFP := cache.Base(input)
	ambient, ok := e.cache.GetPrepared(baseFP)
	if !ok {
		var err error
		ambient, err = aggregator.AssembleAmbient(e.registry, input, tr)
		if err != nil {
			return nil, err
		}
		e.cache.PutPrepared(baseFP, ambient)
	}

	items, err := aggregator.ResolveItems(input.Items, input.PreviewSlot, tr)
	if err != nil {
		return nil, err
	}
	itemsStore, itemsTags, err := aggregator.AssembleItems(e.registry, items, tr)
	if err != nil {
		return nil, err
	}

	store := ambient.Store.Clone()
	store.Merge(itemsStore)
	prepared := &aggregator.Prepared{
		Store:          store,
		ActiveTags:     e.registry.ClosureOf(ambient.ActiveTags.Union(itemsTags)),
		Target:         input.TargetConfig,
		Skill:          ambient.Skill,
		CostMultiplier: ambient.CostMultiplier,
	}

	out, err := pipeline.Run(e.registry, prepared, input, tr)
	if err != nil {
		return nil, err
	}

	e.cache.PutResult(fullFP, *out)
	return out, nil
}

// CalculateDiff implements spec.md §6's calculate_diff(base, preview) -> diff.
func (e *Engine) CalculateDiff(base, preview *envelope.InputEnvelope) (envelope.DiffEnvelope, error) {
	baseModel, err := base.ToModel(e.registry)
	if err != nil {
		return envelope.DiffEnvelope{}, err
	}
	previewModel, err := preview.ToModel(e.registry)
	if err != nil {
		return envelope.DiffEnvelope{}, err
	}

	baseOut, err := e.calculateModel(baseModel, traceCollectorFor(base.DebugTrace))
	if err != nil {
		return envelope.DiffEnvelope{}, err
	}
	previewOut, err := e.calculateModel(previewModel, traceCollectorFor(preview.DebugTrace))
	if err != nil {
		return envelope.DiffEnvelope{}, err
	}

	diff := &model.Diff{
		Base:    *baseOut,
		Preview: *previewOut,
		Delta: model.OutputDelta{
			DPSTheoretical: previewOut.DPSTheoretical - baseOut.DPSTheoretical,
			DPSEffective:   previewOut.DPSEffective - baseOut.DPSEffective,
			HitDamage:      previewOut.HitDamage - baseOut.HitDamage,
			Rate:           previewOut.Rate - baseOut.Rate,
			CritChance:     previewOut.CritChance - baseOut.CritChance,
			CritMultiplier: previewOut.CritMultiplier - baseOut.CritMultiplier,
			HitChance:      previewOut.HitChance - baseOut.HitChance,
		},
	}
	return envelope.DiffFromModel(diff), nil
}

// CacheStats implements spec.md §6's get_cache_stats().
func (e *Engine) CacheStats() envelope.CacheStatsEnvelope {
	s := e.cache.Stats()
	return envelope.CacheStatsEnvelope{
		ResultHits:       s.ResultHits,
		ResultMisses:     s.ResultMisses,
		ResultSize:       s.ResultSize,
		ResultCapacity:   s.ResultCapacity,
		PreparedHits:     s.PreparedHits,
		PreparedMisses:   s.PreparedMisses,
		PreparedSize:     s.PreparedSize,
		PreparedCapacity: s.PreparedCapacity,
	}
}

// WipeCache implements spec.md §6's wipe_cache().
func (e *Engine) WipeCache() {
	e.cache.Wipe()
	log.Info("cache wiped")
}

// Version implements spec.md §6's version() -> semver string.
func (e *Engine) Version() string { return buildinfo.Version() }
