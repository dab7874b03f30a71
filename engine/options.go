package engine

import "github.com/ledgerwatch/buildcalc/tagset"

// Options configures an Engine at construction time: tag policy, cache
// capacities, and the default armor mitigation constant (spec.md §9 open
// question (c)). Populated via functional options, a flag-to-struct wiring
// convention rather than a parsed config file format.
type Options struct {
	// TagPolicy is stored but not applied by New: the registry uses the
	// policy of the tagset.Builder passed to New.
	TagPolicy tagset.UnknownPolicy

	ResultCacheCapacity   int
	PreparedCacheCapacity int

	// DefaultArmorConstant is used when a target_config omits defense_constant
	// (zero value). spec.md §9(c) leaves this genre-convention constant to the
	// implementer; 10.0 is pinned here and documented in DESIGN.md.
	DefaultArmorConstant float64
}

func defaultOptions() Options {
	return Options{
		TagPolicy:             tagset.PolicyAutoIntern,
		ResultCacheCapacity:   0, // 0 => cache package's own default
		PreparedCacheCapacity: 0,
		DefaultArmorConstant:  10.0,
	}
}

type Option func(*Options)

func WithTagPolicy(p tagset.UnknownPolicy) Option {
	return func(o *Options) { o.TagPolicy = p }
}

func WithCacheCapacity(resultCapacity, preparedCapacity int) Option {
	return func(o *Options) {
		o.ResultCacheCapacity = resultCapacity
		o.PreparedCacheCapacity = preparedCapacity
	}
}

func WithDefaultArmorConstant(k float64) Option {
	return func(o *Options) { o.DefaultArmorConstant = k }
}
