// Package trace implements the opt-in per-stage event log of spec.md §4.8.
// Collection must never alter computed values; a Noop collector costs
// nothing when tracing is disabled.
package trace

import "github.com/ledgerwatch/buildcalc/model"

// Collector receives one Record call per notable pipeline event. Record must
// be side-effect free with respect to computed values.
type Collector interface {
	Record(phase, description string, values map[string]float64, matchedTags []string)
	Entries() []model.TraceEntry
	Enabled() bool
}

// Noop costs a single interface-method call and never allocates.
type Noop struct{}

func (Noop) Record(string, string, map[string]float64, []string) {}
func (Noop) Entries() []model.TraceEntry                         { return nil }
func (Noop) Enabled() bool                                       { return false }

// Recorder is the default enabled collector: an append-only, preallocated
// slice, matching spec.md §4.8's "SHOULD cost at most a constant factor when
// enabled" — no channel, no synchronization, since the engine is single-call
// synchronous per spec.md §5.
type Recorder struct {
	entries []model.TraceEntry
}

func NewRecorder() *Recorder {
	return &Recorder{entries: make([]model.TraceEntry, 0, 32)}
}

func (r *Recorder) Record(phase, description string, values map[string]float64, matchedTags []string) {
	r.entries = append(r.entries, model.TraceEntry{
		Phase:       phase,
		Description: description,
		Values:      values,
		MatchedTags: matchedTags,
	})
}

func (r *Recorder) Entries() []model.TraceEntry { return r.entries }
func (r *Recorder) Enabled() bool               { return true }
