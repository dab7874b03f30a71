// Package aggregator implements the Stat Aggregator of spec.md §4.4: it
// assembles the Modifier Store and active tag-set from items, skills,
// supports, mechanics, and overrides, honoring the local-before-global
// discipline for weapon-intrinsic numbers.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/model"
	"github.com/ledgerwatch/buildcalc/modstore"
	"github.com/ledgerwatch/buildcalc/tagset"
	"github.com/ledgerwatch/buildcalc/trace"
)

// localKeys is the fixed set of weapon-intrinsic numbers that the local-first
// discipline applies to (spec.md §4.4's "weapon min/max damage, local crit,
// local attack speed").
var localKeys = []string{"local.dmg.min", "local.dmg.max", "local.crit.chance", "local.speed.attack"}

// Prepared is the cache unit of spec.md §3: a modifier store, the active
// tag-set, and the resolved target config.
type Prepared struct {
	Store          *modstore.Store
	ActiveTags     tagset.Bitset
	Target         model.TargetConfig
	Skill          model.Skill
	CostMultiplier float64
}

// Assemble runs the five ordered steps of spec.md §4.4 over input, recording
// the discarded off-hand and folded mechanics to tr. Auto-interned tags are
// logged by the registry and do not appear in tr.
func Assemble(registry *tagset.Registry, input *model.Input, tr trace.Collector) (*Prepared, error) {
	ambient, err := AssembleAmbient(registry, input, tr)
	if err != nil {
		return nil, err
	}

	items, err := ResolveItems(input.Items, input.PreviewSlot, tr)
	if err != nil {
		return nil, err
	}
	itemsStore, itemsTags, err := AssembleItems(registry, items, tr)
	if err != nil {
		return nil, err
	}

	store := ambient.Store.Clone()
	store.Merge(itemsStore)
	activeTags := registry.ClosureOf(ambient.ActiveTags.Union(itemsTags))

	return &Prepared{
		Store:          store,
		ActiveTags:     activeTags,
		Target:         ambient.Target,
		Skill:          ambient.Skill,
		CostMultiplier: ambient.CostMultiplier,
	}, nil
}

// AssembleAmbient folds everything EXCEPT items into a Prepared context:
// the active skill (with per-level growth applied), support skills,
// mechanics, context flags, and global overrides. It is the unit cached
// under the prepared-context cache's base fingerprint (spec.md §4.7), since
// these contributions are independent of any single item or preview slot.
func AssembleAmbient(registry *tagset.Registry, input *model.Input, tr trace.Collector) (*Prepared, error) {
	store := modstore.New()
	activeTags := tagset.NewBitset(registry.Population())

	if input.ActiveSkill.Level < 0 {
		return nil, errkind.New(errkind.InputValidation, "active_skill.level must be non-negative", "active_skill", "level")
	}
	if input.ActiveSkill.ID == "" {
		return nil, errkind.New(errkind.InputValidation, "active_skill is required", "active_skill")
	}

	if err := unionTagsInto(registry, &activeTags, input.ActiveSkill.Tags); err != nil {
		return nil, err
	}

	resolvedSkill := applyPerLevelGrowth(input.ActiveSkill)
	if err := addStatMap(store, resolvedSkill.Stats, "skill:"+resolvedSkill.ID, tagset.Bitset{}); err != nil {
		return nil, err
	}

	costMultiplier := 1.0
	for _, support := range input.SupportSkills {
		if err := unionTagsInto(registry, &activeTags, support.Tags); err != nil {
			return nil, err
		}
		if err := unionTagsInto(registry, &activeTags, support.InjectedTags); err != nil {
			return nil, err
		}
		if err := addStatMap(store, support.Stats, "support:"+support.ID, tagset.Bitset{}); err != nil {
			return nil, err
		}
		if support.ManaMultiplier != 0 {
			costMultiplier *= support.ManaMultiplier
		}
	}

	for _, def := range input.MechanicDefinitions {
		state := findMechanicState(input.MechanicStates, def.Name)
		stacks := state.Stacks
		if def.Decay != nil && def.Decay.PerCall > 0 {
			stacks -= def.Decay.PerCall
		}
		if stacks < 0 {
			stacks = 0
		}
		if def.Max > 0 && stacks > def.Max {
			stacks = def.Max
		}
		if stacks <= 0 {
			continue
		}
		for k, v := range def.PerStackEffect {
			store.Add(modstore.Modifier{StatKey: k, Kind: modstore.BaseAdd, Value: v * float64(stacks), Source: "mechanic:" + def.Name})
		}
		if id, err := registry.Intern(def.Name); err == nil {
			activeTags.Set(id)
		}
		if tr.Enabled() {
			tr.Record("aggregation", fmt.Sprintf("mechanic %s folded %d stacks", def.Name, stacks), map[string]float64{"stacks": float64(stacks)}, nil)
		}
	}

	for _, id := range unionFlagTags(registry, input.ContextFlags) {
		activeTags.Set(id)
	}

	for k, v := range input.GlobalOverrides {
		store.Add(modstore.Modifier{StatKey: k, Kind: modstore.Override, Value: v, Source: "override", SourcePriority: 1 << 30})
	}

	closed := registry.ClosureOf(activeTags)

	return &Prepared{
		Store:          store,
		ActiveTags:     closed,
		Target:         input.TargetConfig,
		Skill:          resolvedSkill,
		CostMultiplier: resolvedSkill.ManaCost * costMultiplier,
	}, nil
}

// ResolveItems applies the preview-slot substitution and the sanitization
// rules of spec.md §4.4 step 1 (two-hand/off-hand resolution, limited-unique
// dedup) to a raw item list.
func ResolveItems(base []model.Item, preview *model.PreviewSlot, tr trace.Collector) ([]model.Item, error) {
	return sanitize(base, preview, tr)
}

// AssembleItems folds a resolved item list's intrinsic stats and affixes
// into a fresh store, applying the local-before-global discipline per item.
func AssembleItems(registry *tagset.Registry, items []model.Item, tr trace.Collector) (*modstore.Store, tagset.Bitset, error) {
	store := modstore.New()
	activeTags := tagset.NewBitset(registry.Population())
	for i := range items {
		if err := foldItem(registry, store, &activeTags, items[i], tr); err != nil {
			return nil, tagset.Bitset{}, err
		}
	}
	return store, registry.ClosureOf(activeTags), nil
}

func foldItem(registry *tagset.Registry, store *modstore.Store, activeTags *tagset.Bitset, item model.Item, tr trace.Collector) error {
	if err := unionTagsInto(registry, activeTags, item.Tags); err != nil {
		return err
	}

	resolvedLocal := localFirst(item, tr)

	src := "item:" + item.ID
	for k, v := range resolvedLocal {
		store.Add(modstore.Modifier{StatKey: strings.TrimPrefix(k, "local."), Kind: modstore.BaseAdd, Value: v, Source: src})
	}
	for k, v := range item.ImplicitStats {
		if isLocalKey(k) {
			continue // already folded into resolvedLocal above
		}
		store.Add(modstore.Modifier{StatKey: k, Kind: modstore.BaseAdd, Value: v, Source: src})
	}
	for _, affix := range item.Affixes {
		for k, v := range affix.Stats {
			if isLocalKey(k) || strings.HasPrefix(k, "mod.inc.local.") {
				continue // consumed by localFirst
			}
			m := modstore.Modifier{StatKey: k, Kind: modstore.BaseAdd, Value: v, Source: src}
			if affix.Condition != nil {
				m.ConditionArena, m.Condition, m.HasCondition = affix.Condition.Arena, affix.Condition.Node, true
			}
			store.Add(m)
		}
		if err := unionTagsInto(registry, activeTags, affix.Tags); err != nil {
			return err
		}
	}
	return nil
}

func isLocalKey(k string) bool {
	for _, lk := range localKeys {
		if lk == k {
			return true
		}
	}
	return false
}

// sanitize implements spec.md §4.4 step 1: two-hand/off-hand resolution and
// limited-unique dedup; preview_slot is applied as a single (slot, item)
// override on top of the base item list before these rules run.
func sanitize(base []model.Item, preview *model.PreviewSlot, tr trace.Collector) ([]model.Item, error) {
	items := applyPreview(base, preview)

	var mainHand *model.Item
	for i := range items {
		if items[i].Slot == "main_hand" {
			mainHand = &items[i]
		}
	}

	out := make([]model.Item, 0, len(items))
	seenLimitation := make(map[string]bool)
	droppedOffHand := false

	for _, it := range items {
		if mainHand != nil && mainHand.IsTwoHanded && it.Slot == "off_hand" {
			droppedOffHand = true
			continue
		}
		if it.LimitationKey != "" {
			if seenLimitation[it.LimitationKey] {
				continue
			}
			seenLimitation[it.LimitationKey] = true
		}
		out = append(out, it)
	}

	if droppedOffHand && tr.Enabled() {
		tr.Record("sanitization", "off-hand discarded: main hand is two-handed", nil, nil)
	}

	return out, nil
}

func applyPreview(base []model.Item, preview *model.PreviewSlot) []model.Item {
	if preview == nil {
		return base
	}
	out := make([]model.Item, 0, len(base)+1)
	replaced := false
	for _, it := range base {
		if it.Slot == preview.SlotType {
			replaced = true
			if preview.Item != nil {
				cp := *preview.Item
				cp.Slot = preview.SlotType
				out = append(out, cp)
			}
			continue
		}
		out = append(out, it)
	}
	if !replaced && preview.Item != nil {
		cp := *preview.Item
		cp.Slot = preview.SlotType
		out = append(out, cp)
	}
	return out
}

// localFirst applies local-before-global discipline: an item's own local
// INCREASED lines scale its own base intrinsic numbers before those numbers
// are handed to the global store (spec.md §4.4 step 2).
func localFirst(item model.Item, tr trace.Collector) map[string]float64 {
	resolved := make(map[string]float64, len(localKeys))
	for _, lk := range localKeys {
		base, ok := item.ImplicitStats[lk]
		if !ok {
			continue
		}
		incSum := 0.0
		for _, affix := range item.Affixes {
			if v, ok := affix.Stats["mod.inc."+lk]; ok {
				incSum += v
			}
		}
		resolved[lk] = base * (1 + incSum)
	}
	return resolved
}

func applyPerLevelGrowth(skill model.Skill) model.Skill {
	if skill.Level <= 1 || len(skill.PerLevelGrowth) == 0 {
		return skill
	}
	factor := float64(skill.Level - 1)

	out := skill
	out.BaseDamage = make(map[string]model.DamageRange, len(skill.BaseDamage))
	for el, r := range skill.BaseDamage {
		growth := skill.PerLevelGrowth["dmg."+el]
		out.BaseDamage[el] = model.DamageRange{Min: r.Min + growth*factor, Max: r.Max + growth*factor}
	}
	if growth, ok := skill.PerLevelGrowth["base.time"]; ok {
		out.BaseTime = skill.BaseTime + growth*factor
	}
	return out
}

func findMechanicState(states []model.MechanicState, name string) model.MechanicState {
	for _, s := range states {
		if s.Name == name {
			return s
		}
	}
	return model.MechanicState{Name: name}
}

func addStatMap(store *modstore.Store, stats map[string]float64, source string, req tagset.Bitset) error {
	for k, v := range stats {
		store.Add(modstore.Modifier{StatKey: k, Kind: modstore.BaseAdd, Value: v, Source: source, TagRequirements: req})
	}
	return nil
}

func unionTagsInto(registry *tagset.Registry, into *tagset.Bitset, keys []string) error {
	for _, k := range keys {
		id, err := registry.Intern(k)
		if err != nil {
			return errkind.Wrap(errkind.TagUnknown, err, fmt.Sprintf("unknown tag %q", k))
		}
		into.Set(id)
	}
	return nil
}

func unionFlagTags(registry *tagset.Registry, flags map[string]bool) []tagset.ID {
	var ids []tagset.ID
	for name, active := range flags {
		if !active {
			continue
		}
		if id, ok := registry.Lookup(name); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
