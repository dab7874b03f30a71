package cache

import (
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/crypto/sha3"

	"github.com/ledgerwatch/buildcalc/model"
)

// Fingerprint is the 32-byte canonical digest of an input, spec.md §3/§4.7:
// a cache key over the entire input that is insensitive to map iteration
// order and sensitive to every semantic field.
type Fingerprint [32]byte

// Full computes the fingerprint of the complete input, including preview_slot.
func Full(input *model.Input) Fingerprint {
	h := sha3.NewLegacyKeccak256()
	writeInput(h, input, true)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// Base computes the fingerprint of input with preview_slot excluded: the key
// for the prepared-context cache, so a request that only changes the preview
// slot reuses stages 1-2's output (spec.md §4.7's incremental delta path).
func Base(input *model.Input) Fingerprint {
	h := sha3.NewLegacyKeccak256()
	writeInput(h, input, false)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

type byteWriter interface {
	Write(p []byte) (n int, err error)
}

func writeInput(h byteWriter, in *model.Input, includePreview bool) {
	writeBoolMap(h, in.ContextFlags)
	writeFloatMap(h, in.ContextValues)
	writeTarget(h, in.TargetConfig)
	for _, it := range in.Items {
		writeItem(h, it)
	}
	writeSkill(h, in.ActiveSkill)
	for _, s := range in.SupportSkills {
		writeSkill(h, s)
	}
	writeFloatMap(h, in.GlobalOverrides)
	for _, d := range in.MechanicDefinitions {
		writeString(h, d.Name)
		writeInt(h, d.Max)
		writeFloatMap(h, d.PerStackEffect)
		if d.Decay != nil {
			writeInt(h, d.Decay.PerCall)
		}
	}
	for _, s := range in.MechanicStates {
		writeString(h, s.Name)
		writeInt(h, s.Stacks)
	}
	if includePreview && in.PreviewSlot != nil {
		writeString(h, in.PreviewSlot.SlotType)
		if in.PreviewSlot.Item != nil {
			writeItem(h, *in.PreviewSlot.Item)
		}
	}
	writeInt(h, int(in.Variance))
}

func writeTarget(h byteWriter, t model.TargetConfig) {
	writeInt(h, t.Level)
	writeFloat(h, t.DefenseConstant)
	writeFloatMap(h, t.Resistances)
	writeFloat(h, t.GenericDR)
	writeFloat(h, t.Armor)
	writeFloat(h, t.Evasion)
	writeFloat(h, t.LifePool)
}

func writeItem(h byteWriter, it model.Item) {
	writeString(h, it.ID)
	writeString(h, it.Slot)
	writeString(h, it.BaseType)
	writeBool(h, it.IsTwoHanded)
	writeFloatMap(h, it.ImplicitStats)
	for _, a := range it.Affixes {
		writeFloatMap(h, a.Stats)
		writeStrings(h, a.Tags)
		if a.Condition != nil {
			writeString(h, fmt.Sprintf("%d %+v", a.Condition.Node, *a.Condition.Arena))
		}
	}
	writeStrings(h, it.Tags)
	writeBool(h, it.IsCorrupted)
	writeString(h, it.LimitationKey)
}

func writeSkill(h byteWriter, s model.Skill) {
	writeString(h, s.ID)
	writeInt(h, int(s.Kind))
	writeString(h, s.DamageType)
	writeBool(h, s.IsAttack)
	writeInt(h, s.Level)
	keys := make([]string, 0, len(s.BaseDamage))
	for k := range s.BaseDamage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(h, k)
		writeFloat(h, s.BaseDamage[k].Min)
		writeFloat(h, s.BaseDamage[k].Max)
	}
	writeFloat(h, s.BaseTime)
	if s.Cooldown != nil {
		writeFloat(h, *s.Cooldown)
	}
	writeFloat(h, s.ManaCost)
	writeFloat(h, s.Effectiveness)
	writeStrings(h, s.Tags)
	writeFloatMap(h, s.Stats)
	writeStrings(h, s.InjectedTags)
	writeFloat(h, s.ManaMultiplier)
	writeFloatMap(h, s.PerLevelGrowth)
}

func writeBoolMap(h byteWriter, m map[string]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(h, k)
		writeBool(h, m[k])
	}
}

func writeFloatMap(h byteWriter, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(h, k)
		writeFloat(h, m[k])
	}
}

func writeStrings(h byteWriter, ss []string) {
	cp := append([]string(nil), ss...)
	sort.Strings(cp)
	for _, s := range cp {
		writeString(h, s)
	}
}

func writeString(h byteWriter, s string) { h.Write([]byte(s)); h.Write([]byte{0}) }
func writeBool(h byteWriter, b bool) {
	if b {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}
func writeInt(h byteWriter, n int)     { h.Write([]byte(strconv.Itoa(n))); h.Write([]byte{0}) }
func writeFloat(h byteWriter, f float64) {
	h.Write([]byte(strconv.FormatFloat(f, 'g', -1, 64)))
	h.Write([]byte{0})
}
