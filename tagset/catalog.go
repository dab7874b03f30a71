package tagset

// DefaultCatalog seeds a Builder with the baseline identity/mechanic/rule
// tags every build understands out of the box: the five canonical damage
// types (and their "elemental" umbrella), the attack/spell/projectile/melee
// delivery mechanics, and the handful of state tags context_flags can
// activate. Hosts extend this with their own item/skill/affix-specific tags
// before calling Build.
func DefaultCatalog(b *Builder) *Builder {
	b.AddTag("damage", CategoryIdentity)
	b.AddTag("physical", CategoryIdentity, "damage")
	b.AddTag("elemental", CategoryIdentity, "damage")
	b.AddTag("lightning", CategoryIdentity, "elemental")
	b.AddTag("cold", CategoryIdentity, "elemental")
	b.AddTag("fire", CategoryIdentity, "elemental")
	b.AddTag("chaos", CategoryIdentity, "damage")

	b.AddTag("attack", CategoryMechanic)
	b.AddTag("spell", CategoryMechanic)
	b.AddTag("projectile", CategoryMechanic)
	b.AddTag("melee", CategoryMechanic)
	b.AddTag("aura", CategoryMechanic)
	b.AddTag("dot", CategoryMechanic)

	b.AddTag("two_handed", CategoryRule)
	b.AddTag("corrupted", CategoryRule)

	b.AddTag("lucky", CategoryState)
	b.AddTag("cannot_crit", CategoryState)

	return b
}
