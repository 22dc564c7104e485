package engine

import (
	"slices"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

var catalog = []protocol.Character{
	{
		ID: "knight", Name: "Knight", Health: 120, Mana: 40,
		Abilities: []protocol.Ability{
			{ID: "shield_bash", Name: "Shield Bash", Type: "damage", Damage: 25, ManaCost: 10, Description: "A heavy blow with the shield."},
			{ID: "rally", Name: "Rally", Type: "heal", Healing: 20, ManaCost: 15, Description: "Catch a second wind."},
		},
	},
	{
		ID: "mage", Name: "Mage", Health: 80, Mana: 100,
		Abilities: []protocol.Ability{
			{ID: "fireball", Name: "Fireball", Type: "damage", Damage: 35, ManaCost: 20, Description: "Hurl a ball of fire."},
			{ID: "frost_bolt", Name: "Frost Bolt", Type: "damage", Damage: 20, ManaCost: 10, Description: "A cheap, reliable bolt."},
			{ID: "mend", Name: "Mend", Type: "heal", Healing: 25, ManaCost: 25, Description: "Knit wounds closed."},
		},
	},
	{
		ID: "rogue", Name: "Rogue", Health: 100, Mana: 60,
		Abilities: []protocol.Ability{
			{ID: "backstab", Name: "Backstab", Type: "damage", Damage: 30, ManaCost: 15, Description: "Strike where it hurts."},
			{ID: "poison_dart", Name: "Poison Dart", Type: "damage", Damage: 18, ManaCost: 8, Description: "A quick dart."},
		},
	},
}

// Catalog lists the playable characters.
func Catalog() []protocol.Character {
	out := make([]protocol.Character, len(catalog))
	for i := range catalog {
		out[i] = *catalog[i].Clone()
	}
	return out
}

// Lookup returns the catalog entry for id. Clients choose by id only; stats
// always come from here.
func Lookup(id string) (protocol.Character, bool) {
	i := slices.IndexFunc(catalog, func(c protocol.Character) bool { return c.ID == id })
	if i < 0 {
		return protocol.Character{}, false
	}
	return *catalog[i].Clone(), true
}
