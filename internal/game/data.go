package game

import "github.com/jensholdgaard/twitch-raid-bot/internal/store"

// Item tiers, lowest to highest.
const (
	TierCommon = "common"
	TierRare   = "rare"
	TierHigh   = "high"
)

// Item is one lootable kind. SellValue is the unadjusted credit value
// before loadout multipliers.
type Item struct {
	ID        string
	Name      string
	Category  string
	Tier      string
	SellValue int
}

// InventoryItem converts an Item to its persistence shape with the given
// adjusted sell value.
func (i Item) InventoryItem(sellValue int) store.InventoryItem {
	return store.InventoryItem{
		ItemID:    i.ID,
		ItemName:  i.Name,
		Category:  i.Category,
		Tier:      i.Tier,
		SellValue: sellValue,
	}
}

// MapDef is one playable map with its engine tuning.
type MapDef struct {
	Name             string
	DifficultyScalar float64
	EncounterBias    int
}

// Weapons is the weapon loot table.
var Weapons = []Item{
	{ID: "wpn_rattler", Name: "Rattler SMG", Category: "weapon", Tier: TierCommon, SellValue: 120},
	{ID: "wpn_scrapper", Name: "Scrapper Pistol", Category: "weapon", Tier: TierCommon, SellValue: 80},
	{ID: "wpn_bolt_rifle", Name: "Bolt Rifle", Category: "weapon", Tier: TierCommon, SellValue: 150},
	{ID: "wpn_drumline", Name: "Drumline Shotgun", Category: "weapon", Tier: TierCommon, SellValue: 140},
	{ID: "wpn_kestrel", Name: "Kestrel Carbine", Category: "weapon", Tier: TierRare, SellValue: 340},
	{ID: "wpn_longbow", Name: "Longbow DMR", Category: "weapon", Tier: TierRare, SellValue: 420},
	{ID: "wpn_hailfire", Name: "Hailfire LMG", Category: "weapon", Tier: TierRare, SellValue: 460},
	{ID: "wpn_tempest", Name: "Tempest Railgun", Category: "weapon", Tier: TierHigh, SellValue: 980},
	{ID: "wpn_sunlance", Name: "Sunlance Launcher", Category: "weapon", Tier: TierHigh, SellValue: 1150},
}

// ArcTech is the machine salvage loot table. Encounter drops draw from
// this table only.
var ArcTech = []Item{
	{ID: "arc_scrap", Name: "ARC Scrap Plating", Category: "arc_tech", Tier: TierCommon, SellValue: 60},
	{ID: "arc_servo", Name: "Servo Joint", Category: "arc_tech", Tier: TierCommon, SellValue: 90},
	{ID: "arc_cabling", Name: "Charred Cabling", Category: "arc_tech", Tier: TierCommon, SellValue: 70},
	{ID: "arc_lens", Name: "Optic Lens Array", Category: "arc_tech", Tier: TierCommon, SellValue: 110},
	{ID: "arc_cell", Name: "Intact Power Cell", Category: "arc_tech", Tier: TierRare, SellValue: 310},
	{ID: "arc_gyro", Name: "Stabilizer Gyro", Category: "arc_tech", Tier: TierRare, SellValue: 360},
	{ID: "arc_relay", Name: "Signal Relay Node", Category: "arc_tech", Tier: TierRare, SellValue: 400},
	{ID: "arc_core", Name: "Hunter Core Matrix", Category: "arc_tech", Tier: TierHigh, SellValue: 1050},
	{ID: "arc_brain", Name: "Queen Neural Lattice", Category: "arc_tech", Tier: TierHigh, SellValue: 1300},
}

// Maps is the map rotation. Scalars near 1.0 keep the extraction odds
// close to baseline; bias shifts how many machine encounters can roll.
var Maps = []MapDef{
	{Name: "Dam Battlegrounds", DifficultyScalar: 1.0, EncounterBias: 0},
	{Name: "Buried City", DifficultyScalar: 1.1, EncounterBias: 1},
	{Name: "Spaceport Ruins", DifficultyScalar: 1.2, EncounterBias: 1},
	{Name: "Blue Gate", DifficultyScalar: 0.9, EncounterBias: -1},
	{Name: "Stella Montis", DifficultyScalar: 1.3, EncounterBias: 0},
}

// EncounterVariants are the machine types that can ambush a squad.
var EncounterVariants = []string{
	"Wasp Swarm",
	"Hornet Patrol",
	"Tick Cluster",
	"Leaper Pack",
	"Rocketeer Battery",
	"Bastion Walker",
}

// LoreLines are flavor snippets occasionally appended to raid results.
var LoreLines = []string{
	"The dust settles over the dam. Somewhere below, the machines keep digging.",
	"Old world radio crackles through the static. Nobody answers.",
	"Topside winds carry the smell of ozone and burnt copper.",
	"Speranza's gates close behind the survivors. The surface keeps what it takes.",
	"A scavenger's maxim: travel light, dig deep, never look up.",
	"The rocketeer's contrail fades. It already knows where you sleep.",
	"Another haul, another day the lights stay on underground.",
	"They say the Queen never forgets a face. Best not to show it twice.",
}

// Co-op event kinds and their chat templates. Placeholders are the two
// raider names in order.
const (
	CoopCovered = "covered"
	CoopShared  = "shared"
	CoopHelped  = "helped"
)

var coopTemplates = map[string]string{
	CoopCovered: "🤝 %s covered %s during extraction.",
	CoopShared:  "🛠️ %s shared ammo with %s.",
	CoopHelped:  "⚡ %s helped %s take down an ARC threat.",
}

var coopKinds = []string{CoopCovered, CoopShared, CoopHelped}

// FirstExtractReward is granted once when a raider's first successful
// extraction yields nothing.
var FirstExtractReward = Weapons[0]
