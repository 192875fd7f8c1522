// Package game holds the raid lifecycle, resolution engine, and the
// credit economy built on top of it.
package game

import (
	"fmt"
	"sort"

	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
	"github.com/jensholdgaard/twitch-raid-bot/internal/rng"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// Engine resolves a finished raid into a Result. It is pure: all inputs
// arrive as arguments and the only nondeterminism is the injected random
// source, so a seeded source makes every resolution reproducible.
type Engine struct {
	cfg      config.GameConfig
	rng      rng.Source
	allItems []Item
	arcItems []Item
	variants []string
	lore     []string
}

// NewEngine returns an Engine over the built-in loot tables.
func NewEngine(cfg config.GameConfig, src rng.Source) *Engine {
	all := make([]Item, 0, len(Weapons)+len(ArcTech))
	all = append(all, Weapons...)
	all = append(all, ArcTech...)
	return &Engine{
		cfg:      cfg,
		rng:      src,
		allItems: all,
		arcItems: ArcTech,
		variants: EncounterVariants,
		lore:     LoreLines,
	}
}

// Result is the full outcome of one raid resolution.
type Result struct {
	Participants []ParticipantResult
	Encounters   []Encounter
	CoopEvents   []CoopEvent
	Kills        []KillAttribution
	// LoreLine is empty when no flavor line rolled.
	LoreLine string
	Summary  Summary
}

// ParticipantResult is one raider's outcome. Items carry sell values
// already adjusted by the loadout multiplier.
type ParticipantResult struct {
	UserID     int64
	Name       string
	Extracted  bool
	Items      []store.InventoryItem
	TotalValue int
}

// Encounter is one machine ambush shared by a subset of raiders. Items
// hold unadjusted base values; loadout multipliers apply per raider.
type Encounter struct {
	Variant      string
	Participants []int64
	Items        []Item
}

// CoopEvent pairs two raiders in a flavor moment and grants each a tiny
// extraction bonus.
type CoopEvent struct {
	Kind  string
	UserA int64
	UserB int64
	NameA string
	NameB string
}

// Message renders the event's chat line.
func (c CoopEvent) Message() string {
	return fmt.Sprintf(coopTemplates[c.Kind], c.NameA, c.NameB)
}

// KillAttribution credits one death to an extracted PVP raider.
type KillAttribution struct {
	KillerID   int64
	VictimID   int64
	KillerName string
	VictimName string
}

// Haul identifies a raider and the value they carried out.
type Haul struct {
	UserID int64
	Name   string
	Value  int
}

// Summary aggregates a resolution for the announcement line.
type Summary struct {
	TotalRaiders int
	Extracts     int
	Deaths       int
	BestHaul     Haul
	// MVP is nil when no MVP rolled.
	MVP *Haul
}

// Resolve runs the full resolution for the given roster and map tuning.
// Draw order is fixed: encounters, co-op events, per-raider extraction
// and loot in roster order, kill attributions, lore, MVP. Reordering any
// step changes seeded outcomes.
func (e *Engine) Resolve(participants []store.Participant, mod store.MapModifier) *Result {
	encounterMax := e.cfg.EncounterMax + mod.EncounterBias
	if encounterMax < 0 {
		encounterMax = 0
	}
	if encounterMax > 3 {
		encounterMax = 3
	}
	encounters := e.rollEncounters(participants, encounterMax)
	coopEvents := e.rollCoopEvents(participants)

	results := make([]ParticipantResult, 0, len(participants))
	var extractedPVP []int64

	for _, p := range participants {
		coopCount := 0
		for _, ev := range coopEvents {
			if ev.UserA == p.UserID || ev.UserB == p.UserID {
				coopCount++
			}
		}
		chance := e.ExtractChance(p.Loadout, mod.DifficultyScalar, coopCount)
		extracted := e.rng.Float64() < chance

		if extracted && p.Loadout == store.LoadoutPVP {
			extractedPVP = append(extractedPVP, p.UserID)
		}

		var items []store.InventoryItem
		total := 0
		if extracted {
			items = e.rollLoot(p.Loadout, encounters, p.UserID)
			for _, it := range items {
				total += it.SellValue
			}
		}

		results = append(results, ParticipantResult{
			UserID:     p.UserID,
			Name:       p.Name(),
			Extracted:  extracted,
			Items:      items,
			TotalValue: total,
		})
	}

	kills := e.attributeKills(participants, results, extractedPVP)

	loreLine := ""
	if e.rng.Float64() < 0.5 {
		loreLine = e.lore[int(e.rng.Float64()*float64(len(e.lore)))]
	}

	extracts, deaths := 0, 0
	for _, r := range results {
		if r.Extracted {
			extracts++
		} else {
			deaths++
		}
	}

	best := bestHaul(results)
	var mvp *Haul
	if extracts > 0 && e.rng.Float64() < 0.3 {
		h := best
		mvp = &h
	}

	return &Result{
		Participants: results,
		Encounters:   encounters,
		CoopEvents:   coopEvents,
		Kills:        kills,
		LoreLine:     loreLine,
		Summary: Summary{
			TotalRaiders: len(participants),
			Extracts:     extracts,
			Deaths:       deaths,
			BestHaul:     best,
			MVP:          mvp,
		},
	}
}

// ExtractChance computes a raider's extraction probability from loadout,
// map difficulty, and how many co-op events involve them. The result is
// always clamped to [0.05, 0.95] so no setup is a guaranteed win or loss.
func (e *Engine) ExtractChance(loadout store.Loadout, difficultyScalar float64, coopCount int) float64 {
	chance := e.cfg.BaseExtractChance

	switch loadout {
	case store.LoadoutPVP:
		chance += e.cfg.PVPExtractDelta
	case store.LoadoutPVE:
		chance += e.cfg.PVEExtractDelta
	case store.LoadoutLooting:
		chance += e.cfg.LootingExtractDelta
	case store.LoadoutFree:
		chance += e.cfg.FreeExtractDelta
	}

	mapMod := (difficultyScalar - 1.0) * 0.10
	if mapMod > e.cfg.MapModifierCap {
		mapMod = e.cfg.MapModifierCap
	}
	if mapMod < -e.cfg.MapModifierCap {
		mapMod = -e.cfg.MapModifierCap
	}
	chance += mapMod

	coopBonus := float64(coopCount) * e.cfg.CoopBonusPerEvent
	if coopBonus > e.cfg.CoopBonusMax {
		coopBonus = e.cfg.CoopBonusMax
	}
	chance += coopBonus

	if chance < 0.05 {
		chance = 0.05
	}
	if chance > 0.95 {
		chance = 0.95
	}
	return chance
}

// rollLoot builds an extracted raider's haul: encounter drops first, then
// regular rolls up to the loadout's target count, then the loadout value
// multiplier, then the hard caps.
func (e *Engine) rollLoot(loadout store.Loadout, encounters []Encounter, userID int64) []store.InventoryItem {
	targetCount := 3
	switch loadout {
	case store.LoadoutPVP:
		targetCount = 2
	case store.LoadoutLooting:
		targetCount = int(3 * e.cfg.LootingItemCountMultiplier)
	}

	var items []Item
	for _, enc := range encounters {
		for _, id := range enc.Participants {
			if id == userID {
				items = append(items, enc.Items...)
				break
			}
		}
	}

	weights := tierWeights{common: 0.6, rare: 0.3, high: 0.1}
	if loadout == store.LoadoutPVP {
		weights = tierWeights{common: 0.3, rare: 0.4, high: 0.3}
	}

	// An empty tier bucket yields no item for that roll, so bound the
	// attempts to keep a degenerate loot table from spinning forever.
	maxAttempts := 4 * targetCount
	for attempts := 0; len(items) < targetCount && attempts < maxAttempts; attempts++ {
		tier := e.rollTier(weights)
		if item, ok := e.pickByTier(e.allItems, tier); ok {
			items = append(items, item)
		}
	}

	multiplier := e.cfg.PVEValueMultiplier
	switch loadout {
	case store.LoadoutPVP:
		multiplier = e.cfg.PVPValueMultiplier
	case store.LoadoutLooting:
		multiplier = e.cfg.LootingValueMultiplier
	case store.LoadoutFree:
		multiplier = e.cfg.FreeValueMultiplier
	}

	adjusted := make([]store.InventoryItem, 0, len(items))
	for _, item := range items {
		adjusted = append(adjusted, item.InventoryItem(int(float64(item.SellValue)*multiplier)))
	}

	sort.SliceStable(adjusted, func(i, j int) bool {
		return adjusted[i].SellValue > adjusted[j].SellValue
	})

	capped := make([]store.InventoryItem, 0, len(adjusted))
	total := 0
	for _, item := range adjusted {
		if len(capped) >= e.cfg.MaxItemsPerRaid {
			break
		}
		if total+item.SellValue > e.cfg.MaxValuePerRaid {
			break
		}
		capped = append(capped, item)
		total += item.SellValue
	}
	return capped
}

type tierWeights struct {
	common, rare, high float64
}

func (e *Engine) rollTier(w tierWeights) string {
	r := e.rng.Float64()
	if r < w.common {
		return TierCommon
	}
	if r < w.common+w.rare {
		return TierRare
	}
	return TierHigh
}

// pickByTier draws one item of the given tier, consuming a random draw
// only when the tier has candidates.
func (e *Engine) pickByTier(pool []Item, tier string) (Item, bool) {
	var candidates []Item
	for _, item := range pool {
		if item.Tier == tier {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return Item{}, false
	}
	return candidates[int(e.rng.Float64()*float64(len(candidates)))], true
}

func (e *Engine) rollEncounters(participants []store.Participant, maxEncounters int) []Encounter {
	count := int(e.rng.Float64() * float64(maxEncounters+1))
	encounters := make([]Encounter, 0, count)

	for i := 0; i < count; i++ {
		variant := e.variants[int(e.rng.Float64()*float64(len(e.variants)))]

		involved := int(e.rng.Float64()*3) + 1
		if involved > len(participants) {
			involved = len(participants)
		}
		shuffled := e.shuffle(participants)
		ids := make([]int64, 0, involved)
		for _, p := range shuffled[:involved] {
			ids = append(ids, p.UserID)
		}

		itemCount := int(e.rng.Float64()*2) + 1
		var items []Item
		for j := 0; j < itemCount; j++ {
			tier := e.rollTier(tierWeights{common: 0.5, rare: 0.4, high: 0.1})
			if item, ok := e.pickByTier(e.arcItems, tier); ok {
				items = append(items, item)
			}
		}

		encounters = append(encounters, Encounter{
			Variant:      variant,
			Participants: ids,
			Items:        items,
		})
	}
	return encounters
}

// rollCoopEvents pairs non-PVP raiders. The count is drawn before the
// eligibility check so seeded sequences stay aligned across rosters.
func (e *Engine) rollCoopEvents(participants []store.Participant) []CoopEvent {
	count := int(e.rng.Float64() * 4)
	if count > 3 {
		count = 3
	}

	var eligible []store.Participant
	for _, p := range participants {
		if p.Loadout != store.LoadoutPVP {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) < 2 {
		return nil
	}

	events := make([]CoopEvent, 0, count)
	for i := 0; i < count; i++ {
		shuffled := e.shuffle(eligible)
		a, b := shuffled[0], shuffled[1]
		kind := coopKinds[int(e.rng.Float64()*float64(len(coopKinds)))]
		events = append(events, CoopEvent{
			Kind:  kind,
			UserA: a.UserID,
			UserB: b.UserID,
			NameA: a.Name(),
			NameB: b.Name(),
		})
	}
	return events
}

// attributeKills credits deaths to extracted PVP raiders, at most
// MaxKillMessages per raid. Deaths are visited in roster order.
func (e *Engine) attributeKills(participants []store.Participant, results []ParticipantResult, extractedPVP []int64) []KillAttribution {
	var attributions []KillAttribution
	for _, r := range results {
		if r.Extracted {
			continue
		}
		if len(attributions) >= e.cfg.MaxKillMessages {
			break
		}
		if len(extractedPVP) == 0 {
			continue
		}
		if e.rng.Float64() >= e.cfg.KillAttributionChance {
			continue
		}
		killerID := extractedPVP[int(e.rng.Float64()*float64(len(extractedPVP)))]
		attributions = append(attributions, KillAttribution{
			KillerID:   killerID,
			VictimID:   r.UserID,
			KillerName: nameOf(participants, killerID),
			VictimName: r.Name,
		})
	}
	return attributions
}

// shuffle returns a Fisher-Yates shuffled copy.
func (e *Engine) shuffle(participants []store.Participant) []store.Participant {
	out := make([]store.Participant, len(participants))
	copy(out, participants)
	for i := len(out) - 1; i > 0; i-- {
		j := int(e.rng.Float64() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// bestHaul returns the richest extracted raider, first wins ties. A raid
// with no extracts reports an empty haul.
func bestHaul(results []ParticipantResult) Haul {
	best := Haul{Name: "None"}
	found := false
	for _, r := range results {
		if !r.Extracted {
			continue
		}
		if !found || r.TotalValue > best.Value {
			best = Haul{UserID: r.UserID, Name: r.Name, Value: r.TotalValue}
			found = true
		}
	}
	return best
}

func nameOf(participants []store.Participant, userID int64) string {
	for i := range participants {
		if participants[i].UserID == userID {
			return participants[i].Name()
		}
	}
	return "Unknown"
}
