// Package storetest provides in-memory repository implementations for
// tests that exercise the game managers without a database.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// TitleLadder is a short four-rung ladder for tests.
func TitleLadder() []store.Title {
	return []store.Title{
		{ID: 1, Name: "Rookie I", Tier: "Rookie", Rank: 1, Cost: 0, DisplayOrder: 1},
		{ID: 2, Name: "Rookie II", Tier: "Rookie", Rank: 2, Cost: 2500, DisplayOrder: 2},
		{ID: 3, Name: "Tryhard I", Tier: "Tryhard", Rank: 1, Cost: 10000, DisplayOrder: 3},
		{ID: 4, Name: "Hotshot", Tier: "Hotshot", Rank: 0, Cost: 150000, DisplayOrder: 4},
	}
}

// NewRepositories builds a fully wired in-memory repository set seeded
// with the given title ladder.
func NewRepositories(titles []store.Title) *store.Repositories {
	users := newMemUsers()
	return &store.Repositories{
		Users:       users,
		Raids:       newMemRaids(users),
		Inventory:   newMemInventory(),
		Kills:       newMemKills(users),
		Maps:        newMemMaps(),
		Redemptions: newMemRedemptions(users),
		Titles:      newMemTitles(titles),
	}
}

type memUsers struct {
	mu     sync.Mutex
	byID   map[int64]*store.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int64]*store.User)}
}

func (m *memUsers) Create(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.TwitchName == u.TwitchName {
			return fmt.Errorf("user %q already exists", u.TwitchName)
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByTwitchName(_ context.Context, name string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.TwitchName == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q not found", name)
}

func (m *memUsers) UpdateCredits(_ context.Context, id int64, credits, earned, spent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	u.Credits, u.LifetimeEarned, u.LifetimeSpent = credits, earned, spent
	return nil
}

func (m *memUsers) UpdateStats(_ context.Context, id int64, stats store.UserStatsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	if stats.RaidsPlayed != nil {
		u.RaidsPlayed = *stats.RaidsPlayed
	}
	if stats.Extracts != nil {
		u.Extracts = *stats.Extracts
	}
	if stats.Deaths != nil {
		u.Deaths = *stats.Deaths
	}
	if stats.PingCount != nil {
		u.PingCount = *stats.PingCount
	}
	if stats.KillsCredited != nil {
		u.KillsCredited = *stats.KillsCredited
	}
	if stats.DeathsAttributed != nil {
		u.DeathsAttributed = *stats.DeathsAttributed
	}
	if stats.HasUsedFreeLoadout != nil {
		u.HasUsedFreeLoadout = *stats.HasUsedFreeLoadout
	}
	if stats.HasFirstExtractReward != nil {
		u.HasFirstExtractReward = *stats.HasFirstExtractReward
	}
	return nil
}

func (m *memUsers) SetActiveTitle(_ context.Context, id int64, titleID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	u.ActiveTitleID = titleID
	return nil
}

func (m *memUsers) SetBanned(_ context.Context, id int64, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	u.Banned = banned
	return nil
}

type memRaids struct {
	mu           sync.Mutex
	users        *memUsers
	raids        map[int64]*store.Raid
	participants map[int64][]*store.Participant
	nextID       int64
}

func newMemRaids(users *memUsers) *memRaids {
	return &memRaids{
		users:        users,
		raids:        make(map[int64]*store.Raid),
		participants: make(map[int64][]*store.Participant),
	}
}

func (m *memRaids) Create(_ context.Context, mapName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.raids[m.nextID] = &store.Raid{
		ID:        m.nextID,
		MapName:   mapName,
		State:     store.RaidStateOpen,
		StartedAt: time.Now(),
	}
	return m.nextID, nil
}

func (m *memRaids) CurrentOpen(_ context.Context) (*store.Raid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.raids {
		if r.State == store.RaidStateOpen {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRaids) UpdateState(_ context.Context, id int64, state string, endedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raids[id]
	if !ok {
		return fmt.Errorf("raid %d not found", id)
	}
	r.State = state
	if endedAt != nil {
		r.EndedAt = endedAt
	}
	return nil
}

func (m *memRaids) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raids), nil
}

func (m *memRaids) UpsertParticipant(_ context.Context, raidID, userID int64, loadout store.Loadout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants[raidID] {
		if p.UserID == userID {
			p.Loadout = loadout
			return nil
		}
	}
	m.participants[raidID] = append(m.participants[raidID], &store.Participant{
		RaidID:  raidID,
		UserID:  userID,
		Loadout: loadout,
	})
	return nil
}

func (m *memRaids) UpdateParticipant(_ context.Context, raidID, userID int64, extracted bool, creditsGained int, itemsJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants[raidID] {
		if p.UserID == userID {
			p.Extracted = extracted
			p.CreditsGained = creditsGained
			p.ItemsJSON = itemsJSON
			return nil
		}
	}
	return fmt.Errorf("participant (raid=%d, user=%d) not found", raidID, userID)
}

func (m *memRaids) Participants(_ context.Context, raidID int64) ([]store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Participant, 0, len(m.participants[raidID]))
	for _, p := range m.participants[raidID] {
		cp := *p
		if u, err := m.users.GetByID(context.Background(), p.UserID); err == nil {
			cp.TwitchName = u.TwitchName
			cp.Callsign = u.Callsign
		}
		out = append(out, cp)
	}
	return out, nil
}

type memInventory struct {
	mu    sync.Mutex
	items map[int64][]store.InventoryItem
}

func newMemInventory() *memInventory {
	return &memInventory{items: make(map[int64][]store.InventoryItem)}
}

func (m *memInventory) Add(_ context.Context, userID int64, item store.InventoryItem, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items[userID] {
		if m.items[userID][i].ItemID == item.ItemID {
			m.items[userID][i].Quantity += quantity
			return nil
		}
	}
	item.UserID = userID
	item.Quantity = quantity
	m.items[userID] = append(m.items[userID], item)
	return nil
}

func (m *memInventory) List(_ context.Context, userID int64) ([]store.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.InventoryItem, 0, len(m.items[userID]))
	for _, it := range m.items[userID] {
		if it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memInventory) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, userID)
	return nil
}

type memKills struct {
	mu     sync.Mutex
	users  *memUsers
	events []store.KillEvent
	tally  map[[2]int64]int
}

func newMemKills(users *memUsers) *memKills {
	return &memKills{users: users, tally: make(map[[2]int64]int)}
}

func (m *memKills) Record(_ context.Context, killerID, victimID, raidID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tally[[2]int64{killerID, victimID}]++
	m.events = append(m.events, store.KillEvent{
		ID:        int64(len(m.events) + 1),
		RaidID:    raidID,
		KillerID:  killerID,
		VictimID:  victimID,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memKills) Kills(_ context.Context, killerID int64) ([]store.KillTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.KillTally
	for pair, count := range m.tally {
		if pair[0] != killerID {
			continue
		}
		t := store.KillTally{UserID: pair[1], Count: count}
		if u, err := m.users.GetByID(context.Background(), pair[1]); err == nil {
			t.TwitchName, t.Callsign = u.TwitchName, u.Callsign
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memKills) Deaths(_ context.Context, victimID int64) ([]store.KillTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.KillTally
	for pair, count := range m.tally {
		if pair[1] != victimID {
			continue
		}
		t := store.KillTally{UserID: pair[0], Count: count}
		if u, err := m.users.GetByID(context.Background(), pair[0]); err == nil {
			t.TwitchName, t.Callsign = u.TwitchName, u.Callsign
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memKills) HeadToHead(_ context.Context, userA, userB int64) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tally[[2]int64{userA, userB}], m.tally[[2]int64{userB, userA}], nil
}

func (m *memKills) RecentFeed(_ context.Context, userID int64, limit int) ([]store.KillEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.KillEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		if ev.KillerID != userID && ev.VictimID != userID {
			continue
		}
		if u, err := m.users.GetByID(context.Background(), ev.KillerID); err == nil {
			ev.KillerName = u.Name()
		}
		if u, err := m.users.GetByID(context.Background(), ev.VictimID); err == nil {
			ev.VictimName = u.Name()
		}
		out = append(out, ev)
	}
	return out, nil
}

type memMaps struct {
	mu   sync.Mutex
	mods map[string]store.MapModifier
}

func newMemMaps() *memMaps {
	return &memMaps{mods: make(map[string]store.MapModifier)}
}

func (m *memMaps) Get(_ context.Context, name string) (*store.MapModifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.mods[name]
	if !ok {
		return nil, nil
	}
	return &mod, nil
}

func (m *memMaps) Upsert(_ context.Context, mod store.MapModifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mods[mod.Name] = mod
	return nil
}

func (m *memMaps) List(_ context.Context) ([]store.MapModifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.MapModifier, 0, len(m.mods))
	for _, mod := range m.mods {
		out = append(out, mod)
	}
	return out, nil
}

type memRedemptions struct {
	mu     sync.Mutex
	users  *memUsers
	byID   map[int64]*store.Redemption
	nextID int64
}

func newMemRedemptions(users *memUsers) *memRedemptions {
	return &memRedemptions{users: users, byID: make(map[int64]*store.Redemption)}
}

func (m *memRedemptions) Create(_ context.Context, userID int64, redemptionType string, cost int, customText *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.byID[m.nextID] = &store.Redemption{
		ID:         m.nextID,
		UserID:     userID,
		Type:       redemptionType,
		Cost:       cost,
		Status:     "PENDING",
		CustomText: customText,
		CreatedAt:  time.Now(),
	}
	return m.nextID, nil
}

func (m *memRedemptions) Get(_ context.Context, id int64) (*store.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("redemption %d not found", id)
	}
	cp := *r
	if u, err := m.users.GetByID(context.Background(), r.UserID); err == nil {
		cp.TwitchName, cp.Callsign = u.TwitchName, u.Callsign
	}
	return &cp, nil
}

func (m *memRedemptions) ListPending(_ context.Context) ([]store.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Redemption
	for id := int64(1); id <= m.nextID; id++ {
		r, ok := m.byID[id]
		if !ok || r.Status != "PENDING" {
			continue
		}
		cp := *r
		if u, err := m.users.GetByID(context.Background(), r.UserID); err == nil {
			cp.TwitchName, cp.Callsign = u.TwitchName, u.Callsign
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *memRedemptions) transition(id int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok || r.Status != from {
		return fmt.Errorf("redemption %d is not %s", id, from)
	}
	r.Status = to
	return nil
}

func (m *memRedemptions) Approve(_ context.Context, id int64, approvedBy string) error {
	if err := m.transition(id, "PENDING", "APPROVED"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.byID[id].ApprovedBy = &approvedBy
	m.byID[id].ApprovedAt = &now
	return nil
}

func (m *memRedemptions) Deny(_ context.Context, id int64) error {
	return m.transition(id, "PENDING", "DENIED")
}

func (m *memRedemptions) Complete(_ context.Context, id int64) error {
	return m.transition(id, "APPROVED", "COMPLETED")
}

type memTitles struct {
	mu    sync.Mutex
	all   []store.Title
	owned map[int64][]int64
}

func newMemTitles(titles []store.Title) *memTitles {
	return &memTitles{all: titles, owned: make(map[int64][]int64)}
}

func (m *memTitles) GetByID(_ context.Context, id int64) (*store.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.all {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("title %d not found", id)
}

func (m *memTitles) List(_ context.Context) ([]store.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Title, len(m.all))
	copy(out, m.all)
	return out, nil
}

func (m *memTitles) Owned(_ context.Context, userID int64) ([]store.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Title
	for _, id := range m.owned[userID] {
		for _, t := range m.all {
			if t.ID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (m *memTitles) Grant(_ context.Context, userID, titleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.owned[userID] {
		if id == titleID {
			return nil
		}
	}
	m.owned[userID] = append(m.owned[userID], titleID)
	return nil
}
