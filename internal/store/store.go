package store

import (
	"context"
	"time"
)

// Loadout is a participant's chosen risk/reward mode.
type Loadout string

// Valid loadouts.
const (
	LoadoutPVP     Loadout = "PVP"
	LoadoutPVE     Loadout = "PVE"
	LoadoutLooting Loadout = "LOOTING"
	LoadoutFree    Loadout = "FREE"
)

// RaidState is the lifecycle state of a raid row.
const (
	RaidStateIdle    = "IDLE"
	RaidStateOpen    = "OPEN"
	RaidStateResolve = "RESOLVE"
)

// User represents a registered chat viewer.
type User struct {
	ID                    int64     `db:"id"`
	TwitchName            string    `db:"twitch_name"`
	Callsign              string    `db:"callsign"`
	CreatedAt             time.Time `db:"created_at"`
	Credits               int       `db:"credits"`
	LifetimeEarned        int       `db:"lifetime_earned"`
	LifetimeSpent         int       `db:"lifetime_spent"`
	RaidsPlayed           int       `db:"raids_played"`
	Extracts              int       `db:"extracts"`
	Deaths                int       `db:"deaths"`
	HasUsedFreeLoadout    bool      `db:"has_used_free_loadout"`
	HasFirstExtractReward bool      `db:"has_first_extract_reward"`
	ActiveTitleID         *int64    `db:"active_title_id"`
	PingCount             int       `db:"ping_count"`
	KillsCredited         int       `db:"kills_credited"`
	DeathsAttributed      int       `db:"deaths_attributed"`
	Banned                bool      `db:"banned"`
}

// Name returns the display name: callsign if set, otherwise chat name.
func (u *User) Name() string {
	if u.Callsign != "" {
		return u.Callsign
	}
	return u.TwitchName
}

// Raid represents one activity instance. Rows are append-only history;
// exactly one raid is OPEN or RESOLVE at a time.
type Raid struct {
	ID        int64      `db:"id"`
	MapName   string     `db:"map_name"`
	State     string     `db:"state"`
	StartedAt time.Time  `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
}

// Participant is a (raid, user) pairing, joined with the user's names.
type Participant struct {
	RaidID        int64   `db:"raid_id"`
	UserID        int64   `db:"user_id"`
	Loadout       Loadout `db:"loadout"`
	Extracted     bool    `db:"extracted"`
	CreditsGained int     `db:"credits_gained"`
	ItemsJSON     string  `db:"items_json"`
	TwitchName    string  `db:"twitch_name"`
	Callsign      string  `db:"callsign"`
}

// Name returns the participant's display name.
func (p *Participant) Name() string {
	if p.Callsign != "" {
		return p.Callsign
	}
	return p.TwitchName
}

// InventoryItem is a stack of one item kind owned by a user.
type InventoryItem struct {
	ID        int64  `db:"id"`
	UserID    int64  `db:"user_id"`
	ItemID    string `db:"item_id"`
	ItemName  string `db:"item_name"`
	Category  string `db:"category"`
	Tier      string `db:"tier"`
	Quantity  int    `db:"quantity"`
	SellValue int    `db:"sell_value"`
}

// MapModifier is per-map cached tuning shared read-only by the engine.
type MapModifier struct {
	Name             string    `db:"name"`
	DifficultyScalar float64   `db:"difficulty_scalar"`
	EncounterBias    int       `db:"encounter_bias"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// DefaultMapModifier is used when a map has no cached row yet.
func DefaultMapModifier(name string) MapModifier {
	return MapModifier{Name: name, DifficultyScalar: 1.0, EncounterBias: 0}
}

// KillTally is one row of the pairwise kill ledger, joined with the
// opposing user's names.
type KillTally struct {
	UserID     int64  `db:"user_id"`
	Count      int    `db:"count"`
	TwitchName string `db:"twitch_name"`
	Callsign   string `db:"callsign"`
}

// Name returns the tallied user's display name.
func (k *KillTally) Name() string {
	if k.Callsign != "" {
		return k.Callsign
	}
	return k.TwitchName
}

// KillEvent is one historical kill attribution.
type KillEvent struct {
	ID         int64     `db:"id"`
	RaidID     int64     `db:"raid_id"`
	KillerID   int64     `db:"killer_id"`
	VictimID   int64     `db:"victim_id"`
	KillerName string    `db:"killer_name"`
	VictimName string    `db:"victim_name"`
	CreatedAt  time.Time `db:"created_at"`
}

// Redemption is a pending or settled cash-in awaiting workflow action.
type Redemption struct {
	ID          int64      `db:"id"`
	UserID      int64      `db:"user_id"`
	Type        string     `db:"type"`
	Cost        int        `db:"cost"`
	Status      string     `db:"status"`
	CustomText  *string    `db:"custom_text"`
	ApprovedBy  *string    `db:"approved_by"`
	CreatedAt   time.Time  `db:"created_at"`
	ApprovedAt  *time.Time `db:"approved_at"`
	CompletedAt *time.Time `db:"completed_at"`
	TwitchName  string     `db:"twitch_name"`
	Callsign    string     `db:"callsign"`
}

// Name returns the callsign when set, falling back to the Twitch name.
func (r *Redemption) Name() string {
	if r.Callsign != "" {
		return r.Callsign
	}
	return r.TwitchName
}

// Title is one rung of the purchasable title ladder.
type Title struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	Tier         string `db:"tier"`
	Rank         int    `db:"rank"`
	Cost         int    `db:"cost"`
	DisplayOrder int    `db:"display_order"`
}

// UserStatsUpdate carries optional stat mutations; nil fields are left
// untouched. Values are absolute, not deltas.
type UserStatsUpdate struct {
	RaidsPlayed           *int
	Extracts              *int
	Deaths                *int
	PingCount             *int
	KillsCredited         *int
	DeathsAttributed      *int
	HasUsedFreeLoadout    *bool
	HasFirstExtractReward *bool
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByTwitchName(ctx context.Context, name string) (*User, error)
	UpdateCredits(ctx context.Context, id int64, credits, lifetimeEarned, lifetimeSpent int) error
	UpdateStats(ctx context.Context, id int64, stats UserStatsUpdate) error
	SetActiveTitle(ctx context.Context, id int64, titleID *int64) error
	SetBanned(ctx context.Context, id int64, banned bool) error
}

// RaidRepository defines raid and participant persistence operations.
type RaidRepository interface {
	Create(ctx context.Context, mapName string) (int64, error)
	CurrentOpen(ctx context.Context) (*Raid, error)
	UpdateState(ctx context.Context, id int64, state string, endedAt *time.Time) error
	Count(ctx context.Context) (int, error)
	UpsertParticipant(ctx context.Context, raidID, userID int64, loadout Loadout) error
	UpdateParticipant(ctx context.Context, raidID, userID int64, extracted bool, creditsGained int, itemsJSON string) error
	Participants(ctx context.Context, raidID int64) ([]Participant, error)
}

// InventoryRepository defines inventory persistence operations.
type InventoryRepository interface {
	Add(ctx context.Context, userID int64, item InventoryItem, quantity int) error
	List(ctx context.Context, userID int64) ([]InventoryItem, error)
	Clear(ctx context.Context, userID int64) error
}

// KillRepository defines the pairwise kill ledger and history.
type KillRepository interface {
	Record(ctx context.Context, killerID, victimID, raidID int64) error
	Kills(ctx context.Context, killerID int64) ([]KillTally, error)
	Deaths(ctx context.Context, victimID int64) ([]KillTally, error)
	HeadToHead(ctx context.Context, userA, userB int64) (aKills, bKills int, err error)
	RecentFeed(ctx context.Context, userID int64, limit int) ([]KillEvent, error)
}

// MapRepository defines the per-map tuning cache.
type MapRepository interface {
	Get(ctx context.Context, name string) (*MapModifier, error)
	Upsert(ctx context.Context, m MapModifier) error
	List(ctx context.Context) ([]MapModifier, error)
}

// RedemptionRepository defines the cash-in approval workflow.
type RedemptionRepository interface {
	Create(ctx context.Context, userID int64, redemptionType string, cost int, customText *string) (int64, error)
	Get(ctx context.Context, id int64) (*Redemption, error)
	ListPending(ctx context.Context) ([]Redemption, error)
	Approve(ctx context.Context, id int64, approvedBy string) error
	Deny(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) error
}

// TitleRepository defines the title ladder.
type TitleRepository interface {
	GetByID(ctx context.Context, id int64) (*Title, error)
	List(ctx context.Context) ([]Title, error)
	Owned(ctx context.Context, userID int64) ([]Title, error)
	Grant(ctx context.Context, userID, titleID int64) error
}
