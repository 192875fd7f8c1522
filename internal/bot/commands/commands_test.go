package commands

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
	"github.com/jensholdgaard/twitch-raid-bot/internal/dispatch"
	"github.com/jensholdgaard/twitch-raid-bot/internal/game"
	"github.com/jensholdgaard/twitch-raid-bot/internal/rng"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store/storetest"
)

type chatRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (c *chatRecorder) send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *chatRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *chatRecorder) waitForContaining(t *testing.T, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range c.snapshot() {
			if strings.Contains(m, substr) {
				return m
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no message containing %q, got %v", substr, c.snapshot())
	return ""
}

func (c *chatRecorder) assertSilence(t *testing.T) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	if msgs := c.snapshot(); len(msgs) != 0 {
		t.Fatalf("expected no messages, got %v", msgs)
	}
}

type fixture struct {
	handlers *Handlers
	sched    *game.Scheduler
	repos    *store.Repositories
	clock    *clock.Mock
	chat     *chatRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := storetest.NewRepositories(storetest.TitleLadder())
	mockClock := clock.NewMock(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	chat := &chatRecorder{}
	cfg := config.Default()

	queue := dispatch.New(config.RateLimitConfig{
		WindowMessages: 100,
		Window:         time.Second,
		MinSpacing:     time.Millisecond,
	}, chat.send, slog.Default(), clock.Real{})

	tp := noop.NewTracerProvider()
	engine := game.NewEngine(cfg.Game, rng.NewSeeded(99))
	sched := game.NewScheduler(repos, engine, queue, cfg.Game, rng.NewSeeded(7), slog.Default(), tp, mockClock)
	t.Cleanup(sched.Stop)

	econ := game.NewEconomy(repos.Users, repos.Inventory, slog.Default(), tp)
	cashin := game.NewCashin(repos.Users, repos.Redemptions, econ, cfg.Cashin, true, slog.Default(), tp, mockClock)
	titles := game.NewTitles(repos.Users, repos.Titles, econ, slog.Default(), tp)
	vendetta := game.NewVendetta(repos.Users, repos.Kills, slog.Default(), tp)

	handlers := NewHandlers(repos, sched, econ, cashin, titles, vendetta, queue, "streamer", slog.Default(), tp)
	return &fixture{handlers: handlers, sched: sched, repos: repos, clock: mockClock, chat: chat}
}

func (f *fixture) handle(username, message string) {
	f.handlers.Handle(context.Background(), username, message)
}

func (f *fixture) createUser(t *testing.T, name string, credits int) *store.User {
	t.Helper()
	u := &store.User{TwitchName: name, Callsign: name}
	if err := f.repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	if credits > 0 {
		if err := f.repos.Users.UpdateCredits(context.Background(), u.ID, credits, credits, 0); err != nil {
			t.Fatalf("UpdateCredits: %v", err)
		}
	}
	return u
}

func (f *fixture) openRaid(t *testing.T) {
	t.Helper()
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.chat.waitForContaining(t, "RAID #1 STARTING", time.Second)
}

func TestHandle_IgnoresChatter(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "viewer", 0)

	f.handle("viewer", "hello everyone")
	f.handle("viewer", "!nosuchcommand")
	f.handle("viewer", "!")
	f.chat.assertSilence(t)
}

func TestHandle_UnregisteredUserIsPrompted(t *testing.T) {
	f := newFixture(t)

	f.handle("stranger", "!profile")
	f.chat.waitForContaining(t, "You need to create a character first", time.Second)
}

func TestHandle_BannedUserIsIgnored(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "troll", 1000)
	if err := f.repos.Users.SetBanned(context.Background(), u.ID, true); err != nil {
		t.Fatalf("SetBanned: %v", err)
	}

	f.handle("troll", "!profile")
	f.handle("troll", "!sell")
	f.chat.assertSilence(t)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	f.handle("newbie", "!create Maverick")
	f.chat.waitForContaining(t, "Character created! Callsign: Maverick", time.Second)

	u, err := f.repos.Users.GetByTwitchName(context.Background(), "newbie")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if u.Callsign != "Maverick" {
		t.Errorf("callsign = %q, want Maverick", u.Callsign)
	}
	if u.ActiveTitleID == nil || *u.ActiveTitleID != 1 {
		t.Errorf("active title = %v, want the starter rung", u.ActiveTitleID)
	}

	// A second create is refused.
	f.handle("newbie", "!create SecondTry")
	f.chat.waitForContaining(t, "already have a character", time.Second)
}

func TestCreate_RejectsShortCallsign(t *testing.T) {
	f := newFixture(t)

	f.handle("newbie", "!create x")
	f.chat.waitForContaining(t, "Usage: !create", time.Second)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "veteran", 500)
	raids, extracts := 10, 4
	if err := f.repos.Users.UpdateStats(context.Background(), u.ID, store.UserStatsUpdate{
		RaidsPlayed: &raids,
		Extracts:    &extracts,
	}); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	if err := f.repos.Inventory.Add(context.Background(), u.ID, store.InventoryItem{
		ItemID: "wpn_rattler", ItemName: "Rattler", SellValue: 120,
	}, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.handle("veteran", "!profile")
	line := f.chat.waitForContaining(t, "Raids: 10", time.Second)
	if !strings.Contains(line, "Rate: 40.0%") {
		t.Errorf("profile line missing extract rate: %q", line)
	}
	if !strings.Contains(line, "Cred: 500") {
		t.Errorf("profile line missing credits: %q", line)
	}
	f.chat.waitForContaining(t, "Items: Rattler (2)", time.Second)
}

func TestProfile_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "viewer", 0)

	f.handle("viewer", "!profile @ghost")
	f.chat.waitForContaining(t, "User not found.", time.Second)
}

func TestJoin_NoRaidOpen(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "eager", 0)

	f.handle("eager", "!join")
	f.chat.waitForContaining(t, "No raid is currently open.", time.Second)
}

func TestJoin_FirstTimeGetsFreeLoadout(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "rookie", 0)
	f.openRaid(t)

	f.handle("rookie", "!join")
	f.chat.waitForContaining(t, "Joined raid! Loadout: FREE", time.Second)

	got, _ := f.repos.Users.GetByID(context.Background(), u.ID)
	if !got.HasUsedFreeLoadout {
		t.Error("free loadout not marked as used")
	}

	// Rejoining keeps the existing loadout rather than downgrading.
	f.handle("rookie", "!join")
	f.chat.waitForContaining(t, "Joined raid! Loadout: FREE", time.Second)
}

func TestJoin_DefaultsToLootingAfterFreeRun(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "regular", 0)
	used := true
	if err := f.repos.Users.UpdateStats(context.Background(), u.ID, store.UserStatsUpdate{
		HasUsedFreeLoadout: &used,
	}); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	f.openRaid(t)

	f.handle("regular", "!join")
	f.chat.waitForContaining(t, "Joined raid! Loadout: LOOTING", time.Second)
}

func TestLoadout(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "tactician", 0)

	// Before any raid opens the choice applies to the next one.
	f.handle("tactician", "!loadout pvp")
	f.chat.waitForContaining(t, "Loadout set to PVP for next raid.", time.Second)

	f.openRaid(t)

	f.handle("tactician", "!loadout pvp")
	f.chat.waitForContaining(t, "Joined raid with PVP loadout!", time.Second)

	f.handle("tactician", "!loadout pve")
	f.chat.waitForContaining(t, "Loadout changed to PVE for current raid.", time.Second)

	f.handle("tactician", "!loadout jetpack")
	f.chat.waitForContaining(t, "Usage: !loadout", time.Second)

	// Past the lock deadline changes are refused.
	f.clock.Advance(6*time.Minute + time.Second)
	f.handle("tactician", "!loadout looting")
	f.chat.waitForContaining(t, "Loadouts are locked!", time.Second)
}

func TestSell(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "trader", 0)

	f.handle("trader", "!sell")
	f.chat.waitForContaining(t, "No items to sell.", time.Second)

	if err := f.repos.Inventory.Add(context.Background(), u.ID, store.InventoryItem{
		ItemID: "arc_scrap", ItemName: "Scrap Bundle", SellValue: 60,
	}, 3); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.handle("trader", "!sell")
	f.chat.waitForContaining(t, "sold 3 items for 180 Cred.", time.Second)

	got, _ := f.repos.Users.GetByID(context.Background(), u.ID)
	if got.Credits != 180 {
		t.Errorf("credits = %d, want 180", got.Credits)
	}
}

func TestCashin(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "rich", 10000)
	f.createUser(t, "poor", 10)

	f.handle("rich", "!cashin")
	f.chat.waitForContaining(t, "Usage: !cashin", time.Second)

	f.handle("poor", "!cashin ping")
	f.chat.waitForContaining(t, "Insufficient credits.", time.Second)

	f.handle("rich", "!cashin jetpack")
	f.chat.waitForContaining(t, "Unknown cash-in option.", time.Second)

	// Ping announces immediately.
	f.handle("rich", "!cashin ping")
	f.chat.waitForContaining(t, "sent a ping!", time.Second)

	// Approval-gated options page the broadcaster instead.
	f.handle("rich", "!cashin instigate")
	f.chat.waitForContaining(t, "@streamer rich requested", time.Second)
}

func TestTitles(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "collector", 5000)

	f.handle("collector", "!titles")
	line := f.chat.waitForContaining(t, "Titles:", time.Second)
	if !strings.Contains(line, "○ Rookie I") {
		t.Errorf("unowned rung not marked: %q", line)
	}
	if !strings.Contains(line, "Next: Rookie I (0 Cred)") {
		t.Errorf("next rung missing: %q", line)
	}

	f.handle("collector", "!buytitle")
	f.chat.waitForContaining(t, "Purchased Rookie I!", time.Second)

	f.handle("collector", "!settitle rookie i")
	f.chat.waitForContaining(t, "Active title set to Rookie I", time.Second)

	f.handle("collector", "!settitle Hotshot")
	f.chat.waitForContaining(t, "You do not own this title.", time.Second)
}

func TestVendetta(t *testing.T) {
	f := newFixture(t)
	a := f.createUser(t, "hunter", 0)
	b := f.createUser(t, "prey", 0)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := f.repos.Kills.Record(ctx, a.ID, b.ID, 1); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	kills := 2
	if err := f.repos.Users.UpdateStats(ctx, a.ID, store.UserStatsUpdate{KillsCredited: &kills}); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}

	f.handle("hunter", "!vendetta")
	line := f.chat.waitForContaining(t, "Vendetta: 2K / 0D", time.Second)
	if !strings.Contains(line, "Top Victim: prey (2)") {
		t.Errorf("vendetta line missing top victim: %q", line)
	}

	f.handle("hunter", "!vendetta @prey")
	f.chat.waitForContaining(t, "hunter 2 - 0 prey", time.Second)
}

func TestRedemptionWorkflow(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "streamer", 0)
	u := f.createUser(t, "fan", 5000)
	ctx := context.Background()

	f.handle("fan", "!cashin shoot")
	f.chat.waitForContaining(t, "@streamer fan requested", time.Second)

	pending, err := f.repos.Redemptions.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = (%v, %v), want one redemption", pending, err)
	}
	id := pending[0].ID

	// Only the broadcaster can work the queue.
	f.handle("fan", "!approve 1")
	f.handle("streamer", "!redemptions")
	f.chat.waitForContaining(t, "Pending: #1 fan", time.Second)

	f.handle("streamer", "!approve 1")
	f.chat.waitForContaining(t, "✅ Redemption #1 approved for fan.", time.Second)

	red, err := f.repos.Redemptions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if red.Status != "APPROVED" {
		t.Errorf("status = %q, want APPROVED", red.Status)
	}

	f.handle("streamer", "!complete 1")
	f.chat.waitForContaining(t, "✅ Redemption #1 marked complete for fan.", time.Second)

	// Deny on a settled redemption is refused.
	f.handle("streamer", "!deny 1")
	f.chat.waitForContaining(t, "Redemption not found or already processed.", time.Second)

	got, _ := f.repos.Users.GetByID(ctx, u.ID)
	if got.Credits != 4500 {
		t.Errorf("credits = %d, want the completed charge kept", got.Credits)
	}
}

func TestDenyRefunds(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "streamer", 0)
	u := f.createUser(t, "fan", 5000)

	f.handle("fan", "!cashin shoot")
	f.chat.waitForContaining(t, "@streamer fan requested", time.Second)

	f.handle("streamer", "!deny 1")
	f.chat.waitForContaining(t, "❌ Redemption #1 denied. 500 Cred refunded to fan.", time.Second)

	got, _ := f.repos.Users.GetByID(context.Background(), u.ID)
	if got.Credits != 5000 {
		t.Errorf("credits = %d, want full refund", got.Credits)
	}
}
