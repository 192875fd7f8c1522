package game

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
	"github.com/jensholdgaard/twitch-raid-bot/internal/rng"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
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

type schedulerFixture struct {
	sched *Scheduler
	repos *store.Repositories
	clock *clock.Mock
	chat  *chatRecorder
}

func newSchedulerFixture(t *testing.T, cfg config.GameConfig) *schedulerFixture {
	t.Helper()
	repos := newMemRepos()
	mockClock := clock.NewMock(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	chat := &chatRecorder{}

	// The dispatcher runs on the real clock with tight limits so timed
	// assertions stay fast.
	queue := dispatch.New(config.RateLimitConfig{
		WindowMessages: 100,
		Window:         time.Second,
		MinSpacing:     time.Millisecond,
	}, chat.send, slog.Default(), clock.Real{})

	engine := NewEngine(cfg, rng.NewSeeded(99))
	sched := NewScheduler(repos, engine, queue, cfg, rng.NewSeeded(7), slog.Default(), noop.NewTracerProvider(), mockClock)
	t.Cleanup(sched.Stop)

	return &schedulerFixture{sched: sched, repos: repos, clock: mockClock, chat: chat}
}

func (f *schedulerFixture) addRaider(t *testing.T, name string, loadout store.Loadout) int64 {
	t.Helper()
	u := &store.User{TwitchName: name}
	if err := f.repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating raider %s: %v", name, err)
	}
	raidID := f.sched.CurrentRaid()
	if raidID == 0 {
		t.Fatal("no open raid to join")
	}
	if err := f.repos.Raids.UpsertParticipant(context.Background(), raidID, u.ID, loadout); err != nil {
		t.Fatalf("joining raid: %v", err)
	}
	return u.ID
}

func TestScheduler_StartOpensRaidImmediately(t *testing.T) {
	f := newSchedulerFixture(t, config.Default().Game)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := f.sched.State(); got != StateOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}
	if f.sched.CurrentRaid() == 0 {
		t.Fatal("no current raid after Start")
	}
	if !f.sched.CanJoin() {
		t.Error("CanJoin = false right after opening")
	}
	if !f.sched.CanChangeLoadout() {
		t.Error("CanChangeLoadout = false right after opening")
	}

	raid, err := f.repos.Raids.CurrentOpen(context.Background())
	if err != nil || raid == nil {
		t.Fatalf("CurrentOpen = (%v, %v), want an open raid", raid, err)
	}

	f.chat.waitForContaining(t, "RAID #1 STARTING", time.Second)

	// The map cache is seeded for the whole rotation.
	mods, err := f.repos.Maps.List(context.Background())
	if err != nil {
		t.Fatalf("listing maps: %v", err)
	}
	if len(mods) != len(Maps) {
		t.Errorf("map cache has %d rows, want %d", len(mods), len(Maps))
	}
}

func TestScheduler_ResolvesAndReturnsToIdle(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	alphaID := f.addRaider(t, "alpha", store.LoadoutLooting)
	f.addRaider(t, "bravo", store.LoadoutPVP)
	raidID := f.sched.CurrentRaid()

	f.clock.Advance(cfg.RaidDuration)

	if got := f.sched.State(); got != StateIdle {
		t.Fatalf("state after duration = %v, want IDLE", got)
	}
	if f.sched.CanJoin() {
		t.Error("CanJoin = true after resolution")
	}

	raid, err := f.repos.Raids.CurrentOpen(context.Background())
	if err != nil {
		t.Fatalf("CurrentOpen: %v", err)
	}
	if raid != nil {
		t.Fatalf("raid %d still open after resolution", raid.ID)
	}

	// Participant rows carry the outcome and user stats moved.
	parts, err := f.repos.Raids.Participants(context.Background(), raidID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d participants, want 2", len(parts))
	}
	alpha, err := f.repos.Users.GetByID(context.Background(), alphaID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if alpha.RaidsPlayed != 1 {
		t.Errorf("RaidsPlayed = %d, want 1", alpha.RaidsPlayed)
	}
	if alpha.Extracts+alpha.Deaths != 1 {
		t.Errorf("extracts+deaths = %d, want 1", alpha.Extracts+alpha.Deaths)
	}

	f.chat.waitForContaining(t, "RAID COMPLETE: 2 raiders", time.Second)
}

func TestScheduler_WarningsFire(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First warning lands at duration minus the largest offset.
	f.clock.Advance(cfg.RaidDuration - 3*time.Minute)
	f.chat.waitForContaining(t, "3 minutes remaining", time.Second)

	// The lock heads-up fires 10 seconds before the lock deadline, which
	// sits one minute before raid end.
	f.clock.Advance(time.Minute + 50*time.Second)
	f.chat.waitForContaining(t, "Loadouts lock in 10 seconds", time.Second)
}

func TestScheduler_LoadoutLockDeadline(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Just before the lock deadline changes are allowed.
	f.clock.Advance(cfg.RaidDuration - cfg.LoadoutLock - time.Second)
	if !f.sched.CanChangeLoadout() {
		t.Error("CanChangeLoadout = false before the lock deadline")
	}
	if !f.sched.CanJoin() {
		t.Error("CanJoin = false before raid end")
	}

	// Past the deadline, joins stay open but loadouts freeze.
	f.clock.Advance(2 * time.Second)
	if f.sched.CanChangeLoadout() {
		t.Error("CanChangeLoadout = true past the lock deadline")
	}
	if !f.sched.CanJoin() {
		t.Error("CanJoin = false while the raid is still open")
	}
}

func TestScheduler_TickWhileOpenIsSkipped(t *testing.T) {
	cfg := config.Default().Game
	// Interval shorter than the duration forces a tick mid-raid.
	cfg.RaidInterval = 2 * time.Minute
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := f.sched.CurrentRaid()

	f.clock.Advance(cfg.RaidInterval)

	if got := f.sched.CurrentRaid(); got != first {
		t.Errorf("current raid changed from %d to %d on a mid-raid tick", first, got)
	}
	n, err := f.repos.Raids.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("raid count = %d, want 1: a tick during OPEN must not open another raid", n)
	}
}

func TestScheduler_NextCycleOpensAfterResolution(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := f.sched.CurrentRaid()

	// Resolve the first raid, then reach the next interval tick.
	f.clock.Advance(cfg.RaidDuration)
	f.clock.Advance(cfg.RaidInterval - cfg.RaidDuration)

	if got := f.sched.State(); got != StateOpen {
		t.Fatalf("state after next tick = %v, want OPEN", got)
	}
	if got := f.sched.CurrentRaid(); got == first || got == 0 {
		t.Errorf("current raid = %d, want a fresh raid after %d", got, first)
	}
}

func TestScheduler_StopCancelsTimers(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sched.Stop()

	f.clock.Advance(24 * time.Hour)

	// The open raid is left untouched and no new raids were opened.
	raid, err := f.repos.Raids.CurrentOpen(context.Background())
	if err != nil {
		t.Fatalf("CurrentOpen: %v", err)
	}
	if raid == nil {
		t.Fatal("open raid was resolved after Stop")
	}
	n, err := f.repos.Raids.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("raid count = %d after Stop, want 1", n)
	}
}

func TestScheduler_ResultAnnouncementsCapped(t *testing.T) {
	cfg := config.Default().Game
	f := newSchedulerFixture(t, cfg)

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		f.addRaider(t, name, store.LoadoutPVE)
	}

	before := len(f.chat.snapshot())
	f.clock.Advance(cfg.RaidDuration)
	f.chat.waitForContaining(t, "RAID COMPLETE", time.Second)

	// Warnings fired during the advance too, so count only what arrived
	// after them: at most the result cap plus the two warnings and the
	// lock heads-up.
	time.Sleep(50 * time.Millisecond)
	after := len(f.chat.snapshot())
	warnings := 3
	if after-before > maxResultLines+warnings {
		t.Errorf("announced %d lines, want at most %d", after-before-warnings, maxResultLines)
	}
}
