package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
	"github.com/jensholdgaard/twitch-raid-bot/internal/dispatch"
	"github.com/jensholdgaard/twitch-raid-bot/internal/rng"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// State is the scheduler's lifecycle phase.
type State string

// Lifecycle phases. Exactly one raid is OPEN or RESOLVE at a time.
const (
	StateIdle    State = "IDLE"
	StateOpen    State = "OPEN"
	StateResolve State = "RESOLVE"
)

// Announcement priorities. Raid starts outrank warnings, warnings
// outrank result lines.
const (
	priorityStart   = 10
	priorityWarning = 5
	priorityResult  = 3
)

// maxResultLines caps how much of a resolution gets announced.
const maxResultLines = 8

// ErrAlreadyStarted is returned by Start when the scheduler is running.
// Chat reconnects hit this path and treat it as a no-op.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler owns the raid lifecycle: it opens raids on a fixed cadence,
// fires join and lock warnings, and resolves each raid when its timer
// expires. All timers are cancellable handles so Stop leaves nothing
// pending.
type Scheduler struct {
	mu          sync.Mutex
	state       State
	currentRaid int64
	currentMap  string
	raidNumber  int
	raidStart   time.Time
	raidEnd     time.Time
	lockTime    time.Time
	// raidTimers are the warning and resolution timers of the open raid;
	// cycleTimer drives the repeating interval and outlives any one raid.
	raidTimers []clock.Timer
	cycleTimer clock.Timer
	ctx        context.Context
	cancel     context.CancelFunc

	repos  *store.Repositories
	engine *Engine
	queue  *dispatch.Queue
	cfg    config.GameConfig
	rng    rng.Source
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(repos *store.Repositories, engine *Engine, queue *dispatch.Queue, cfg config.GameConfig, src rng.Source, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Scheduler {
	return &Scheduler{
		state:  StateIdle,
		repos:  repos,
		engine: engine,
		queue:  queue,
		cfg:    cfg,
		rng:    src,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/game"),
		clock:  clk,
	}
}

// Start seeds the map cache, opens the first raid immediately, and
// schedules the repeating cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Start")
	defer span.End()

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.seedMapCache(ctx); err != nil {
		return err
	}

	s.openRaid()
	s.scheduleNextCycle()
	return nil
}

// Stop cancels every pending timer. A raid left OPEN stays OPEN in the
// database and is not resolved.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cycleTimer != nil {
		s.cycleTimer.Stop()
		s.cycleTimer = nil
	}
	for _, t := range s.raidTimers {
		t.Stop()
	}
	s.raidTimers = nil
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentRaid returns the open raid's ID, or 0 when idle.
func (s *Scheduler) CurrentRaid() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		return s.currentRaid
	}
	return 0
}

// CanJoin reports whether a raid is open for new participants.
func (s *Scheduler) CanJoin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen && s.clock.Now().Before(s.raidEnd)
}

// CanChangeLoadout reports whether the lock deadline has passed. Only the
// deadline matters: joining is guarded separately by CanJoin.
func (s *Scheduler) CanChangeLoadout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Before(s.lockTime)
}

// scheduleNextCycle arms the repeating interval tick.
func (s *Scheduler) scheduleNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cycleTimer = s.clock.AfterFunc(s.cfg.RaidInterval, func() {
		s.openRaid()
		s.scheduleNextCycle()
	})
}

// openRaid transitions IDLE to OPEN, creates the raid row, announces it,
// and arms the warning and resolution timers. A tick that lands while a
// raid is still running is skipped.
func (s *Scheduler) openRaid() {
	s.mu.Lock()
	if s.state != StateIdle || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Scheduler.openRaid")
	defer span.End()

	mapDef := Maps[int(s.rng.Float64()*float64(len(Maps)))]

	raidID, err := s.repos.Raids.Create(ctx, mapDef.Name)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create raid", slog.Any("error", err))
		return
	}
	count, err := s.repos.Raids.Count(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count raids", slog.Any("error", err))
		count = 0
	}
	span.SetAttributes(attribute.Int64("raid_id", raidID), attribute.String("map", mapDef.Name))

	now := s.clock.Now()

	s.mu.Lock()
	s.state = StateOpen
	s.currentRaid = raidID
	s.currentMap = mapDef.Name
	s.raidNumber = count
	s.raidStart = now
	s.raidEnd = now.Add(s.cfg.RaidDuration)
	s.lockTime = s.raidEnd.Add(-s.cfg.LoadoutLock)
	raidEnd, lockTime := s.raidEnd, s.lockTime
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "raid opened",
		slog.Int64("raid_id", raidID),
		slog.Int("raid_number", count),
		slog.String("map", mapDef.Name),
	)

	s.queue.Enqueue(fmt.Sprintf(
		"🔴 RAID #%d STARTING on %s! Type !join to participate. Choose loadout: !loadout pvp | pve | looting",
		count, mapDef.Name,
	), priorityStart)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Join reminders at the configured offsets before raid end.
	for _, offset := range s.cfg.WarningOffsets {
		fireAt := raidEnd.Add(-offset)
		if !fireAt.After(now) {
			continue
		}
		minutes := int(offset.Minutes())
		s.raidTimers = append(s.raidTimers, s.clock.AfterFunc(fireAt.Sub(now), func() {
			s.announceWarning(raidID, minutes)
		}))
	}

	// A final heads-up shortly before loadouts freeze.
	lockWarnAt := lockTime.Add(-10 * time.Second)
	if lockWarnAt.After(now) {
		s.raidTimers = append(s.raidTimers, s.clock.AfterFunc(lockWarnAt.Sub(now), func() {
			if s.State() == StateOpen {
				s.queue.Enqueue("🔒 Loadouts lock in 10 seconds!", priorityWarning)
			}
		}))
	}

	s.raidTimers = append(s.raidTimers, s.clock.AfterFunc(s.cfg.RaidDuration, func() {
		s.resolveRaid(raidID)
	}))
}

func (s *Scheduler) announceWarning(raidID int64, minutes int) {
	s.mu.Lock()
	open := s.state == StateOpen && s.currentRaid == raidID
	number := s.raidNumber
	lockIn := s.lockTime.Sub(s.clock.Now())
	s.mu.Unlock()
	if !open {
		return
	}

	plural := ""
	if minutes != 1 {
		plural = "s"
	}
	s.queue.Enqueue(fmt.Sprintf(
		"⏰ %d minute%s remaining to join RAID #%d! Loadouts lock in %ds",
		minutes, plural, number, int(lockIn.Seconds()),
	), priorityWarning)
}

// resolveRaid runs the engine over the final roster, persists the
// outcome, announces it, and returns the scheduler to IDLE. Resolving a
// raid that is no longer OPEN is a no-op, so a duplicate timer fire
// cannot double-resolve.
func (s *Scheduler) resolveRaid(raidID int64) {
	s.mu.Lock()
	if s.state != StateOpen || s.currentRaid != raidID {
		s.mu.Unlock()
		return
	}
	s.state = StateResolve
	mapName := s.currentMap
	ctx := s.ctx
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Scheduler.resolveRaid",
		trace.WithAttributes(attribute.Int64("raid_id", raidID)),
	)
	defer span.End()

	defer s.finishRaid(ctx, raidID)

	if err := s.repos.Raids.UpdateState(ctx, raidID, store.RaidStateResolve, nil); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark raid resolving", slog.Any("error", err))
		return
	}

	participants, err := s.repos.Raids.Participants(ctx, raidID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load roster", slog.Any("error", err))
		return
	}

	mod := store.DefaultMapModifier(mapName)
	if cached, err := s.repos.Maps.Get(ctx, mapName); err != nil {
		s.logger.ErrorContext(ctx, "failed to load map tuning", slog.Any("error", err))
	} else if cached != nil {
		mod = *cached
	}

	result := s.engine.Resolve(participants, mod)

	for _, pr := range result.Participants {
		s.persistParticipant(ctx, raidID, pr)
	}
	for _, kill := range result.Kills {
		s.persistKill(ctx, raidID, kill)
	}

	s.announceResults(result)

	s.logger.InfoContext(ctx, "raid resolved",
		slog.Int64("raid_id", raidID),
		slog.Int("raiders", result.Summary.TotalRaiders),
		slog.Int("extracts", result.Summary.Extracts),
		slog.Int("deaths", result.Summary.Deaths),
	)
}

// persistParticipant writes one raider's outcome: the participant row,
// the lifetime stat counters, and extracted loot. Failures are logged
// and skipped so one bad row cannot sink the whole resolution.
func (s *Scheduler) persistParticipant(ctx context.Context, raidID int64, pr ParticipantResult) {
	itemsJSON, err := json.Marshal(pr.Items)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode loot", slog.Any("error", err))
		itemsJSON = []byte("[]")
	}
	if err := s.repos.Raids.UpdateParticipant(ctx, raidID, pr.UserID, pr.Extracted, pr.TotalValue, string(itemsJSON)); err != nil {
		s.logger.ErrorContext(ctx, "failed to update participant",
			slog.Int64("user_id", pr.UserID), slog.Any("error", err))
		return
	}

	user, err := s.repos.Users.GetByID(ctx, pr.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load raider",
			slog.Int64("user_id", pr.UserID), slog.Any("error", err))
		return
	}

	raids := user.RaidsPlayed + 1
	extracts := user.Extracts
	deaths := user.Deaths
	if pr.Extracted {
		extracts++
	} else {
		deaths++
	}
	if err := s.repos.Users.UpdateStats(ctx, pr.UserID, store.UserStatsUpdate{
		RaidsPlayed: &raids,
		Extracts:    &extracts,
		Deaths:      &deaths,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to update raider stats",
			slog.Int64("user_id", pr.UserID), slog.Any("error", err))
	}

	if !pr.Extracted {
		return
	}
	for _, item := range pr.Items {
		if err := s.repos.Inventory.Add(ctx, pr.UserID, item, 1); err != nil {
			s.logger.ErrorContext(ctx, "failed to add loot",
				slog.Int64("user_id", pr.UserID), slog.Any("error", err))
		}
	}

	// A first successful extraction never comes home empty-handed.
	if len(pr.Items) == 0 && !user.HasFirstExtractReward {
		reward := FirstExtractReward
		if err := s.repos.Inventory.Add(ctx, pr.UserID, reward.InventoryItem(reward.SellValue), 1); err != nil {
			s.logger.ErrorContext(ctx, "failed to grant first extract reward",
				slog.Int64("user_id", pr.UserID), slog.Any("error", err))
			return
		}
		rewarded := true
		if err := s.repos.Users.UpdateStats(ctx, pr.UserID, store.UserStatsUpdate{
			HasFirstExtractReward: &rewarded,
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to flag first extract reward",
				slog.Int64("user_id", pr.UserID), slog.Any("error", err))
		}
	}
}

func (s *Scheduler) persistKill(ctx context.Context, raidID int64, kill KillAttribution) {
	if err := s.repos.Kills.Record(ctx, kill.KillerID, kill.VictimID, raidID); err != nil {
		s.logger.ErrorContext(ctx, "failed to record kill", slog.Any("error", err))
		return
	}
	if killer, err := s.repos.Users.GetByID(ctx, kill.KillerID); err == nil {
		n := killer.KillsCredited + 1
		if err := s.repos.Users.UpdateStats(ctx, kill.KillerID, store.UserStatsUpdate{KillsCredited: &n}); err != nil {
			s.logger.ErrorContext(ctx, "failed to credit kill", slog.Any("error", err))
		}
	}
	if victim, err := s.repos.Users.GetByID(ctx, kill.VictimID); err == nil {
		n := victim.DeathsAttributed + 1
		if err := s.repos.Users.UpdateStats(ctx, kill.VictimID, store.UserStatsUpdate{DeathsAttributed: &n}); err != nil {
			s.logger.ErrorContext(ctx, "failed to attribute death", slog.Any("error", err))
		}
	}
}

// announceResults condenses a resolution into at most maxResultLines
// chat lines: lore, encounters, co-op moments, kills, then the summary.
func (s *Scheduler) announceResults(result *Result) {
	var lines []string

	if result.LoreLine != "" {
		lines = append(lines, result.LoreLine)
	}
	names := make(map[int64]string, len(result.Participants))
	for _, p := range result.Participants {
		names[p.UserID] = p.Name
	}
	for _, enc := range result.Encounters {
		if len(enc.Items) == 0 {
			continue
		}
		joined := ""
		for i, id := range enc.Participants {
			if i > 0 {
				joined += ", "
			}
			joined += names[id]
		}
		lines = append(lines, fmt.Sprintf("⚔️ %s encountered! %s recovered ARC tech.", enc.Variant, joined))
	}
	for _, coop := range result.CoopEvents {
		lines = append(lines, coop.Message())
	}
	for _, kill := range result.Kills {
		lines = append(lines, fmt.Sprintf("☠️ %s was eliminated by %s.", kill.VictimName, kill.KillerName))
	}

	summary := result.Summary
	line := fmt.Sprintf("📊 RAID COMPLETE: %d raiders | %d extracted | %d lost",
		summary.TotalRaiders, summary.Extracts, summary.Deaths)
	if summary.BestHaul.Value > 0 {
		line += fmt.Sprintf(" | Best haul: %s (%d Cred)", summary.BestHaul.Name, summary.BestHaul.Value)
	}
	if summary.MVP != nil {
		line += fmt.Sprintf(" | MVP: %s", summary.MVP.Name)
	}
	lines = append(lines, line)

	if len(lines) > maxResultLines {
		lines = lines[:maxResultLines]
	}
	for _, l := range lines {
		s.queue.Enqueue(l, priorityResult)
	}
}

// finishRaid closes the raid row and returns the scheduler to IDLE,
// dropping the warning timers that have not fired.
func (s *Scheduler) finishRaid(ctx context.Context, raidID int64) {
	ended := s.clock.Now()
	if err := s.repos.Raids.UpdateState(ctx, raidID, store.RaidStateIdle, &ended); err != nil {
		s.logger.ErrorContext(ctx, "failed to close raid", slog.Any("error", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.currentRaid = 0
	s.currentMap = ""
	for _, t := range s.raidTimers {
		t.Stop()
	}
	s.raidTimers = nil
}

// seedMapCache ensures every rotation map has a tuning row.
func (s *Scheduler) seedMapCache(ctx context.Context) error {
	for _, m := range Maps {
		existing, err := s.repos.Maps.Get(ctx, m.Name)
		if err != nil {
			return fmt.Errorf("reading map cache: %w", err)
		}
		if existing != nil {
			continue
		}
		if err := s.repos.Maps.Upsert(ctx, store.MapModifier{
			Name:             m.Name,
			DifficultyScalar: m.DifficultyScalar,
			EncounterBias:    m.EncounterBias,
		}); err != nil {
			return fmt.Errorf("seeding map cache: %w", err)
		}
	}
	return nil
}
