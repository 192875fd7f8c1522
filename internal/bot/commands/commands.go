// Package commands parses chat commands and routes them to the game
// managers. Every reply goes through the rate-limited dispatcher.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/dispatch"
	"github.com/jensholdgaard/twitch-raid-bot/internal/game"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
	"github.com/jensholdgaard/twitch-raid-bot/internal/telemetry"
)

// Reply priorities. Mentions of the broadcaster outrank celebration
// lines, which outrank plain usage replies.
const (
	priorityUsage       = 1
	priorityInfo        = 2
	priorityAction      = 3
	priorityCelebration = 5
	priorityBroadcaster = 8
)

// Handlers process chat commands.
type Handlers struct {
	users       store.UserRepository
	titles      store.TitleRepository
	inventory   store.InventoryRepository
	raids       store.RaidRepository
	scheduler   *game.Scheduler
	economy     *game.Economy
	cashin      *game.Cashin
	titlesMgr   *game.Titles
	vendetta    *game.Vendetta
	queue       *dispatch.Queue
	broadcaster string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandlers creates chat command handlers. broadcaster is the channel
// owner's login name; only they can work the redemption queue.
func NewHandlers(repos *store.Repositories, scheduler *game.Scheduler, economy *game.Economy, cashin *game.Cashin, titlesMgr *game.Titles, vendetta *game.Vendetta, queue *dispatch.Queue, broadcaster string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		users:       repos.Users,
		titles:      repos.Titles,
		inventory:   repos.Inventory,
		raids:       repos.Raids,
		scheduler:   scheduler,
		economy:     economy,
		cashin:      cashin,
		titlesMgr:   titlesMgr,
		vendetta:    vendetta,
		queue:       queue,
		broadcaster: strings.ToLower(broadcaster),
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/bot/commands"),
	}
}

// Handle dispatches one chat message. Non-commands and unknown commands
// are ignored without a reply.
func (h *Handlers) Handle(ctx context.Context, username, message string) {
	if !strings.HasPrefix(message, "!") {
		return
	}
	args := strings.Fields(message[1:])
	if len(args) == 0 {
		return
	}
	command := strings.ToLower(args[0])
	username = strings.ToLower(username)

	ctx, span := h.tracer.Start(ctx, "Handlers.Handle",
		trace.WithAttributes(
			attribute.String("command", command),
			attribute.String("username", username),
		),
	)
	defer span.End()

	telemetry.LogWithTrace(ctx, h.logger).DebugContext(ctx, "handling command",
		slog.String("command", command),
		slog.String("username", username),
	)

	user, err := h.users.GetByTwitchName(ctx, username)
	if err != nil {
		user = nil
	}
	if user != nil && user.Banned {
		return
	}
	if user == nil && command != "create" {
		h.reply(username, "You need to create a character first with !create <callsign>", priorityUsage)
		return
	}

	switch command {
	case "create":
		h.handleCreate(ctx, username, user, args)
	case "profile":
		h.handleProfile(ctx, username, user, args)
	case "join":
		h.handleJoin(ctx, username, user)
	case "loadout":
		h.handleLoadout(ctx, username, user, args)
	case "sell":
		h.handleSell(ctx, username, user)
	case "cashin":
		h.handleCashin(ctx, username, user, args)
	case "titles":
		h.handleTitles(ctx, username, user)
	case "buytitle":
		h.handleBuyTitle(ctx, username, user)
	case "settitle":
		h.handleSetTitle(ctx, username, user, args)
	case "vendetta":
		h.handleVendetta(ctx, username, user, args)
	case "redemptions":
		h.handleRedemptions(ctx, username)
	case "approve":
		h.handleApprove(ctx, username, args)
	case "deny":
		h.handleDeny(ctx, username, args)
	case "complete":
		h.handleComplete(ctx, username, args)
	}
}

func (h *Handlers) reply(username, text string, priority int) {
	h.queue.Enqueue(fmt.Sprintf("@%s %s", username, text), priority)
}

func (h *Handlers) handleCreate(ctx context.Context, username string, user *store.User, args []string) {
	callsign := strings.TrimSpace(strings.Join(args[1:], " "))
	if len(callsign) < 2 {
		h.reply(username, "Usage: !create <callsign> (2+ characters)", priorityUsage)
		return
	}
	if user != nil {
		h.reply(username, "You already have a character! Use !profile to view.", priorityUsage)
		return
	}

	newUser := &store.User{TwitchName: username, Callsign: callsign}
	if err := h.users.Create(ctx, newUser); err != nil {
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		h.reply(username, "Could not create your character, try again.", priorityUsage)
		return
	}

	// Everyone starts owning and wearing the bottom rung.
	if rookie, err := h.titles.GetByID(ctx, 1); err == nil {
		if err := h.titles.Grant(ctx, newUser.ID, rookie.ID); err == nil {
			if err := h.users.SetActiveTitle(ctx, newUser.ID, &rookie.ID); err != nil {
				h.logger.ErrorContext(ctx, "failed to set starter title", slog.Any("error", err))
			}
		}
	}

	h.reply(username, fmt.Sprintf("Character created! Callsign: %s. Welcome, Rookie!", callsign), priorityCelebration)
}

func (h *Handlers) handleProfile(ctx context.Context, username string, user *store.User, args []string) {
	target := user
	if len(args) > 1 {
		name := strings.ToLower(strings.TrimPrefix(args[1], "@"))
		other, err := h.users.GetByTwitchName(ctx, name)
		if err != nil {
			h.reply(username, "User not found.", priorityUsage)
			return
		}
		target = other
	}

	badge := ""
	if target.ActiveTitleID != nil {
		if title, err := h.titles.GetByID(ctx, *target.ActiveTitleID); err == nil {
			badge = fmt.Sprintf("[%s] ", title.Name)
		}
	}

	rate := 0.0
	if target.RaidsPlayed > 0 {
		rate = float64(target.Extracts) / float64(target.RaidsPlayed) * 100
	}

	line := fmt.Sprintf("%s%s | Raids: %d | Extracts: %d | Deaths: %d | Rate: %.1f%% | Cred: %d | Lifetime: +%d / -%d",
		badge, target.Name(), target.RaidsPlayed, target.Extracts, target.Deaths, rate,
		target.Credits, target.LifetimeEarned, target.LifetimeSpent)
	if target.KillsCredited > 0 || target.DeathsAttributed > 0 {
		line += fmt.Sprintf(" | PvP: %dK/%dD", target.KillsCredited, target.DeathsAttributed)
	}
	h.queue.Enqueue(line, priorityAction)

	items, err := h.inventory.List(ctx, target.ID)
	if err != nil || len(items) == 0 {
		return
	}
	shown := items
	if len(shown) > 3 {
		shown = shown[:3]
	}
	parts := make([]string, 0, len(shown))
	for _, it := range shown {
		parts = append(parts, fmt.Sprintf("%s (%d)", it.ItemName, it.Quantity))
	}
	itemsLine := "Items: " + strings.Join(parts, ", ")
	if more := len(items) - len(shown); more > 0 {
		itemsLine += fmt.Sprintf(" +%d more", more)
	}
	h.queue.Enqueue(itemsLine, priorityInfo)
}

func (h *Handlers) handleJoin(ctx context.Context, username string, user *store.User) {
	if !h.scheduler.CanJoin() {
		h.reply(username, "No raid is currently open.", priorityUsage)
		return
	}
	raidID := h.scheduler.CurrentRaid()
	if raidID == 0 {
		return
	}

	// Returning joiners keep their loadout; first-timers get one FREE run,
	// everyone after that defaults to LOOTING.
	loadout := store.LoadoutLooting
	participants, err := h.raids.Participants(ctx, raidID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list participants", slog.Any("error", err))
		return
	}
	already := false
	for _, p := range participants {
		if p.UserID == user.ID {
			loadout = p.Loadout
			already = true
			break
		}
	}
	if !already && !user.HasUsedFreeLoadout {
		loadout = store.LoadoutFree
		used := true
		if err := h.users.UpdateStats(ctx, user.ID, store.UserStatsUpdate{HasUsedFreeLoadout: &used}); err != nil {
			h.logger.ErrorContext(ctx, "failed to flag free loadout", slog.Any("error", err))
		}
	}

	if err := h.raids.UpsertParticipant(ctx, raidID, user.ID, loadout); err != nil {
		h.logger.ErrorContext(ctx, "failed to join raid", slog.Any("error", err))
		return
	}
	h.reply(username, fmt.Sprintf("Joined raid! Loadout: %s. Use !loadout to change.", loadout), priorityAction)
}

func (h *Handlers) handleLoadout(ctx context.Context, username string, user *store.User, args []string) {
	if len(args) < 2 {
		h.reply(username, "Usage: !loadout pvp | pve | looting", priorityUsage)
		return
	}
	loadout := store.Loadout(strings.ToUpper(args[1]))
	if loadout != store.LoadoutPVP && loadout != store.LoadoutPVE && loadout != store.LoadoutLooting {
		h.reply(username, "Usage: !loadout pvp | pve | looting", priorityUsage)
		return
	}

	raidID := h.scheduler.CurrentRaid()
	if raidID == 0 {
		h.reply(username, fmt.Sprintf("Loadout set to %s for next raid.", loadout), priorityUsage)
		return
	}
	if !h.scheduler.CanChangeLoadout() {
		h.reply(username, fmt.Sprintf("Loadouts are locked! Set to %s for next raid.", loadout), priorityUsage)
		return
	}

	participants, err := h.raids.Participants(ctx, raidID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list participants", slog.Any("error", err))
		return
	}
	already := false
	for _, p := range participants {
		if p.UserID == user.ID {
			already = true
			break
		}
	}

	if err := h.raids.UpsertParticipant(ctx, raidID, user.ID, loadout); err != nil {
		h.logger.ErrorContext(ctx, "failed to set loadout", slog.Any("error", err))
		return
	}
	if already {
		h.reply(username, fmt.Sprintf("Loadout changed to %s for current raid.", loadout), priorityInfo)
	} else {
		h.reply(username, fmt.Sprintf("Joined raid with %s loadout!", loadout), priorityInfo)
	}
}

func (h *Handlers) handleSell(ctx context.Context, username string, user *store.User) {
	total, count, err := h.economy.SellAll(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to sell inventory", slog.Any("error", err))
		return
	}
	if count == 0 {
		h.reply(username, "No items to sell.", priorityUsage)
		return
	}

	badge := ""
	if user.ActiveTitleID != nil {
		if title, err := h.titles.GetByID(ctx, *user.ActiveTitleID); err == nil {
			badge = fmt.Sprintf("[%s] ", title.Name)
		}
	}
	h.queue.Enqueue(fmt.Sprintf("%s%s sold %d items for %d Cred.", badge, user.Name(), count, total), priorityCelebration)
}

func (h *Handlers) handleCashin(ctx context.Context, username string, user *store.User, args []string) {
	if len(args) < 2 {
		h.reply(username, "Usage: !cashin <option>", priorityUsage)
		return
	}
	option := strings.ToLower(args[1])
	customText := strings.TrimSpace(strings.Join(args[2:], " "))

	result, err := h.cashin.Process(ctx, user.ID, option, customText)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrUnknownOption):
			h.reply(username, "Unknown cash-in option.", priorityUsage)
		case errors.Is(err, game.ErrInsufficientCredits):
			h.reply(username, "Insufficient credits.", priorityUsage)
		case errors.Is(err, game.ErrPingCooldown):
			h.reply(username, err.Error(), priorityUsage)
		default:
			h.logger.ErrorContext(ctx, "cash-in failed", slog.Any("error", err))
		}
		return
	}

	if result.Pending {
		opt := h.cashin.Options()[option]
		h.queue.Enqueue(fmt.Sprintf("@%s %s requested %s. Broadcaster type !approve or !deny.",
			h.broadcaster, username, opt.Description), priorityBroadcaster)
		return
	}
	h.queue.Enqueue(result.Message, priorityCelebration)
}

func (h *Handlers) handleTitles(ctx context.Context, username string, user *store.User) {
	all, err := h.titlesMgr.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list titles", slog.Any("error", err))
		return
	}
	owned, err := h.titlesMgr.Owned(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list owned titles", slog.Any("error", err))
		return
	}
	ownedIDs := make(map[int64]bool, len(owned))
	for _, t := range owned {
		ownedIDs[t.ID] = true
	}

	entries := make([]string, 0, len(all))
	for _, title := range all {
		marker := "○"
		if ownedIDs[title.ID] {
			marker = "✓"
			if user.ActiveTitleID != nil && *user.ActiveTitleID == title.ID {
				marker = "★"
			}
		}
		entry := fmt.Sprintf("%s %s", marker, title.Name)
		if title.Cost > 0 {
			entry += fmt.Sprintf(" (%d)", title.Cost)
		}
		entries = append(entries, entry)
	}
	line := fmt.Sprintf("@%s Titles: %s", username, strings.Join(entries, " | "))

	if next, err := h.titlesMgr.Next(ctx, user.ID); err == nil {
		line += fmt.Sprintf(" | Next: %s (%d Cred)", next.Name, next.Cost)
	}
	h.queue.Enqueue(line, priorityInfo)
}

func (h *Handlers) handleBuyTitle(ctx context.Context, username string, user *store.User) {
	title, err := h.titlesMgr.PurchaseNext(ctx, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrNoMoreTitles):
			h.reply(username, "No more titles available.", priorityUsage)
		case errors.Is(err, game.ErrInsufficientCredits):
			h.reply(username, err.Error(), priorityUsage)
		default:
			h.logger.ErrorContext(ctx, "title purchase failed", slog.Any("error", err))
		}
		return
	}
	h.reply(username, fmt.Sprintf("Purchased %s!", title.Name), priorityAction)
}

func (h *Handlers) handleSetTitle(ctx context.Context, username string, user *store.User, args []string) {
	titleName := strings.TrimSpace(strings.Join(args[1:], " "))
	if titleName == "" {
		h.reply(username, "Usage: !settitle <title name>", priorityUsage)
		return
	}
	title, err := h.titlesMgr.SetActive(ctx, user.ID, titleName)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrTitleNotFound):
			h.reply(username, "Title not found.", priorityUsage)
		case errors.Is(err, game.ErrTitleNotOwned):
			h.reply(username, "You do not own this title.", priorityUsage)
		default:
			h.logger.ErrorContext(ctx, "failed to set title", slog.Any("error", err))
		}
		return
	}
	h.reply(username, fmt.Sprintf("Active title set to %s", title.Name), priorityInfo)
}

func (h *Handlers) handleVendetta(ctx context.Context, username string, user *store.User, args []string) {
	if len(args) > 1 {
		name := strings.ToLower(strings.TrimPrefix(args[1], "@"))
		other, err := h.users.GetByTwitchName(ctx, name)
		if err != nil {
			h.reply(username, "User not found.", priorityUsage)
			return
		}
		mine, theirs, err := h.vendetta.HeadToHead(ctx, user.ID, other.ID)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to read head to head", slog.Any("error", err))
			return
		}
		h.reply(username, fmt.Sprintf("%s %d - %d %s", mine.Name, mine.Kills, theirs.Kills, theirs.Name), priorityInfo)
		return
	}

	stats, err := h.vendetta.Stats(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read vendetta stats", slog.Any("error", err))
		return
	}
	line := fmt.Sprintf("Vendetta: %dK / %dD", stats.KillsCredited, stats.DeathsAttributed)
	if stats.TopNemesis != nil {
		line += fmt.Sprintf(" | Nemesis: %s (%d)", stats.TopNemesis.Name, stats.TopNemesis.Kills)
	}
	if stats.TopVictim != nil {
		line += fmt.Sprintf(" | Top Victim: %s (%d)", stats.TopVictim.Name, stats.TopVictim.Kills)
	}
	h.reply(username, line, priorityInfo)
}

func (h *Handlers) isBroadcaster(username string) bool {
	return username == h.broadcaster
}

func (h *Handlers) handleRedemptions(ctx context.Context, username string) {
	if !h.isBroadcaster(username) {
		return
	}
	pending, err := h.cashin.Pending(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list redemptions", slog.Any("error", err))
		return
	}
	if len(pending) == 0 {
		h.reply(username, "No pending redemptions.", priorityUsage)
		return
	}
	if len(pending) > 5 {
		pending = pending[:5]
	}
	entries := make([]string, 0, len(pending))
	for _, r := range pending {
		desc := r.Type
		if opt, ok := h.cashin.Options()[r.Type]; ok && opt.Description != "" {
			desc = opt.Description
		}
		entries = append(entries, fmt.Sprintf("#%d %s - %s (%d Cred)", r.ID, r.Name(), desc, r.Cost))
	}
	h.reply(username, "Pending: "+strings.Join(entries, " | "), priorityAction)
}

func (h *Handlers) parseRedemptionID(username, usage string, args []string) (int64, bool) {
	if len(args) < 2 {
		h.reply(username, usage, priorityUsage)
		return 0, false
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		h.reply(username, usage, priorityUsage)
		return 0, false
	}
	return id, true
}

func (h *Handlers) handleApprove(ctx context.Context, username string, args []string) {
	if !h.isBroadcaster(username) {
		return
	}
	id, ok := h.parseRedemptionID(username, "Usage: !approve <redemptionId>", args)
	if !ok {
		return
	}
	red, err := h.cashin.Approve(ctx, id, username)
	if err != nil {
		h.reply(username, "Redemption not found or already processed.", priorityUsage)
		return
	}
	h.queue.Enqueue(fmt.Sprintf("✅ Redemption #%d approved for %s.", id, red.Name()), priorityCelebration)
}

func (h *Handlers) handleDeny(ctx context.Context, username string, args []string) {
	if !h.isBroadcaster(username) {
		return
	}
	id, ok := h.parseRedemptionID(username, "Usage: !deny <redemptionId>", args)
	if !ok {
		return
	}
	red, err := h.cashin.Deny(ctx, id)
	if err != nil {
		h.reply(username, "Redemption not found or already processed.", priorityUsage)
		return
	}
	h.queue.Enqueue(fmt.Sprintf("❌ Redemption #%d denied. %d Cred refunded to %s.", id, red.Cost, red.Name()), priorityCelebration)
}

func (h *Handlers) handleComplete(ctx context.Context, username string, args []string) {
	if !h.isBroadcaster(username) {
		return
	}
	id, ok := h.parseRedemptionID(username, "Usage: !complete <redemptionId>", args)
	if !ok {
		return
	}
	red, err := h.cashin.Complete(ctx, id)
	if err != nil {
		h.reply(username, "Redemption must be approved first.", priorityUsage)
		return
	}
	h.queue.Enqueue(fmt.Sprintf("✅ Redemption #%d marked complete for %s.", id, red.Name()), priorityAction)
}
