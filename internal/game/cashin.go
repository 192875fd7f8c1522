package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// Cash-in errors.
var (
	ErrUnknownOption = errors.New("unknown cash-in option")
	ErrPingCooldown  = errors.New("ping on cooldown")
)

// Cashin turns credits into stream effects. Options that need the
// broadcaster's sign-off become pending redemptions; the rest announce
// immediately.
type Cashin struct {
	mu        sync.Mutex
	cooldowns map[int64]time.Time

	users            store.UserRepository
	redemptions      store.RedemptionRepository
	economy          *Economy
	cfg              config.CashinConfig
	approvalRequired bool
	logger           *slog.Logger
	tracer           trace.Tracer
	clock            clock.Clock
}

// NewCashin creates a Cashin manager.
func NewCashin(users store.UserRepository, redemptions store.RedemptionRepository, economy *Economy, cfg config.CashinConfig, approvalRequired bool, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Cashin {
	return &Cashin{
		cooldowns:        make(map[int64]time.Time),
		users:            users,
		redemptions:      redemptions,
		economy:          economy,
		cfg:              cfg,
		approvalRequired: approvalRequired,
		logger:           logger,
		tracer:           tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/game"),
		clock:            clk,
	}
}

// CashinResult is the outcome of a processed cash-in.
type CashinResult struct {
	// RedemptionID is set when the cash-in awaits approval.
	RedemptionID int64
	Pending      bool
	Message      string
}

// Options returns the configured option names and costs, for listing.
func (c *Cashin) Options() map[string]config.CashinOption {
	return c.cfg.Options
}

// Process validates, charges, and executes one cash-in. customText rides
// along on shoutouts and always forces the approval path.
func (c *Cashin) Process(ctx context.Context, userID int64, option, customText string) (*CashinResult, error) {
	ctx, span := c.tracer.Start(ctx, "Cashin.Process",
		trace.WithAttributes(attribute.Int64("user_id", userID), attribute.String("option", option)),
	)
	defer span.End()

	opt, ok := c.cfg.Options[option]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, option)
	}

	if strings.HasPrefix(option, "ping") {
		if remaining, onCooldown := c.pingCooldownRemaining(userID); onCooldown {
			return nil, fmt.Errorf("%w: %ds remaining", ErrPingCooldown, int(remaining.Seconds())+1)
		}
	}

	if err := c.economy.Spend(ctx, userID, opt.Cost); err != nil {
		return nil, err
	}

	if strings.HasPrefix(option, "ping") {
		c.mu.Lock()
		c.cooldowns[userID] = c.clock.Now()
		c.mu.Unlock()
		if user, err := c.users.GetByID(ctx, userID); err == nil {
			n := user.PingCount + 1
			if err := c.users.UpdateStats(ctx, userID, store.UserStatsUpdate{PingCount: &n}); err != nil {
				c.logger.ErrorContext(ctx, "failed to bump ping count", slog.Any("error", err))
			}
		}
	}

	needsApproval := (opt.RequiresApproval && c.approvalRequired) ||
		(option == "shoutout" && customText != "")
	if needsApproval {
		var text *string
		if customText != "" {
			text = &customText
		}
		id, err := c.redemptions.Create(ctx, userID, option, opt.Cost, text)
		if err != nil {
			// The charge already landed; hand it back.
			if refundErr := c.economy.Refund(ctx, userID, opt.Cost); refundErr != nil {
				c.logger.ErrorContext(ctx, "failed to refund after redemption error", slog.Any("error", refundErr))
			}
			return nil, fmt.Errorf("creating redemption: %w", err)
		}
		c.logger.InfoContext(ctx, "redemption created",
			slog.Int64("user_id", userID),
			slog.Int64("redemption_id", id),
			slog.String("option", option),
		)
		return &CashinResult{
			RedemptionID: id,
			Pending:      true,
			Message:      "Redemption requested. Awaiting broadcaster approval.",
		}, nil
	}

	return &CashinResult{Message: c.announcement(ctx, option, userID)}, nil
}

// Pending lists redemptions awaiting broadcaster action.
func (c *Cashin) Pending(ctx context.Context) ([]store.Redemption, error) {
	return c.redemptions.ListPending(ctx)
}

// Approve moves a pending redemption to APPROVED.
func (c *Cashin) Approve(ctx context.Context, id int64, approvedBy string) (*store.Redemption, error) {
	ctx, span := c.tracer.Start(ctx, "Cashin.Approve",
		trace.WithAttributes(attribute.Int64("redemption_id", id)),
	)
	defer span.End()

	if err := c.redemptions.Approve(ctx, id, approvedBy); err != nil {
		return nil, err
	}
	return c.redemptions.Get(ctx, id)
}

// Deny rejects a pending redemption and refunds its cost.
func (c *Cashin) Deny(ctx context.Context, id int64) (*store.Redemption, error) {
	ctx, span := c.tracer.Start(ctx, "Cashin.Deny",
		trace.WithAttributes(attribute.Int64("redemption_id", id)),
	)
	defer span.End()

	red, err := c.redemptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.redemptions.Deny(ctx, id); err != nil {
		return nil, err
	}
	if err := c.economy.Refund(ctx, red.UserID, red.Cost); err != nil {
		c.logger.ErrorContext(ctx, "failed to refund denied redemption", slog.Any("error", err))
	}
	return red, nil
}

// Complete marks an approved redemption as delivered on stream.
func (c *Cashin) Complete(ctx context.Context, id int64) (*store.Redemption, error) {
	if err := c.redemptions.Complete(ctx, id); err != nil {
		return nil, err
	}
	return c.redemptions.Get(ctx, id)
}

func (c *Cashin) pingCooldownRemaining(userID int64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.cooldowns[userID]
	if !ok {
		return 0, false
	}
	elapsed := c.clock.Now().Sub(last)
	if elapsed >= c.cfg.PingCooldown {
		return 0, false
	}
	return c.cfg.PingCooldown - elapsed, true
}

func (c *Cashin) announcement(ctx context.Context, option string, userID int64) string {
	name := "Unknown"
	if user, err := c.users.GetByID(ctx, userID); err == nil {
		name = user.Name()
	}
	switch option {
	case "ping":
		return fmt.Sprintf("🔔 %s sent a ping!", name)
	case "shoutout":
		return fmt.Sprintf("📢 %s requested a shoutout!", name)
	case "scout":
		return fmt.Sprintf("🔍 %s is scouting ahead!", name)
	case "insure":
		return fmt.Sprintf("🛡️ %s purchased insurance!", name)
	default:
		return fmt.Sprintf("%s used %s", name, option)
	}
}
