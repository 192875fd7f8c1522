package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// ErrInsufficientCredits is returned when a spend exceeds the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Economy moves credits in and out of user balances. Credits only enter
// circulation by selling loot and only leave through cash-ins and titles.
type Economy struct {
	users     store.UserRepository
	inventory store.InventoryRepository
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewEconomy creates an Economy.
func NewEconomy(users store.UserRepository, inventory store.InventoryRepository, logger *slog.Logger, tp trace.TracerProvider) *Economy {
	return &Economy{
		users:     users,
		inventory: inventory,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/game"),
	}
}

// SellAll liquidates a user's entire inventory and credits the proceeds.
func (e *Economy) SellAll(ctx context.Context, userID int64) (totalCred, itemCount int, err error) {
	ctx, span := e.tracer.Start(ctx, "Economy.SellAll",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	items, err := e.inventory.List(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("listing inventory: %w", err)
	}
	for _, item := range items {
		totalCred += item.SellValue * item.Quantity
		itemCount += item.Quantity
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading user: %w", err)
	}
	if err := e.users.UpdateCredits(ctx, userID,
		user.Credits+totalCred,
		user.LifetimeEarned+totalCred,
		user.LifetimeSpent,
	); err != nil {
		return 0, 0, fmt.Errorf("crediting sale: %w", err)
	}

	if err := e.inventory.Clear(ctx, userID); err != nil {
		return 0, 0, fmt.Errorf("clearing inventory: %w", err)
	}

	e.logger.InfoContext(ctx, "inventory sold",
		slog.Int64("user_id", userID),
		slog.Int("items", itemCount),
		slog.Int("credits", totalCred),
	)
	return totalCred, itemCount, nil
}

// Spend deducts amount from the user's balance, or returns
// ErrInsufficientCredits without touching it.
func (e *Economy) Spend(ctx context.Context, userID int64, amount int) error {
	ctx, span := e.tracer.Start(ctx, "Economy.Spend",
		trace.WithAttributes(attribute.Int64("user_id", userID), attribute.Int("amount", amount)),
	)
	defer span.End()

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if user.Credits < amount {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, amount, user.Credits)
	}
	return e.users.UpdateCredits(ctx, userID,
		user.Credits-amount,
		user.LifetimeEarned,
		user.LifetimeSpent+amount,
	)
}

// Refund returns amount to the user's balance and unwinds the lifetime
// spend counter, flooring it at zero.
func (e *Economy) Refund(ctx context.Context, userID int64, amount int) error {
	ctx, span := e.tracer.Start(ctx, "Economy.Refund",
		trace.WithAttributes(attribute.Int64("user_id", userID), attribute.Int("amount", amount)),
	)
	defer span.End()

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	spent := user.LifetimeSpent - amount
	if spent < 0 {
		spent = 0
	}
	return e.users.UpdateCredits(ctx, userID,
		user.Credits+amount,
		user.LifetimeEarned,
		spent,
	)
}
