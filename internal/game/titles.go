package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// Title purchase errors.
var (
	ErrNoMoreTitles  = errors.New("no more titles available")
	ErrTitleNotFound = errors.New("title not found")
	ErrTitleNotOwned = errors.New("title not owned")
)

// Titles manages the purchasable title ladder. Titles are bought in
// display order, one rung at a time.
type Titles struct {
	users   store.UserRepository
	titles  store.TitleRepository
	economy *Economy
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewTitles creates a Titles manager.
func NewTitles(users store.UserRepository, titles store.TitleRepository, economy *Economy, logger *slog.Logger, tp trace.TracerProvider) *Titles {
	return &Titles{
		users:   users,
		titles:  titles,
		economy: economy,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/game"),
	}
}

// List returns the whole ladder in display order.
func (t *Titles) List(ctx context.Context) ([]store.Title, error) {
	return t.titles.List(ctx)
}

// Owned returns the titles the user has purchased.
func (t *Titles) Owned(ctx context.Context, userID int64) ([]store.Title, error) {
	return t.titles.Owned(ctx, userID)
}

// Next returns the lowest unowned rung, or ErrNoMoreTitles at the top.
func (t *Titles) Next(ctx context.Context, userID int64) (*store.Title, error) {
	all, err := t.titles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing titles: %w", err)
	}
	owned, err := t.titles.Owned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing owned titles: %w", err)
	}
	ownedIDs := make(map[int64]bool, len(owned))
	for _, o := range owned {
		ownedIDs[o.ID] = true
	}
	for i := range all {
		if !ownedIDs[all[i].ID] {
			return &all[i], nil
		}
	}
	return nil, ErrNoMoreTitles
}

// PurchaseNext buys the user's next rung, spending its cost.
func (t *Titles) PurchaseNext(ctx context.Context, userID int64) (*store.Title, error) {
	ctx, span := t.tracer.Start(ctx, "Titles.PurchaseNext",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	next, err := t.Next(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := t.economy.Spend(ctx, userID, next.Cost); err != nil {
		return nil, err
	}
	if err := t.titles.Grant(ctx, userID, next.ID); err != nil {
		return nil, fmt.Errorf("granting title: %w", err)
	}

	t.logger.InfoContext(ctx, "title purchased",
		slog.Int64("user_id", userID),
		slog.String("title", next.Name),
		slog.Int("cost", next.Cost),
	)
	return next, nil
}

// SetActive makes an owned title the user's display title. The name
// match is case-insensitive.
func (t *Titles) SetActive(ctx context.Context, userID int64, titleName string) (*store.Title, error) {
	ctx, span := t.tracer.Start(ctx, "Titles.SetActive",
		trace.WithAttributes(attribute.Int64("user_id", userID), attribute.String("title", titleName)),
	)
	defer span.End()

	all, err := t.titles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing titles: %w", err)
	}
	var title *store.Title
	for i := range all {
		if strings.EqualFold(all[i].Name, titleName) {
			title = &all[i]
			break
		}
	}
	if title == nil {
		return nil, ErrTitleNotFound
	}

	owned, err := t.titles.Owned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing owned titles: %w", err)
	}
	isOwned := false
	for _, o := range owned {
		if o.ID == title.ID {
			isOwned = true
			break
		}
	}
	if !isOwned {
		return nil, ErrTitleNotOwned
	}

	if err := t.users.SetActiveTitle(ctx, userID, &title.ID); err != nil {
		return nil, fmt.Errorf("setting active title: %w", err)
	}
	return title, nil
}
