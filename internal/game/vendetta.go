package game

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// Vendetta reads the kill ledger into rivalry views.
type Vendetta struct {
	users  store.UserRepository
	kills  store.KillRepository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewVendetta creates a Vendetta reader.
func NewVendetta(users store.UserRepository, kills store.KillRepository, logger *slog.Logger, tp trace.TracerProvider) *Vendetta {
	return &Vendetta{
		users:  users,
		kills:  kills,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/twitch-raid-bot/internal/game"),
	}
}

// TallyLine is one named side of a rivalry.
type TallyLine struct {
	Name  string
	Kills int
}

// VendettaStats summarizes one raider's rivalries. Nemesis is who kills
// them most; Victim is who they kill most.
type VendettaStats struct {
	KillsCredited    int
	DeathsAttributed int
	TopNemesis       *TallyLine
	TopVictim        *TallyLine
}

// Stats returns the rivalry summary for one raider.
func (v *Vendetta) Stats(ctx context.Context, userID int64) (*VendettaStats, error) {
	ctx, span := v.tracer.Start(ctx, "Vendetta.Stats",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	kills, err := v.kills.Kills(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing kills: %w", err)
	}
	deaths, err := v.kills.Deaths(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing deaths: %w", err)
	}

	stats := &VendettaStats{
		KillsCredited:    user.KillsCredited,
		DeathsAttributed: user.DeathsAttributed,
	}
	if len(deaths) > 0 {
		stats.TopNemesis = &TallyLine{Name: deaths[0].Name(), Kills: deaths[0].Count}
	}
	if len(kills) > 0 {
		stats.TopVictim = &TallyLine{Name: kills[0].Name(), Kills: kills[0].Count}
	}
	return stats, nil
}

// HeadToHead returns both directions of a two-raider rivalry.
func (v *Vendetta) HeadToHead(ctx context.Context, userA, userB int64) (a, b TallyLine, err error) {
	ctx, span := v.tracer.Start(ctx, "Vendetta.HeadToHead",
		trace.WithAttributes(attribute.Int64("user_a", userA), attribute.Int64("user_b", userB)),
	)
	defer span.End()

	ua, err := v.users.GetByID(ctx, userA)
	if err != nil {
		return a, b, fmt.Errorf("loading user: %w", err)
	}
	ub, err := v.users.GetByID(ctx, userB)
	if err != nil {
		return a, b, fmt.Errorf("loading user: %w", err)
	}
	aKills, bKills, err := v.kills.HeadToHead(ctx, userA, userB)
	if err != nil {
		return a, b, fmt.Errorf("reading head to head: %w", err)
	}
	return TallyLine{Name: ua.Name(), Kills: aKills}, TallyLine{Name: ub.Name(), Kills: bKills}, nil
}

// RecentFeed returns the raider's latest kill events, newest first.
func (v *Vendetta) RecentFeed(ctx context.Context, userID int64, limit int) ([]store.KillEvent, error) {
	return v.kills.RecentFeed(ctx, userID, limit)
}
