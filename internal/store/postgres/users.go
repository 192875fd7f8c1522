package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// UserRepo implements store.UserRepository with sqlx.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo returns a new UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	query := `INSERT INTO users (twitch_name, callsign, created_at)
	           VALUES ($1, $2, $3)
	           RETURNING id`
	u.CreatedAt = time.Now().UTC()
	if err := r.db.QueryRowContext(ctx, query, u.TwitchName, u.Callsign, u.CreatedAt).Scan(&u.ID); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByTwitchName(ctx context.Context, name string) (*store.User, error) {
	var u store.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE twitch_name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("getting user by twitch_name: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) UpdateCredits(ctx context.Context, id int64, credits, lifetimeEarned, lifetimeSpent int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET credits = $1, lifetime_earned = $2, lifetime_spent = $3 WHERE id = $4`,
		credits, lifetimeEarned, lifetimeSpent, id,
	)
	if err != nil {
		return fmt.Errorf("updating credits: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	return nil
}

func (r *UserRepo) UpdateStats(ctx context.Context, id int64, stats store.UserStatsUpdate) error {
	var sets []string
	var args []interface{}

	add := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if stats.RaidsPlayed != nil {
		add("raids_played", *stats.RaidsPlayed)
	}
	if stats.Extracts != nil {
		add("extracts", *stats.Extracts)
	}
	if stats.Deaths != nil {
		add("deaths", *stats.Deaths)
	}
	if stats.PingCount != nil {
		add("ping_count", *stats.PingCount)
	}
	if stats.KillsCredited != nil {
		add("kills_credited", *stats.KillsCredited)
	}
	if stats.DeathsAttributed != nil {
		add("deaths_attributed", *stats.DeathsAttributed)
	}
	if stats.HasUsedFreeLoadout != nil {
		add("has_used_free_loadout", *stats.HasUsedFreeLoadout)
	}
	if stats.HasFirstExtractReward != nil {
		add("has_first_extract_reward", *stats.HasFirstExtractReward)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user stats: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	return nil
}

func (r *UserRepo) SetActiveTitle(ctx context.Context, id int64, titleID *int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET active_title_id = $1 WHERE id = $2`, titleID, id); err != nil {
		return fmt.Errorf("setting active title: %w", err)
	}
	return nil
}

func (r *UserRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET banned = $1 WHERE id = $2`, banned, id)
	if err != nil {
		return fmt.Errorf("setting banned flag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	return nil
}
