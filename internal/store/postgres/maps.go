package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// MapRepo implements store.MapRepository with sqlx.
type MapRepo struct {
	db *sqlx.DB
}

// NewMapRepo returns a new MapRepo.
func NewMapRepo(db *sqlx.DB) *MapRepo {
	return &MapRepo{db: db}
}

func (r *MapRepo) Get(ctx context.Context, name string) (*store.MapModifier, error) {
	var m store.MapModifier
	err := r.db.GetContext(ctx, &m, `SELECT * FROM maps_cache WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting map modifier: %w", err)
	}
	return &m, nil
}

func (r *MapRepo) Upsert(ctx context.Context, m store.MapModifier) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO maps_cache (name, difficulty_scalar, encounter_bias, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET
		   difficulty_scalar = EXCLUDED.difficulty_scalar,
		   encounter_bias = EXCLUDED.encounter_bias,
		   updated_at = EXCLUDED.updated_at`,
		m.Name, m.DifficultyScalar, m.EncounterBias, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting map modifier: %w", err)
	}
	return nil
}

func (r *MapRepo) List(ctx context.Context) ([]store.MapModifier, error) {
	var mods []store.MapModifier
	if err := r.db.SelectContext(ctx, &mods, `SELECT * FROM maps_cache ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing map modifiers: %w", err)
	}
	return mods, nil
}
