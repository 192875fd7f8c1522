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

// RaidRepo implements store.RaidRepository with sqlx.
type RaidRepo struct {
	db *sqlx.DB
}

// NewRaidRepo returns a new RaidRepo.
func NewRaidRepo(db *sqlx.DB) *RaidRepo {
	return &RaidRepo{db: db}
}

func (r *RaidRepo) Create(ctx context.Context, mapName string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO raids (map_name, state, started_at) VALUES ($1, $2, $3) RETURNING id`,
		mapName, store.RaidStateOpen, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating raid: %w", err)
	}
	return id, nil
}

func (r *RaidRepo) CurrentOpen(ctx context.Context) (*store.Raid, error) {
	var raid store.Raid
	err := r.db.GetContext(ctx, &raid,
		`SELECT * FROM raids WHERE state = $1 ORDER BY started_at DESC LIMIT 1`,
		store.RaidStateOpen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting current open raid: %w", err)
	}
	return &raid, nil
}

func (r *RaidRepo) UpdateState(ctx context.Context, id int64, state string, endedAt *time.Time) error {
	var err error
	if endedAt != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE raids SET state = $1, ended_at = $2 WHERE id = $3`, state, endedAt, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE raids SET state = $1 WHERE id = $2`, state, id)
	}
	if err != nil {
		return fmt.Errorf("updating raid state: %w", err)
	}
	return nil
}

func (r *RaidRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM raids`); err != nil {
		return 0, fmt.Errorf("counting raids: %w", err)
	}
	return n, nil
}

func (r *RaidRepo) UpsertParticipant(ctx context.Context, raidID, userID int64, loadout store.Loadout) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO raid_participants (raid_id, user_id, loadout) VALUES ($1, $2, $3)
		 ON CONFLICT (raid_id, user_id) DO UPDATE SET loadout = EXCLUDED.loadout`,
		raidID, userID, loadout,
	)
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

func (r *RaidRepo) UpdateParticipant(ctx context.Context, raidID, userID int64, extracted bool, creditsGained int, itemsJSON string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE raid_participants SET extracted = $1, credits_gained = $2, items_json = $3
		 WHERE raid_id = $4 AND user_id = $5`,
		extracted, creditsGained, itemsJSON, raidID, userID,
	)
	if err != nil {
		return fmt.Errorf("updating participant: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("participant (raid=%d, user=%d) not found", raidID, userID)
	}
	return nil
}

func (r *RaidRepo) Participants(ctx context.Context, raidID int64) ([]store.Participant, error) {
	var participants []store.Participant
	err := r.db.SelectContext(ctx, &participants,
		`SELECT rp.raid_id, rp.user_id, rp.loadout, rp.extracted, rp.credits_gained, rp.items_json,
		        u.twitch_name, u.callsign
		 FROM raid_participants rp
		 INNER JOIN users u ON rp.user_id = u.id
		 WHERE rp.raid_id = $1
		 ORDER BY rp.user_id`,
		raidID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}
