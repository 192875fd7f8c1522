package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// KillRepo implements store.KillRepository with sqlx.
type KillRepo struct {
	db *sqlx.DB
}

// NewKillRepo returns a new KillRepo.
func NewKillRepo(db *sqlx.DB) *KillRepo {
	return &KillRepo{db: db}
}

// Record bumps the pairwise ledger and appends a history row in one
// transaction.
func (r *KillRepo) Record(ctx context.Context, killerID, victimID, raidID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kills (killer_id, victim_id, count, last_at) VALUES ($1, $2, 1, $3)
		 ON CONFLICT (killer_id, victim_id) DO UPDATE SET count = kills.count + 1, last_at = EXCLUDED.last_at`,
		killerID, victimID, now,
	); err != nil {
		return fmt.Errorf("updating kill ledger: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kill_events (raid_id, killer_id, victim_id, created_at) VALUES ($1, $2, $3, $4)`,
		raidID, killerID, victimID, now,
	); err != nil {
		return fmt.Errorf("appending kill event: %w", err)
	}

	return tx.Commit()
}

func (r *KillRepo) Kills(ctx context.Context, killerID int64) ([]store.KillTally, error) {
	var tallies []store.KillTally
	err := r.db.SelectContext(ctx, &tallies,
		`SELECT k.victim_id AS user_id, k.count, u.twitch_name, u.callsign
		 FROM kills k INNER JOIN users u ON k.victim_id = u.id
		 WHERE k.killer_id = $1 ORDER BY k.count DESC`,
		killerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing kills: %w", err)
	}
	return tallies, nil
}

func (r *KillRepo) Deaths(ctx context.Context, victimID int64) ([]store.KillTally, error) {
	var tallies []store.KillTally
	err := r.db.SelectContext(ctx, &tallies,
		`SELECT k.killer_id AS user_id, k.count, u.twitch_name, u.callsign
		 FROM kills k INNER JOIN users u ON k.killer_id = u.id
		 WHERE k.victim_id = $1 ORDER BY k.count DESC`,
		victimID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deaths: %w", err)
	}
	return tallies, nil
}

func (r *KillRepo) HeadToHead(ctx context.Context, userA, userB int64) (int, int, error) {
	count := func(killer, victim int64) (int, error) {
		var n int
		err := r.db.GetContext(ctx, &n,
			`SELECT COALESCE(SUM(count), 0) FROM kills WHERE killer_id = $1 AND victim_id = $2`,
			killer, victim,
		)
		return n, err
	}

	aKills, err := count(userA, userB)
	if err != nil {
		return 0, 0, fmt.Errorf("counting head-to-head kills: %w", err)
	}
	bKills, err := count(userB, userA)
	if err != nil {
		return 0, 0, fmt.Errorf("counting head-to-head kills: %w", err)
	}
	return aKills, bKills, nil
}

func (r *KillRepo) RecentFeed(ctx context.Context, userID int64, limit int) ([]store.KillEvent, error) {
	var events []store.KillEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT ke.id, ke.raid_id, ke.killer_id, ke.victim_id, ke.created_at,
		        COALESCE(NULLIF(k.callsign, ''), k.twitch_name) AS killer_name,
		        COALESCE(NULLIF(v.callsign, ''), v.twitch_name) AS victim_name
		 FROM kill_events ke
		 INNER JOIN users k ON ke.killer_id = k.id
		 INNER JOIN users v ON ke.victim_id = v.id
		 WHERE ke.killer_id = $1 OR ke.victim_id = $1
		 ORDER BY ke.created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing kill feed: %w", err)
	}
	return events, nil
}
