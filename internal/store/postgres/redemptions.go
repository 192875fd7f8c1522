package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// RedemptionRepo implements store.RedemptionRepository with sqlx.
type RedemptionRepo struct {
	db *sqlx.DB
}

// NewRedemptionRepo returns a new RedemptionRepo.
func NewRedemptionRepo(db *sqlx.DB) *RedemptionRepo {
	return &RedemptionRepo{db: db}
}

func (r *RedemptionRepo) Create(ctx context.Context, userID int64, redemptionType string, cost int, customText *string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO redemptions (user_id, type, cost, status, custom_text, created_at)
		 VALUES ($1, $2, $3, 'PENDING', $4, $5) RETURNING id`,
		userID, redemptionType, cost, customText, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating redemption: %w", err)
	}
	return id, nil
}

func (r *RedemptionRepo) Get(ctx context.Context, id int64) (*store.Redemption, error) {
	var red store.Redemption
	err := r.db.GetContext(ctx, &red,
		`SELECT r.*, u.twitch_name, u.callsign
		 FROM redemptions r INNER JOIN users u ON r.user_id = u.id
		 WHERE r.id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting redemption: %w", err)
	}
	return &red, nil
}

func (r *RedemptionRepo) ListPending(ctx context.Context) ([]store.Redemption, error) {
	var reds []store.Redemption
	err := r.db.SelectContext(ctx, &reds,
		`SELECT r.*, u.twitch_name, u.callsign
		 FROM redemptions r INNER JOIN users u ON r.user_id = u.id
		 WHERE r.status = 'PENDING'
		 ORDER BY r.created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending redemptions: %w", err)
	}
	return reds, nil
}

func (r *RedemptionRepo) Approve(ctx context.Context, id int64, approvedBy string) error {
	return r.transition(ctx, id, "PENDING", "APPROVED",
		`UPDATE redemptions SET status = 'APPROVED', approved_by = $1, approved_at = $2
		 WHERE id = $3 AND status = 'PENDING'`,
		approvedBy, time.Now().UTC(), id)
}

func (r *RedemptionRepo) Deny(ctx context.Context, id int64) error {
	return r.transition(ctx, id, "PENDING", "DENIED",
		`UPDATE redemptions SET status = 'DENIED', approved_at = $1
		 WHERE id = $2 AND status = 'PENDING'`,
		time.Now().UTC(), id)
}

func (r *RedemptionRepo) Complete(ctx context.Context, id int64) error {
	return r.transition(ctx, id, "APPROVED", "COMPLETED",
		`UPDATE redemptions SET status = 'COMPLETED', completed_at = $1
		 WHERE id = $2 AND status = 'APPROVED'`,
		time.Now().UTC(), id)
}

func (r *RedemptionRepo) transition(ctx context.Context, id int64, from, to, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transitioning redemption %d to %s: %w", id, to, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("redemption %d is not %s", id, from)
	}
	return nil
}
