package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// InventoryRepo implements store.InventoryRepository with sqlx.
type InventoryRepo struct {
	db *sqlx.DB
}

// NewInventoryRepo returns a new InventoryRepo.
func NewInventoryRepo(db *sqlx.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

func (r *InventoryRepo) Add(ctx context.Context, userID int64, item store.InventoryItem, quantity int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inventory (user_id, item_id, item_name, category, tier, quantity, sell_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity`,
		userID, item.ItemID, item.ItemName, item.Category, item.Tier, quantity, item.SellValue,
	)
	if err != nil {
		return fmt.Errorf("adding inventory item: %w", err)
	}
	return nil
}

func (r *InventoryRepo) List(ctx context.Context, userID int64) ([]store.InventoryItem, error) {
	var items []store.InventoryItem
	err := r.db.SelectContext(ctx, &items,
		`SELECT * FROM inventory WHERE user_id = $1 AND quantity > 0 ORDER BY tier DESC, item_name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	return items, nil
}

func (r *InventoryRepo) Clear(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM inventory WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing inventory: %w", err)
	}
	return nil
}
