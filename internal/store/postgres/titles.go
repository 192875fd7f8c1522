package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// TitleRepo implements store.TitleRepository with sqlx.
type TitleRepo struct {
	db *sqlx.DB
}

// NewTitleRepo returns a new TitleRepo.
func NewTitleRepo(db *sqlx.DB) *TitleRepo {
	return &TitleRepo{db: db}
}

func (r *TitleRepo) GetByID(ctx context.Context, id int64) (*store.Title, error) {
	var t store.Title
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM titles WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting title: %w", err)
	}
	return &t, nil
}

func (r *TitleRepo) List(ctx context.Context) ([]store.Title, error) {
	var titles []store.Title
	if err := r.db.SelectContext(ctx, &titles, `SELECT * FROM titles ORDER BY display_order`); err != nil {
		return nil, fmt.Errorf("listing titles: %w", err)
	}
	return titles, nil
}

func (r *TitleRepo) Owned(ctx context.Context, userID int64) ([]store.Title, error) {
	var titles []store.Title
	err := r.db.SelectContext(ctx, &titles,
		`SELECT t.* FROM titles t
		 INNER JOIN owned_titles ot ON ot.title_id = t.id
		 WHERE ot.user_id = $1
		 ORDER BY t.display_order`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing owned titles: %w", err)
	}
	return titles, nil
}

func (r *TitleRepo) Grant(ctx context.Context, userID, titleID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO owned_titles (user_id, title_id, granted_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, title_id) DO NOTHING`,
		userID, titleID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("granting title: %w", err)
	}
	return nil
}
