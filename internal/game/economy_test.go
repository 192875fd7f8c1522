package game

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

func newTestEconomy(t *testing.T) (*Economy, *store.Repositories) {
	t.Helper()
	repos := newMemRepos()
	return NewEconomy(repos.Users, repos.Inventory, slog.Default(), noop.NewTracerProvider()), repos
}

func createUser(t *testing.T, repos *store.Repositories, name string) *store.User {
	t.Helper()
	u := &store.User{TwitchName: name}
	if err := repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

func TestEconomy_SellAll(t *testing.T) {
	econ, repos := newTestEconomy(t)
	ctx := context.Background()
	u := createUser(t, repos, "seller")

	if err := repos.Inventory.Add(ctx, u.ID, store.InventoryItem{ItemID: "a", SellValue: 100}, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := repos.Inventory.Add(ctx, u.ID, store.InventoryItem{ItemID: "b", SellValue: 50}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	total, count, err := econ.SellAll(ctx, u.ID)
	if err != nil {
		t.Fatalf("SellAll: %v", err)
	}
	if total != 250 || count != 3 {
		t.Errorf("SellAll = (%d, %d), want (250, 3)", total, count)
	}

	got, _ := repos.Users.GetByID(ctx, u.ID)
	if got.Credits != 250 || got.LifetimeEarned != 250 {
		t.Errorf("credits = (%d, %d), want (250, 250)", got.Credits, got.LifetimeEarned)
	}

	items, _ := repos.Inventory.List(ctx, u.ID)
	if len(items) != 0 {
		t.Errorf("inventory not cleared: %v", items)
	}

	// Selling an empty inventory is a zero-result, not an error.
	total, count, err = econ.SellAll(ctx, u.ID)
	if err != nil || total != 0 || count != 0 {
		t.Errorf("empty SellAll = (%d, %d, %v), want (0, 0, nil)", total, count, err)
	}
}

func TestEconomy_SpendAndRefund(t *testing.T) {
	econ, repos := newTestEconomy(t)
	ctx := context.Background()
	u := createUser(t, repos, "spender")
	if err := repos.Users.UpdateCredits(ctx, u.ID, 1000, 1000, 0); err != nil {
		t.Fatalf("UpdateCredits: %v", err)
	}

	if err := econ.Spend(ctx, u.ID, 400); err != nil {
		t.Fatalf("Spend: %v", err)
	}
	got, _ := repos.Users.GetByID(ctx, u.ID)
	if got.Credits != 600 || got.LifetimeSpent != 400 {
		t.Errorf("after spend: credits=%d spent=%d, want 600/400", got.Credits, got.LifetimeSpent)
	}

	// Overspending fails without touching the balance.
	err := econ.Spend(ctx, u.ID, 601)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("overspend error = %v, want ErrInsufficientCredits", err)
	}
	got, _ = repos.Users.GetByID(ctx, u.ID)
	if got.Credits != 600 {
		t.Errorf("balance changed on failed spend: %d", got.Credits)
	}

	if err := econ.Refund(ctx, u.ID, 400); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	got, _ = repos.Users.GetByID(ctx, u.ID)
	if got.Credits != 1000 || got.LifetimeSpent != 0 {
		t.Errorf("after refund: credits=%d spent=%d, want 1000/0", got.Credits, got.LifetimeSpent)
	}

	// Refund larger than lifetime spend floors the counter at zero.
	if err := econ.Refund(ctx, u.ID, 500); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	got, _ = repos.Users.GetByID(ctx, u.ID)
	if got.LifetimeSpent != 0 {
		t.Errorf("lifetime spent = %d, want floor at 0", got.LifetimeSpent)
	}
}
