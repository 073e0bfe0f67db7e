package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	ledgersvc "github.com/cardverse/token_layer/internal/app/services/ledger"
	"github.com/cardverse/token_layer/internal/app/storage/memory"
	"github.com/cardverse/token_layer/pkg/logger"
)

func TestService(t *testing.T) {
	store := memory.New()
	ledgerSvc := ledgersvc.New(store, ledgersvc.DefaultPricing(), nil, logger.NewNop())
	svc := New(store, ledgerSvc, nil)
	ctx := context.Background()

	u, err := svc.Create(ctx, "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatalf("expected id to be generated")
	}
	if u.Balance != 15 {
		t.Fatalf("expected initial balance 15, got %d", u.Balance)
	}

	history, err := ledgerSvc.ListTransactions(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(history) != 1 || history[0].Kind != ledger.KindInitialBalance || history[0].From != ledger.SystemAccount {
		t.Fatalf("expected one initial balance transaction, got %+v", history)
	}

	if _, err := svc.Create(ctx, "ALICE@example.com", "other"); !errors.Is(err, user.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}

	name := "ada"
	image := " https://img/ada.png "
	updated, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Username: &name, ProfileImage: &image})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Username != "ada" || updated.ProfileImage != "https://img/ada.png" {
		t.Fatalf("profile not updated: %+v", updated)
	}
	if updated.Balance != 15 {
		t.Fatalf("profile update changed balance: %d", updated.Balance)
	}

	empty := " "
	if _, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Username: &empty}); err == nil {
		t.Fatalf("expected empty username to be rejected")
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 user, got %d", len(list))
	}
}

func TestServiceValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "not-an-email", "bob"); err == nil {
		t.Fatalf("expected invalid email to fail")
	}
	if _, err := svc.Create(ctx, "bob@example.com", ""); err == nil {
		t.Fatalf("expected missing username to fail")
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
