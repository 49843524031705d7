package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *MemoryRegistry, ledger.Store) {
	t.Helper()
	registry := NewMemoryRegistry()
	store := ledger.NewInMemory()
	return NewService(registry, ledger.NewDeriver(store)), registry, store
}

func TestServiceBalance(t *testing.T) {
	svc, registry, store := newTestService(t)
	ctx := context.Background()

	ownerID := uuid.NewString()
	acct := Account{ID: uuid.NewString(), OwnerID: ownerID, Currency: "INR", Status: StatusActive, CreatedAt: time.Now()}
	registry.Put(acct)

	if err := ledger.SeedBalance(ctx, store, acct.ID, 2_500); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	balance, err := svc.Balance(ctx, auth.Principal{UserID: ownerID}, acct.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(2_500)) {
		t.Fatalf("expected balance 2500, got %s", balance.Amount)
	}
	if balance.Currency != "INR" || balance.AccountID != acct.ID {
		t.Fatalf("unexpected balance view: %+v", balance)
	}
}

func TestServiceBalanceAccess(t *testing.T) {
	svc, registry, _ := newTestService(t)
	ctx := context.Background()

	acct := Account{ID: uuid.NewString(), OwnerID: uuid.NewString(), Status: StatusActive}
	registry.Put(acct)

	if _, err := svc.Balance(ctx, auth.Principal{UserID: uuid.NewString()}, acct.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if _, err := svc.Balance(ctx, auth.Principal{UserID: uuid.NewString(), IsSystemUser: true}, acct.ID); err != nil {
		t.Fatalf("system user must read any balance: %v", err)
	}
	if _, err := svc.Balance(ctx, auth.Principal{UserID: acct.OwnerID}, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRegistry(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()
	owner := uuid.NewString()

	older := Account{ID: "acct-old", OwnerID: owner, Status: StatusActive, CreatedAt: time.Now().Add(-time.Hour)}
	newer := Account{ID: "acct-new", OwnerID: owner, Status: StatusActive, CreatedAt: time.Now()}
	registry.Put(newer)
	registry.Put(older)

	got, err := registry.GetByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if got.ID != older.ID {
		t.Fatalf("expected oldest account %s, got %s", older.ID, got.ID)
	}

	if exists, _ := registry.Exists(ctx, "acct-new"); !exists {
		t.Fatalf("expected acct-new to exist")
	}
	if exists, _ := registry.Exists(ctx, "acct-missing"); exists {
		t.Fatalf("expected acct-missing to be absent")
	}

	if err := registry.SetStatus("acct-new", StatusFrozen); err != nil {
		t.Fatalf("set status: %v", err)
	}
	frozen, _ := registry.Get(ctx, "acct-new")
	if frozen.IsActive() {
		t.Fatalf("frozen account must not be active")
	}
	if _, err := registry.GetByOwner(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
