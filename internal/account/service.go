package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
)

// ErrForbidden is returned when the caller may not read the account.
var ErrForbidden = errors.New("account belongs to another user")

// Service exposes account reads backed by the registry and the ledger.
type Service struct {
	registry Registry
	balances *ledger.Deriver
}

// NewService builds an account service instance.
func NewService(registry Registry, balances *ledger.Deriver) *Service {
	return &Service{registry: registry, balances: balances}
}

// Balance returns the derived balance of accountID. Only the owner and system
// users may read it.
func (s *Service) Balance(ctx context.Context, principal auth.Principal, accountID string) (Balance, error) {
	acct, err := s.registry.Get(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	if !principal.IsSystemUser && acct.OwnerID != principal.UserID {
		return Balance{}, ErrForbidden
	}

	amount, err := s.balances.GetBalance(ctx, acct.ID)
	if err != nil {
		return Balance{}, fmt.Errorf("derive balance: %w", err)
	}
	return Balance{AccountID: acct.ID, Amount: amount, Currency: acct.Currency, AsOf: time.Now().UTC()}, nil
}
