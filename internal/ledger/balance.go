package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals are the summed credit and debit amounts of one account.
type Totals struct {
	Credits decimal.Decimal
	Debits  decimal.Decimal
}

// Balance is credits minus debits.
func (t Totals) Balance() decimal.Decimal {
	return t.Credits.Sub(t.Debits)
}

// Add folds a line into the totals.
func (t Totals) Add(line Line) Totals {
	switch line.Type {
	case Credit:
		t.Credits = t.Credits.Add(line.Amount)
	case Debit:
		t.Debits = t.Debits.Add(line.Amount)
	}
	return t
}

// BalanceOf derives the balance of accountID from r. Pass the unit's Tx to
// read through the same view the unit writes to.
func BalanceOf(ctx context.Context, r TotalsReader, accountID string) (decimal.Decimal, error) {
	totals, err := r.Totals(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("totals for account %s: %w", accountID, err)
	}
	return totals.Balance(), nil
}

// Deriver computes account balances from the ledger on demand.
type Deriver struct {
	store TotalsReader
}

// NewDeriver builds a Deriver over the given ledger.
func NewDeriver(store TotalsReader) *Deriver {
	return &Deriver{store: store}
}

// GetBalance returns the derived balance, zero for an account without lines.
func (d *Deriver) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return BalanceOf(ctx, d.store, accountID)
}
