package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Index resolves idempotency keys to the transaction that claimed them.
// Uniqueness itself is enforced by the store; the index only reads.
type Index struct {
	store Store
}

// NewIndex builds an idempotency index over the ledger store.
func NewIndex(store Store) *Index {
	return &Index{store: store}
}

// Lookup returns the transaction created with key, if any.
func (i *Index) Lookup(ctx context.Context, key string) (Transaction, bool, error) {
	txn, err := i.store.TransactionByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return txn, true, nil
}
