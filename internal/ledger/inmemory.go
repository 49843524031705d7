package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// inMemoryLedger serializes units of work behind a single lock and stages
// their writes until commit, which gives the same all-or-nothing, isolated
// behaviour the Postgres store gets from SERIALIZABLE transactions.
type inMemoryLedger struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
	byKey        map[string]string
	lines        map[string][]Line
	totals       map[string]Totals
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development.
func NewInMemory() Store {
	return &inMemoryLedger{
		transactions: make(map[string]Transaction),
		byKey:        make(map[string]string),
		lines:        make(map[string][]Line),
		totals:       make(map[string]Totals),
	}
}

func (l *inMemoryLedger) Totals(_ context.Context, accountID string) (Totals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals[accountID], nil
}

func (l *inMemoryLedger) TransactionByID(_ context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	txn, ok := l.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return txn, nil
}

func (l *inMemoryLedger) TransactionByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byKey[key]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return l.transactions[id], nil
}

func (l *inMemoryLedger) LinesByTransaction(_ context.Context, transactionID string) ([]Line, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lines := l.lines[transactionID]
	out := make([]Line, len(lines))
	copy(out, lines)
	return out, nil
}

func (l *inMemoryLedger) UpdateLine(context.Context, Line) error {
	return ErrImmutableLine
}

func (l *inMemoryLedger) DeleteLine(context.Context, string) error {
	return ErrImmutableLine
}

// WithinUnit holds the write lock for the whole unit; fn must only use tx.
func (l *inMemoryLedger) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	unit := &inMemoryTx{
		parent:       l,
		transactions: make(map[string]Transaction),
		byKey:        make(map[string]string),
	}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unit.commit()
	return nil
}

type inMemoryTx struct {
	parent       *inMemoryLedger
	transactions map[string]Transaction
	byKey        map[string]string
	lines        []Line
}

func (t *inMemoryTx) Totals(_ context.Context, accountID string) (Totals, error) {
	totals := t.parent.totals[accountID]
	for _, line := range t.lines {
		if line.AccountID == accountID {
			totals = totals.Add(line)
		}
	}
	return totals, nil
}

func (t *inMemoryTx) CreateTransaction(_ context.Context, txn Transaction) error {
	if txn.ID == "" || txn.IdempotencyKey == "" {
		return fmt.Errorf("transaction id and idempotency key are required")
	}
	if !txn.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, txn.Status)
	}
	if _, exists := t.parent.byKey[txn.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	if _, exists := t.byKey[txn.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}

	// The key becomes a map key, so it must not share memory with the caller.
	txn.IdempotencyKey = strings.Clone(txn.IdempotencyKey)
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = txn.CreatedAt

	t.transactions[txn.ID] = txn
	t.byKey[txn.IdempotencyKey] = txn.ID
	return nil
}

func (t *inMemoryTx) AppendLine(_ context.Context, line Line) error {
	if err := line.Validate(); err != nil {
		return err
	}
	if _, ok := t.lookup(line.TransactionID); !ok {
		return fmt.Errorf("transaction %s: %w", line.TransactionID, ErrNotFound)
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	t.lines = append(t.lines, line)
	return nil
}

func (t *inMemoryTx) TransitionStatus(_ context.Context, id string, to Status) (Transaction, error) {
	txn, ok := t.lookup(id)
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err := ValidateTransition(txn.Status, to); err != nil {
		return Transaction{}, err
	}
	txn.Status = to
	txn.UpdatedAt = time.Now().UTC()
	t.transactions[id] = txn
	return txn, nil
}

func (t *inMemoryTx) lookup(id string) (Transaction, bool) {
	if txn, ok := t.transactions[id]; ok {
		return txn, true
	}
	txn, ok := t.parent.transactions[id]
	return txn, ok
}

// commit applies staged writes; the caller holds the parent's write lock.
func (t *inMemoryTx) commit() {
	l := t.parent
	for id, txn := range t.transactions {
		l.transactions[id] = txn
		l.byKey[txn.IdempotencyKey] = id
	}
	for _, line := range t.lines {
		l.lines[line.TransactionID] = append(l.lines[line.TransactionID], line)
		l.totals[line.AccountID] = l.totals[line.AccountID].Add(line)
	}
}
