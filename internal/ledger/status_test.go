package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusReversed, true},
		{StatusPending, StatusReversed, false},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPending, false},
		{StatusReversed, StatusCompleted, false},
		{StatusReversed, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusCompleted.IsTerminal() {
		t.Fatalf("PENDING and COMPLETED must not be terminal")
	}
	if !StatusFailed.IsTerminal() || !StatusReversed.IsTerminal() {
		t.Fatalf("FAILED and REVERSED must be terminal")
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StatusPending, StatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateTransition(StatusFailed, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := ValidateTransition("SETTLED", StatusCompleted); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("REVERSED")
	if err != nil || status != StatusReversed {
		t.Fatalf("expected REVERSED, got %q (%v)", status, err)
	}
	if _, err := ParseStatus("reversed"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("statuses are case sensitive, got %v", err)
	}
}

func TestInMemoryLedger_TransitionStatusEnforcesLifecycle(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	txn := Transaction{ID: "txn-1", FromAccount: "acct:a", ToAccount: "acct:b", IdempotencyKey: "life", Status: StatusFailed}
	if err := SeedTransaction(ctx, l, txn); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := l.WithinUnit(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.TransitionStatus(ctx, txn.ID, StatusCompleted)
		return err
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	stored, _ := l.TransactionByID(ctx, txn.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("status must stay FAILED, got %s", stored.Status)
	}
}
