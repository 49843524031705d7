package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/backend-ledger/backend_ledger/internal/account"
	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
	"github.com/backend-ledger/backend_ledger/internal/notification"
	"github.com/backend-ledger/backend_ledger/internal/retry"
)

const (
	maxIdempotencyKeyLength = 255
	maxAmountScale          = 4
)

// maxAmount is the largest value a NUMERIC(20,4) column holds.
var maxAmount = decimal.New(1, 16)

// Config tunes the posting retry loop.
type Config struct {
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMax      time.Duration
	NotifyTimeout time.Duration
}

// Service is the transfer engine. It validates requests, resolves
// idempotency keys and posts balanced transactions to the ledger.
type Service struct {
	store    ledger.Store
	index    *ledger.Index
	accounts account.Registry
	queue    notification.Queue
	logger   *slog.Logger
	cfg      Config

	pending sync.WaitGroup
}

// NewService constructs a transfer engine. queue may be nil to disable notifications.
func NewService(store ledger.Store, accounts account.Registry, queue notification.Queue, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 25 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Service{
		store:    store,
		index:    ledger.NewIndex(store),
		accounts: accounts,
		queue:    queue,
		logger:   logger,
		cfg:      cfg,
	}
}

// TransferInput captures the data needed to move funds between accounts.
type TransferInput struct {
	From           string
	To             string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// SeedInput captures a funds injection from a system account. SystemAccount
// defaults to the account owned by the calling system user.
type SeedInput struct {
	SystemAccount  string
	To             string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Result is a completed transaction. Replayed is set when the idempotency key
// had already been used and no new work was done.
type Result struct {
	Transaction ledger.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
}

// HTTPStatus is 201 for a new transfer and 200 for a replay.
func (r Result) HTTPStatus() int {
	if r.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// CreateTransfer moves amount from one account to another exactly once per
// idempotency key.
func (s *Service) CreateTransfer(ctx context.Context, principal auth.Principal, in TransferInput) (Result, error) {
	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	if in.From == "" || in.To == "" {
		return Result{}, invalid("fromAccount and toAccount are required")
	}
	if err := validateAmountAndKey(in.Amount, in.IdempotencyKey); err != nil {
		return Result{}, err
	}
	if in.From == in.To {
		return Result{}, sameAccount()
	}

	from, err := s.account(ctx, in.From, ReasonAccountNotFound)
	if err != nil {
		return Result{}, err
	}
	if principal.Authenticated() && !principal.IsSystemUser && from.OwnerID != principal.UserID {
		return Result{}, newError(KindForbidden, ReasonNotAccountOwner, "source account belongs to another user")
	}
	if err := s.requireAccount(ctx, in.To); err != nil {
		return Result{}, err
	}

	if res, done, err := s.replay(ctx, in.IdempotencyKey); done {
		return res, err
	}

	// Only a transfer that will actually post needs the destination's record.
	to, err := s.account(ctx, in.To, ReasonAccountNotFound)
	if err != nil {
		return Result{}, err
	}
	if !from.IsActive() || !to.IsActive() {
		return Result{}, newError(KindState, ReasonAccountInactive, "both accounts must be active")
	}

	txn := ledger.Transaction{
		ID:             uuid.NewString(),
		FromAccount:    from.ID,
		ToAccount:      to.ID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
		Kind:           ledger.KindTransfer,
		Status:         ledger.StatusPending,
	}
	res, err := s.post(ctx, txn, true)
	if err != nil {
		if e, ok := AsError(err); ok && e.Kind == KindTransientStorage {
			s.notify(ctx, notification.TransferFailed(principal.Email, principal.Name, in.Amount, to.ID))
		}
		return Result{}, err
	}

	if !res.Replayed {
		s.logger.Info("transfer completed",
			slog.String("transaction_id", res.Transaction.ID),
			slog.String("from", from.ID),
			slog.String("to", to.ID),
			slog.String("amount", in.Amount.String()))
		s.notify(ctx, notification.TransferCompleted(principal.Email, principal.Name, in.Amount, to.ID))
	}
	return res, nil
}

// CreateSeedTransfer injects funds from a system account into a user
// account. The system account has no balance floor.
func (s *Service) CreateSeedTransfer(ctx context.Context, principal auth.Principal, in SeedInput) (Result, error) {
	if !principal.IsSystemUser {
		return Result{}, newError(KindForbidden, ReasonSystemUserRequired, "only system users can inject funds")
	}

	in.To = strings.TrimSpace(in.To)
	in.SystemAccount = strings.TrimSpace(in.SystemAccount)
	if in.To == "" {
		return Result{}, invalid("toAccount is required")
	}
	if err := validateAmountAndKey(in.Amount, in.IdempotencyKey); err != nil {
		return Result{}, err
	}

	system, err := s.systemAccount(ctx, principal, in.SystemAccount)
	if err != nil {
		return Result{}, err
	}
	if system.ID == in.To {
		return Result{}, sameAccount()
	}
	to, err := s.account(ctx, in.To, ReasonAccountNotFound)
	if err != nil {
		return Result{}, err
	}

	if res, done, err := s.replay(ctx, in.IdempotencyKey); done {
		return res, err
	}

	if !to.IsActive() {
		return Result{}, newError(KindState, ReasonAccountInactive, "destination account must be active")
	}

	txn := ledger.Transaction{
		ID:             uuid.NewString(),
		FromAccount:    system.ID,
		ToAccount:      to.ID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
		Kind:           ledger.KindSeed,
		Status:         ledger.StatusPending,
	}
	res, err := s.post(ctx, txn, false)
	if err != nil {
		return Result{}, err
	}
	if !res.Replayed {
		s.logger.Info("seed transfer completed",
			slog.String("transaction_id", res.Transaction.ID),
			slog.String("system_account", system.ID),
			slog.String("to", to.ID),
			slog.String("amount", in.Amount.String()))
	}
	return res, nil
}

// Receipt is a transaction together with its ledger lines.
type Receipt struct {
	Transaction ledger.Transaction `json:"transaction"`
	Lines       []ledger.Line      `json:"lines"`
}

// LookupByKey returns the transaction created with key. Callers may only see
// transactions touching an account they own, unless they are system users.
func (s *Service) LookupByKey(ctx context.Context, principal auth.Principal, key string) (Receipt, error) {
	if strings.TrimSpace(key) == "" {
		return Receipt{}, invalid("idempotency key is required")
	}

	txn, found, err := s.index.Lookup(ctx, key)
	if err != nil {
		return Receipt{}, internal(err)
	}
	if !found {
		return Receipt{}, newError(KindNotFound, ReasonTransactionNotFound, "no transaction for this idempotency key")
	}

	if !principal.IsSystemUser {
		allowed, err := s.touchesOwnedAccount(ctx, principal, txn)
		if err != nil {
			return Receipt{}, internal(err)
		}
		if !allowed {
			// Indistinguishable from a missing key so keys can't be probed.
			return Receipt{}, newError(KindNotFound, ReasonTransactionNotFound, "no transaction for this idempotency key")
		}
	}

	lines, err := s.store.LinesByTransaction(ctx, txn.ID)
	if err != nil {
		return Receipt{}, internal(err)
	}
	return Receipt{Transaction: txn, Lines: lines}, nil
}

// Drain waits for in-flight notification dispatches to finish.
func (s *Service) Drain() {
	s.pending.Wait()
}

func validateAmountAndKey(amount decimal.Decimal, key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return invalid("idempotencyKey is required")
	case len(key) > maxIdempotencyKeyLength:
		return invalid(fmt.Sprintf("idempotencyKey must be at most %d characters", maxIdempotencyKeyLength))
	case !amount.IsPositive():
		return invalid("amount must be greater than zero")
	case !amount.Equal(amount.Truncate(maxAmountScale)):
		return invalid(fmt.Sprintf("amount supports at most %d decimal places", maxAmountScale))
	case amount.GreaterThanOrEqual(maxAmount):
		return invalid("amount is too large")
	}
	return nil
}

func sameAccount() *Error {
	return newError(KindValidation, ReasonSameAccount, "source and destination accounts must differ")
}

func (s *Service) account(ctx context.Context, id, notFoundReason string) (account.Account, error) {
	acct, err := s.accounts.Get(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, newError(KindNotFound, notFoundReason, fmt.Sprintf("account %s not found", id))
	}
	if err != nil {
		return account.Account{}, internal(fmt.Errorf("load account %s: %w", id, err))
	}
	return acct, nil
}

func (s *Service) requireAccount(ctx context.Context, id string) error {
	exists, err := s.accounts.Exists(ctx, id)
	if err != nil {
		return internal(fmt.Errorf("check account %s: %w", id, err))
	}
	if !exists {
		return newError(KindNotFound, ReasonAccountNotFound, fmt.Sprintf("account %s not found", id))
	}
	return nil
}

func (s *Service) systemAccount(ctx context.Context, principal auth.Principal, id string) (account.Account, error) {
	if id == "" {
		acct, err := s.accounts.GetByOwner(ctx, principal.UserID)
		if errors.Is(err, account.ErrNotFound) {
			return account.Account{}, newError(KindNotFound, ReasonSystemAccountNotFound, "no system account for this user")
		}
		if err != nil {
			return account.Account{}, internal(fmt.Errorf("load system account: %w", err))
		}
		return acct, nil
	}

	acct, err := s.account(ctx, id, ReasonSystemAccountNotFound)
	if err != nil {
		return account.Account{}, err
	}
	if acct.OwnerID != principal.UserID {
		return account.Account{}, newError(KindForbidden, ReasonNotAccountOwner, "system account belongs to another user")
	}
	return acct, nil
}

// replay resolves an already used idempotency key. done is false when the
// key is unclaimed and the caller should go on to post.
func (s *Service) replay(ctx context.Context, key string) (Result, bool, error) {
	existing, found, err := s.index.Lookup(ctx, key)
	if err != nil {
		return Result{}, true, internal(err)
	}
	if !found {
		return Result{}, false, nil
	}
	res, err := resolveExisting(existing)
	return res, true, err
}

func resolveExisting(txn ledger.Transaction) (Result, error) {
	switch txn.Status {
	case ledger.StatusCompleted:
		return Result{Transaction: txn, Replayed: true}, nil
	case ledger.StatusPending:
		return Result{}, newError(KindConflict, ReasonTransferProcessing, "a transfer with this idempotency key is still processing, retry later")
	case ledger.StatusFailed:
		return Result{}, newError(KindConflict, ReasonIdempotencyKeyFailed, "the transfer with this idempotency key failed, use a new key")
	case ledger.StatusReversed:
		return Result{}, newError(KindConflict, ReasonIdempotencyKeyReversed, "the transfer with this idempotency key was reversed, use a new key")
	default:
		return Result{}, internal(fmt.Errorf("transaction %s has unknown status %q", txn.ID, txn.Status))
	}
}

// post writes the transaction, its two lines and the COMPLETED transition in
// one unit, retrying serialization conflicts with backoff.
func (s *Service) post(ctx context.Context, txn ledger.Transaction, checkBalance bool) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, retry.Backoff(s.cfg.RetryBase, s.cfg.RetryMax, attempt-1)); err != nil {
				break
			}
		}

		completed, err := s.postOnce(ctx, txn, checkBalance)
		if err == nil {
			return Result{Transaction: completed}, nil
		}
		if _, ok := AsError(err); ok {
			return Result{}, err
		}

		// Whatever went wrong, the key may have been claimed meanwhile, or
		// the commit may have landed before the error surfaced.
		if res, done, lookupErr := s.recheck(ctx, txn); done {
			return res, lookupErr
		}

		lastErr = err
		if !errors.Is(err, ledger.ErrConflict) {
			break
		}
		s.logger.Warn("posting conflict, retrying",
			slog.String("idempotency_key", txn.IdempotencyKey),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}

	s.logger.Error("posting failed",
		slog.String("idempotency_key", txn.IdempotencyKey),
		slog.String("from", txn.FromAccount),
		slog.String("to", txn.ToAccount),
		slog.Any("error", lastErr))
	return Result{}, transient(lastErr)
}

func (s *Service) postOnce(ctx context.Context, txn ledger.Transaction, checkBalance bool) (ledger.Transaction, error) {
	var completed ledger.Transaction
	err := s.store.WithinUnit(ctx, func(ctx context.Context, tx ledger.Tx) error {
		// The key is claimed before the balance check so a concurrent
		// duplicate collides on the key.
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		if checkBalance {
			balance, err := ledger.BalanceOf(ctx, tx, txn.FromAccount)
			if err != nil {
				return err
			}
			if balance.LessThan(txn.Amount) {
				return insufficientFunds(txn.Amount.Sub(balance))
			}
		}

		if err := tx.AppendLine(ctx, ledger.Line{
			ID:            uuid.NewString(),
			AccountID:     txn.FromAccount,
			TransactionID: txn.ID,
			Amount:        txn.Amount,
			Type:          ledger.Debit,
		}); err != nil {
			return fmt.Errorf("append debit: %w", err)
		}
		if err := tx.AppendLine(ctx, ledger.Line{
			ID:            uuid.NewString(),
			AccountID:     txn.ToAccount,
			TransactionID: txn.ID,
			Amount:        txn.Amount,
			Type:          ledger.Credit,
		}); err != nil {
			return fmt.Errorf("append credit: %w", err)
		}

		var err error
		completed, err = tx.TransitionStatus(ctx, txn.ID, ledger.StatusCompleted)
		return err
	})
	return completed, err
}

// recheck consults the ledger after a failed unit. It uses a detached context
// so a cancelled request still learns whether its commit landed. A commit of
// txn itself is reported as a fresh result, not a replay.
func (s *Service) recheck(ctx context.Context, txn ledger.Transaction) (Result, bool, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	own, err := s.store.TransactionByID(lookupCtx, txn.ID)
	switch {
	case err == nil && own.Status == ledger.StatusCompleted:
		s.logger.Warn("unit reported failure after commit",
			slog.String("transaction_id", own.ID),
			slog.String("idempotency_key", own.IdempotencyKey))
		return Result{Transaction: own}, true, nil
	case err == nil:
		res, err := resolveExisting(own)
		return res, true, err
	case !errors.Is(err, ledger.ErrNotFound):
		s.logger.Warn("idempotency recheck failed", slog.String("transaction_id", txn.ID), slog.Any("error", err))
		return Result{}, false, nil
	}

	existing, found, err := s.index.Lookup(lookupCtx, txn.IdempotencyKey)
	if err != nil {
		s.logger.Warn("idempotency recheck failed", slog.String("idempotency_key", txn.IdempotencyKey), slog.Any("error", err))
		return Result{}, false, nil
	}
	if !found {
		return Result{}, false, nil
	}
	res, err := resolveExisting(existing)
	return res, true, err
}

func (s *Service) touchesOwnedAccount(ctx context.Context, principal auth.Principal, txn ledger.Transaction) (bool, error) {
	if !principal.Authenticated() {
		return false, nil
	}
	for _, id := range []string{txn.FromAccount, txn.ToAccount} {
		acct, err := s.accounts.Get(ctx, id)
		if errors.Is(err, account.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if acct.OwnerID == principal.UserID {
			return true, nil
		}
	}
	return false, nil
}

// notify hands message to the queue off the request path. Failures are logged
// and never change the transfer outcome.
func (s *Service) notify(ctx context.Context, message notification.Message) {
	if s.queue == nil || message.Destination == "" {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.queue.Dispatch(dispatchCtx, message); err != nil {
			s.logger.Warn("enqueue notification",
				slog.String("kind", message.Kind),
				slog.String("id", message.ID),
				slog.Any("error", err))
		}
	}()
}
