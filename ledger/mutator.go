/*
mutator.go - The atomic balance-adjust primitive

PURPOSE:
  Every point credit and debit in the system flows through this file.
  Apply performs the read-check-write-append sequence against a Tx;
  Mutator wraps it in a store transaction with bounded conflict retry.

INVARIANTS ENFORCED HERE:
  1. A debit never drives the balance negative. The check reads the
     balance through the same Tx that writes it - no check-then-act gap.
  2. Exactly one ledger entry per successful adjustment, written in the
     same transaction as the balance. Never zero, never two.
  3. A conflicted transaction is retried a bounded number of times with
     backoff, then surfaces ErrTransactionConflict.

LAZY CREATION:
  Flows differ on whether a missing account is an error. Recharge
  webhooks and campaign helpers may arrive before the account document
  exists; consumption must not conjure an account out of thin air.
  Mutator.LazyCreate selects the policy.

SEE ALSO:
  - store.go: Transaction contract
  - rewards: Policies deciding each delta
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// APPLY - In-transaction adjustment, reusable by multi-document flows
// =============================================================================

// Apply adjusts the balance and appends the paired ledger entry inside an
// already-open transaction. Referral and campaign flows call this so their
// credits commit atomically with their own documents.
//
// Returns the new balance.
func Apply(ctx context.Context, tx Tx, userID UserID, delta int64, typ EntryType, remark string, lazyCreate bool, at time.Time) (int64, error) {
	acct, err := tx.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		if !lazyCreate {
			return 0, ErrAccountNotFound
		}
		acct = &Account{
			ID:        userID,
			Points:    0,
			Level:     LevelStarter,
			Role:      RoleUser,
			CreatedAt: at,
		}
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return 0, err
		}
	}

	next := acct.Points + delta
	if next < 0 {
		return 0, &InsufficientBalanceError{
			UserID:    userID,
			Balance:   acct.Points,
			Requested: -delta,
		}
	}

	if err := tx.SetPoints(ctx, userID, next); err != nil {
		return 0, err
	}
	if err := tx.AppendEntry(ctx, Entry{
		ID:        EntryID(uuid.NewString()),
		UserID:    userID,
		Type:      typ,
		Amount:    delta,
		Remark:    remark,
		CreatedAt: at,
	}); err != nil {
		return 0, err
	}
	return next, nil
}

// =============================================================================
// MUTATOR - Transaction wrapper with bounded conflict retry
// =============================================================================

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 25 * time.Millisecond
)

// Mutator is the balance-adjustment entry point for single-account flows.
type Mutator struct {
	Store Store

	// LazyCreate controls whether a missing account is created with a
	// zero balance instead of failing with ErrAccountNotFound.
	LazyCreate bool

	// MaxAttempts bounds transaction retries on conflict. Zero means default.
	MaxAttempts int

	// Backoff is the base delay between attempts, scaled linearly. Zero
	// means default.
	Backoff time.Duration

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// NewMutator creates a Mutator with default retry settings.
func NewMutator(store Store) *Mutator {
	return &Mutator{Store: store}
}

func (m *Mutator) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Adjust atomically applies delta to the user's balance and appends the
// paired ledger entry. On ErrTransactionConflict the transaction is retried
// against the post-write state, up to MaxAttempts.
func (m *Mutator) Adjust(ctx context.Context, userID UserID, delta int64, typ EntryType, remark string) (int64, error) {
	var newBalance int64
	err := m.retry(ctx, func() error {
		return m.Store.WithTx(ctx, func(tx Tx) error {
			n, err := Apply(ctx, tx, userID, delta, typ, remark, m.LazyCreate, m.now())
			if err != nil {
				return err
			}
			newBalance = n
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Retry runs fn with the mutator's conflict-retry schedule. Exposed so the
// referral and campaign flows share one retry policy for their own
// multi-document transactions.
func (m *Mutator) Retry(ctx context.Context, fn func() error) error {
	return m.retry(ctx, fn)
}

func (m *Mutator) retry(ctx context.Context, fn func() error) error {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := m.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTransactionConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
