/*
service.go - Reward orchestration over the ledger

PURPOSE:
  One service method per balance-affecting event. Each method runs a
  single store transaction (with the mutator's bounded conflict retry)
  so the idempotency check, the balance write, and the ledger entry
  commit together or not at all.

IDEMPOTENCY:
  Register:  second call for the same uid fails with ErrAccountExists
  Invite:    duplicate (inviter, invitee) fails with ErrAlreadyInvited
  Recharge:  replayed event ids fail with ErrDuplicateEvent
  All three checks happen inside the transaction that would write.

SEE ALSO:
  - policies.go: The amounts
  - ledger/mutator.go: Apply / retry semantics
*/
package rewards

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smartpicture/growth-engine/ledger"
)

// Service applies reward policies transactionally.
type Service struct {
	Store   ledger.Store
	Mutator *ledger.Mutator
	Policy  Policy
	Levels  LevelThresholds
	Rand    Rand

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// NewService wires a Service with default policy tables.
func NewService(store ledger.Store, rng Rand) *Service {
	return &Service{
		Store:   store,
		Mutator: ledger.NewMutator(store),
		Policy:  DefaultPolicy(),
		Levels:  DefaultLevelThresholds(),
		Rand:    rng,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates the account with the one-time registration credit.
// The existence check guards against re-granting: an account that already
// exists fails with ErrAccountExists before any write.
func (s *Service) Register(ctx context.Context, uid ledger.UserID) (int64, error) {
	var balance int64
	err := s.Mutator.Retry(ctx, func() error {
		return s.Store.WithTx(ctx, func(tx ledger.Tx) error {
			existing, err := tx.GetAccount(ctx, uid)
			if err != nil {
				return err
			}
			if existing != nil {
				return ledger.ErrAccountExists
			}
			if err := tx.CreateAccount(ctx, &ledger.Account{
				ID:        uid,
				Points:    0,
				Level:     ledger.LevelStarter,
				Role:      ledger.RoleUser,
				CreatedAt: s.now(),
			}); err != nil {
				return err
			}
			balance, err = ledger.Apply(ctx, tx, uid, s.Policy.RegistrationCredit,
				ledger.EntryReward, "registration reward", false, s.now())
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// =============================================================================
// REFERRAL
// =============================================================================

// InviteResult reports the rewards granted to both sides.
type InviteResult struct {
	InviterReward int64
	InviteeReward int64
}

// Invite credits both sides of a first-time (inviter, invitee) pair and
// records the referral, all in one transaction. Accounts are lazily
// created: an invitee may follow a share link before ever signing in.
func (s *Service) Invite(ctx context.Context, inviter, invitee ledger.UserID) (InviteResult, error) {
	var result InviteResult
	err := s.Mutator.Retry(ctx, func() error {
		return s.Store.WithTx(ctx, func(tx ledger.Tx) error {
			exists, err := tx.ReferralExists(ctx, inviter, invitee)
			if err != nil {
				return err
			}
			if exists {
				return ledger.ErrAlreadyInvited
			}

			at := s.now()
			inviterReward := s.Policy.DrawInviterReward(s.Rand)
			inviteeReward := s.Policy.DrawInviteeReward(s.Rand)

			if _, err := ledger.Apply(ctx, tx, inviter, inviterReward,
				ledger.EntryReward, "referral reward", true, at); err != nil {
				return err
			}
			if _, err := ledger.Apply(ctx, tx, invitee, inviteeReward,
				ledger.EntryReward, "welcome referral reward", true, at); err != nil {
				return err
			}
			if err := tx.SetInvitedBy(ctx, invitee, inviter); err != nil {
				return err
			}
			if err := tx.CreateReferral(ctx, ledger.Referral{
				ID:            uuid.NewString(),
				InviterID:     inviter,
				InviteeID:     invitee,
				InviterReward: inviterReward,
				InviteeReward: inviteeReward,
				CreatedAt:     at,
			}); err != nil {
				return err
			}

			result = InviteResult{InviterReward: inviterReward, InviteeReward: inviteeReward}
			return nil
		})
	})
	if err != nil {
		return InviteResult{}, err
	}
	return result, nil
}

// =============================================================================
// CONSUMPTION / GRANT / RECHARGE
// =============================================================================

// Consume debits the feature's configured cost.
func (s *Service) Consume(ctx context.Context, uid ledger.UserID, feature string) (int64, error) {
	cost := s.Policy.CostOf(feature)
	return s.Mutator.Adjust(ctx, uid, -cost, ledger.EntryConsume, "use "+feature)
}

// Grant credits an admin-specified amount. Role enforcement happens at the
// transport boundary, before this is reached.
func (s *Service) Grant(ctx context.Context, uid ledger.UserID, amount int64) (int64, error) {
	return s.Mutator.Adjust(ctx, uid, amount, ledger.EntryReward, "manual admin grant")
}

// Recharge credits purchased points from a payment-completion event.
// Re-delivery of the same event id is rejected inside the transaction,
// before any credit.
func (s *Service) Recharge(ctx context.Context, eventID string, uid ledger.UserID, points int64) (int64, error) {
	var balance int64
	err := s.Mutator.Retry(ctx, func() error {
		return s.Store.WithTx(ctx, func(tx ledger.Tx) error {
			if eventID != "" {
				if err := tx.MarkEventProcessed(ctx, eventID); err != nil {
					return err
				}
			}
			var err error
			balance, err = ledger.Apply(ctx, tx, uid, points,
				ledger.EntryRecharge, "points recharge", true, s.now())
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// =============================================================================
// SCHEDULED JOBS
// =============================================================================

// DailyBonus credits every account with the daily bonus. Each account is
// its own transaction; one failure does not block the rest.
func (s *Service) DailyBonus(ctx context.Context) (credited int, firstErr error) {
	ids, err := s.Store.ListAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.Mutator.Adjust(ctx, id, s.Policy.DailyBonus, ledger.EntryReward, "daily bonus"); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		credited++
	}
	return credited, firstErr
}

// RefreshLevels recomputes every account's level from its referral count.
func (s *Service) RefreshLevels(ctx context.Context) (updated int, firstErr error) {
	ids, err := s.Store.ListAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		invites, err := s.Store.CountReferrals(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		level := s.Levels.LevelFor(invites)
		err = s.Store.WithTx(ctx, func(tx ledger.Tx) error {
			acct, err := tx.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			if acct == nil || acct.Level == level {
				return nil
			}
			return tx.SetLevel(ctx, id, level)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updated++
	}
	return updated, firstErr
}
