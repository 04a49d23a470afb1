/*
Package ledger provides the core points-ledger engine.

PURPOSE:
  This package contains the document model and the balance-mutation
  primitive shared by every growth feature (referrals, price-cut
  campaigns, admin grants, recharges, feature consumption). The rules
  are simple and strict:
  - An account's point balance is a non-negative integer.
  - Every balance change writes exactly one immutable ledger entry,
    in the same store transaction as the balance write.
  - All coordination happens through the store's transaction primitive;
    there is no in-process shared state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A user's balance document (points, level, role, inviter)
  - Entry: An immutable ledger record (reward/consume/recharge)
  - Campaign: A shared price-cut record with an append-only helper set
  - Referral: An append-only (inviter, invitee) reward record

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified after the fact
  2. Precision: Campaign prices use decimal.Decimal, never float math
  3. Type Safety: Distinct ID types prevent mixing user/campaign IDs
  4. Auditability: Every entry carries a remark explaining the change

SEE ALSO:
  - store.go: Transactional persistence interfaces
  - mutator.go: The atomic balance-adjust primitive
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type CampaignID string
type EntryID string

// =============================================================================
// ACCOUNT - Per-user balance document
// =============================================================================

// Role controls access to admin-only operations.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Level is derived from the account's referral count. It never affects
// balance math; it exists for display and marketing segmentation.
type Level string

const (
	LevelStarter Level = "starter"
	LevelBronze  Level = "bronze"
	LevelSilver  Level = "silver"
	LevelGold    Level = "gold"
	LevelDiamond Level = "diamond"
)

// Account is the per-user balance document.
//
// INVARIANT: Points >= 0 at all times. Any mutation that would drive it
// negative must fail inside the store transaction, before any write.
type Account struct {
	ID        UserID
	Points    int64
	Level     Level
	Role      Role
	InvitedBy UserID // empty when the user was not referred
	CreatedAt time.Time
}

// =============================================================================
// ENTRY - Immutable ledger record, one per balance mutation
// =============================================================================

type EntryType string

const (
	EntryReward   EntryType = "reward"   // credits: registration, referral, campaign help, grants
	EntryConsume  EntryType = "consume"  // debits: feature usage
	EntryRecharge EntryType = "recharge" // credits: paid top-ups
)

// Entry records a single balance change. Amount is signed: positive for
// credits, negative for debits, and always equals the exact delta applied
// to the owning account in the same transaction.
//
// Entries are APPEND-ONLY. No update, no delete. Corrections are made by
// writing a compensating entry.
type Entry struct {
	ID        EntryID
	UserID    UserID
	Type      EntryType
	Amount    int64
	Remark    string
	CreatedAt time.Time
}

// =============================================================================
// CAMPAIGN - Shared price-cut document
// =============================================================================

type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignClosed CampaignStatus = "closed"
)

// Campaign is the shared document behind a "help cut the price" run.
//
// INVARIANTS:
//   - TargetPrice <= CurrentPrice <= OriginalPrice
//   - CurrentPrice is monotonically non-increasing
//   - Helpers contains each user at most once
type Campaign struct {
	ID            CampaignID
	Creator       UserID
	OriginalPrice decimal.Decimal
	TargetPrice   decimal.Decimal
	CurrentPrice  decimal.Decimal
	Helpers       []UserID
	Status        CampaignStatus
	LastScenario  string
	CreatedAt     time.Time
}

// HasHelper reports whether the user already participated.
func (c *Campaign) HasHelper(id UserID) bool {
	for _, h := range c.Helpers {
		if h == id {
			return true
		}
	}
	return false
}

// AtFloor reports whether the price can no longer drop.
func (c *Campaign) AtFloor() bool {
	return c.CurrentPrice.LessThanOrEqual(c.TargetPrice)
}

// =============================================================================
// REFERRAL - Append-only invite record
// =============================================================================

// Referral records one successful (inviter, invitee) reward event.
//
// INVARIANT: a given pair is recorded at most once. The existence check
// and the write happen in the same store transaction.
type Referral struct {
	ID            string
	InviterID     UserID
	InviteeID     UserID
	InviterReward int64
	InviteeReward int64
	CreatedAt     time.Time
}
