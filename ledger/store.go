/*
store.go - Transactional persistence interfaces

PURPOSE:
  Defines the boundary between the engine and the document store. The
  engine only requires:
  (a) point-reads of documents by key,
  (b) an atomic transaction covering reads and conditional writes across
      one or more documents,
  (c) append-to-ledger within the same transaction.

TRANSACTION CONTRACT:
  WithTx executes fn against a transactional view. If fn returns an
  error, nothing is written. If the commit loses a race with a
  concurrent transaction on the same documents, WithTx returns
  ErrTransactionConflict and the caller retries against the post-write
  state. Per-document histories are therefore linearizable: one
  read-modify-write wins, the others observe its result.

APPEND-ONLY CONTRACT:
  There is no update or delete for ledger entries or referral records.
  AppendEntry and CreateReferral are the only write paths, and both are
  insert-only.

IMPLEMENTATIONS:
  - ledger/store: in-memory store for tests and development
  - store/sqlite: production SQLite store (WAL)

SEE ALSO:
  - mutator.go: The canonical WithTx consumer
*/
package ledger

import "context"

// =============================================================================
// READER - Point reads, usable inside or outside a transaction
// =============================================================================

// Reader provides read access to the document model.
// Missing documents are reported as (nil, nil) / (false, nil), not errors;
// callers decide whether absence is exceptional.
type Reader interface {
	// GetAccount returns the account document, or nil if absent.
	GetAccount(ctx context.Context, id UserID) (*Account, error)

	// ListAccountIDs returns every account id. Used by scheduled jobs.
	ListAccountIDs(ctx context.Context) ([]UserID, error)

	// ListEntries returns the user's ledger history, newest first.
	ListEntries(ctx context.Context, id UserID) ([]Entry, error)

	// GetCampaign returns the campaign document, or nil if absent.
	GetCampaign(ctx context.Context, id CampaignID) (*Campaign, error)

	// ReferralExists reports whether the (inviter, invitee) pair is recorded.
	ReferralExists(ctx context.Context, inviter, invitee UserID) (bool, error)

	// CountReferrals returns how many invitees the user has referred.
	CountReferrals(ctx context.Context, inviter UserID) (int, error)
}

// =============================================================================
// TX - Transactional view passed to WithTx callbacks
// =============================================================================

// Tx extends Reader with writes. All writes performed through a Tx become
// visible atomically when WithTx commits, or not at all.
type Tx interface {
	Reader

	// CreateAccount inserts a new account. Fails with ErrAccountExists
	// if the id is taken.
	CreateAccount(ctx context.Context, a *Account) error

	// SetPoints overwrites the account's balance. The caller has already
	// read the current balance through this same Tx.
	SetPoints(ctx context.Context, id UserID, points int64) error

	// SetInvitedBy records the inviter back-reference.
	SetInvitedBy(ctx context.Context, id, inviter UserID) error

	// SetLevel overwrites the derived level.
	SetLevel(ctx context.Context, id UserID, level Level) error

	// AppendEntry inserts one immutable ledger entry.
	AppendEntry(ctx context.Context, e Entry) error

	// PutCampaign creates or replaces the campaign document.
	PutCampaign(ctx context.Context, c *Campaign) error

	// CreateReferral inserts a referral record. Fails with
	// ErrAlreadyInvited if the pair is already recorded.
	CreateReferral(ctx context.Context, r Referral) error

	// MarkEventProcessed records an external event id for webhook
	// deduplication. Fails with ErrDuplicateEvent on replay.
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// =============================================================================
// STORE - Reader plus the transaction primitive
// =============================================================================

// Store is the full persistence surface the engine is constructed with.
// It is passed in explicitly; the engine never reaches for a process-wide
// singleton.
type Store interface {
	Reader

	// WithTx executes fn atomically. fn may be invoked more than once if
	// the implementation retries internally; it must be side-effect free
	// outside the Tx.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
