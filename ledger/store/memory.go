// Package store provides the in-memory Store implementation.
package store

import (
	"context"
	"sync"

	"github.com/smartpicture/growth-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store with maps guarded by one mutex.
// Transactions are serialized by the lock, so every WithTx observes the
// state left by the previous one - the same linearizable read-modify-write
// a real document store's transaction primitive provides.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.UserID]ledger.Account
	entries   map[ledger.UserID][]ledger.Entry
	campaigns map[ledger.CampaignID]ledger.Campaign
	referrals []ledger.Referral
	pairs     map[pairKey]bool
	events    map[string]bool

	// ConflictHook, when set, runs before each transaction body. Tests use
	// it to inject ledger.ErrTransactionConflict and exercise retry paths.
	ConflictHook func() error
}

type pairKey struct {
	Inviter ledger.UserID
	Invitee ledger.UserID
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[ledger.UserID]ledger.Account),
		entries:   make(map[ledger.UserID][]ledger.Entry),
		campaigns: make(map[ledger.CampaignID]ledger.Campaign),
		pairs:     make(map[pairKey]bool),
		events:    make(map[string]bool),
	}
}

// =============================================================================
// READER
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id ledger.UserID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id), nil
}

func (m *Memory) getAccountLocked(id ledger.UserID) *ledger.Account {
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	cp := a
	return &cp
}

func (m *Memory) ListAccountIDs(_ context.Context) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ledger.UserID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) ListEntries(_ context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.entries[id]
	// Newest first.
	result := make([]ledger.Entry, len(src))
	for i, e := range src {
		result[len(src)-1-i] = e
	}
	return result, nil
}

func (m *Memory) GetCampaign(_ context.Context, id ledger.CampaignID) (*ledger.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCampaignLocked(id), nil
}

func (m *Memory) getCampaignLocked(id ledger.CampaignID) *ledger.Campaign {
	c, ok := m.campaigns[id]
	if !ok {
		return nil
	}
	cp := c
	cp.Helpers = append([]ledger.UserID(nil), c.Helpers...)
	return &cp
}

func (m *Memory) ReferralExists(_ context.Context, inviter, invitee ledger.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pairs[pairKey{inviter, invitee}], nil
}

func (m *Memory) CountReferrals(_ context.Context, inviter ledger.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.referrals {
		if r.InviterID == inviter {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot, run, rollback on error
// =============================================================================

// WithTx executes fn under the store lock. On error the pre-transaction
// snapshot is restored, so a failed body leaves no partial writes.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ConflictHook != nil {
		if err := m.ConflictHook(); err != nil {
			return err
		}
	}

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts  map[ledger.UserID]ledger.Account
	entries   map[ledger.UserID][]ledger.Entry
	campaigns map[ledger.CampaignID]ledger.Campaign
	referrals []ledger.Referral
	pairs     map[pairKey]bool
	events    map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:  make(map[ledger.UserID]ledger.Account, len(m.accounts)),
		entries:   make(map[ledger.UserID][]ledger.Entry, len(m.entries)),
		campaigns: make(map[ledger.CampaignID]ledger.Campaign, len(m.campaigns)),
		referrals: append([]ledger.Referral(nil), m.referrals...),
		pairs:     make(map[pairKey]bool, len(m.pairs)),
		events:    make(map[string]bool, len(m.events)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = append([]ledger.Entry(nil), v...)
	}
	for k, v := range m.campaigns {
		cp := v
		cp.Helpers = append([]ledger.UserID(nil), v.Helpers...)
		s.campaigns[k] = cp
	}
	for k, v := range m.pairs {
		s.pairs[k] = v
	}
	for k, v := range m.events {
		s.events[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.campaigns = s.campaigns
	m.referrals = s.referrals
	m.pairs = s.pairs
	m.events = s.events
}

// txView writes directly to the parent; WithTx holds the lock and rolls
// back via snapshot on error.
type txView struct {
	parent *Memory
}

func (t *txView) GetAccount(_ context.Context, id ledger.UserID) (*ledger.Account, error) {
	return t.parent.getAccountLocked(id), nil
}

func (t *txView) ListAccountIDs(ctx context.Context) ([]ledger.UserID, error) {
	ids := make([]ledger.UserID, 0, len(t.parent.accounts))
	for id := range t.parent.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *txView) ListEntries(_ context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	src := t.parent.entries[id]
	result := make([]ledger.Entry, len(src))
	for i, e := range src {
		result[len(src)-1-i] = e
	}
	return result, nil
}

func (t *txView) GetCampaign(_ context.Context, id ledger.CampaignID) (*ledger.Campaign, error) {
	return t.parent.getCampaignLocked(id), nil
}

func (t *txView) ReferralExists(_ context.Context, inviter, invitee ledger.UserID) (bool, error) {
	return t.parent.pairs[pairKey{inviter, invitee}], nil
}

func (t *txView) CountReferrals(_ context.Context, inviter ledger.UserID) (int, error) {
	n := 0
	for _, r := range t.parent.referrals {
		if r.InviterID == inviter {
			n++
		}
	}
	return n, nil
}

func (t *txView) CreateAccount(_ context.Context, a *ledger.Account) error {
	if _, ok := t.parent.accounts[a.ID]; ok {
		return ledger.ErrAccountExists
	}
	t.parent.accounts[a.ID] = *a
	return nil
}

func (t *txView) SetPoints(_ context.Context, id ledger.UserID, points int64) error {
	a, ok := t.parent.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Points = points
	t.parent.accounts[id] = a
	return nil
}

func (t *txView) SetInvitedBy(_ context.Context, id, inviter ledger.UserID) error {
	a, ok := t.parent.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.InvitedBy = inviter
	t.parent.accounts[id] = a
	return nil
}

func (t *txView) SetLevel(_ context.Context, id ledger.UserID, level ledger.Level) error {
	a, ok := t.parent.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Level = level
	t.parent.accounts[id] = a
	return nil
}

func (t *txView) AppendEntry(_ context.Context, e ledger.Entry) error {
	t.parent.entries[e.UserID] = append(t.parent.entries[e.UserID], e)
	return nil
}

func (t *txView) PutCampaign(_ context.Context, c *ledger.Campaign) error {
	cp := *c
	cp.Helpers = append([]ledger.UserID(nil), c.Helpers...)
	t.parent.campaigns[c.ID] = cp
	return nil
}

func (t *txView) CreateReferral(_ context.Context, r ledger.Referral) error {
	k := pairKey{r.InviterID, r.InviteeID}
	if t.parent.pairs[k] {
		return ledger.ErrAlreadyInvited
	}
	t.parent.pairs[k] = true
	t.parent.referrals = append(t.parent.referrals, r)
	return nil
}

func (t *txView) MarkEventProcessed(_ context.Context, eventID string) error {
	if t.parent.events[eventID] {
		return ledger.ErrDuplicateEvent
	}
	t.parent.events[eventID] = true
	return nil
}
