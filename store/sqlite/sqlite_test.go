package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpicture/growth-engine/ledger"
	"github.com/smartpicture/growth-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccount_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, &ledger.Account{
			ID:        "u1",
			Points:    40,
			Level:     ledger.LevelBronze,
			Role:      ledger.RoleAdmin,
			InvitedBy: "u0",
			CreatedAt: created,
		})
	}))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, int64(40), acct.Points)
	assert.Equal(t, ledger.LevelBronze, acct.Level)
	assert.Equal(t, ledger.RoleAdmin, acct.Role)
	assert.Equal(t, ledger.UserID("u0"), acct.InvitedBy)
	assert.True(t, acct.CreatedAt.Equal(created))

	missing, err := s.GetAccount(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateAccount_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := &ledger.Account{ID: "u1", CreatedAt: time.Now()}
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error { return tx.CreateAccount(ctx, a) }))

	err := s.WithTx(ctx, func(tx ledger.Tx) error { return tx.CreateAccount(ctx, a) })
	require.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, &ledger.Account{ID: "u1", CreatedAt: time.Now()}))
		require.NoError(t, tx.AppendEntry(ctx, ledger.Entry{
			ID: "e1", UserID: "u1", Type: ledger.EntryReward, Amount: 5, CreatedAt: time.Now(),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, _ := s.GetAccount(ctx, "u1")
	assert.Nil(t, acct, "rolled-back account must not exist")
	entries, _ := s.ListEntries(ctx, "u1")
	assert.Empty(t, entries)
}

func TestListEntries_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		for i, id := range []string{"e1", "e2", "e3"} {
			e := ledger.Entry{
				ID: ledger.EntryID(id), UserID: "u1", Type: ledger.EntryReward,
				Amount: 1, CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			if err := tx.AppendEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	entries, err := s.ListEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntryID("e3"), entries[0].ID)
	assert.Equal(t, ledger.EntryID("e1"), entries[2].ID)
}

func TestCampaign_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	c := &ledger.Campaign{
		ID:            "c1",
		Creator:       "u1",
		OriginalPrice: decimal.NewFromInt(100),
		TargetPrice:   decimal.NewFromInt(15),
		CurrentPrice:  decimal.NewFromFloat(92.5),
		Helpers:       []ledger.UserID{"h1", "h2"},
		Status:        ledger.CampaignActive,
		LastScenario:  "smallCut",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error { return tx.PutCampaign(ctx, c) }))

	got, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromFloat(92.5)))
	assert.Equal(t, []ledger.UserID{"h1", "h2"}, got.Helpers)
	assert.Equal(t, "smallCut", got.LastScenario)

	// Put again is an upsert: price and helpers move, the rest stays.
	c.CurrentPrice = decimal.NewFromInt(80)
	c.Helpers = append(c.Helpers, "h3")
	c.LastScenario = "bigCut"
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error { return tx.PutCampaign(ctx, c) }))

	got, err = s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(80)))
	assert.Len(t, got.Helpers, 3)
	assert.True(t, got.OriginalPrice.Equal(decimal.NewFromInt(100)))
}

func TestCreateReferral_PairUnique(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r := ledger.Referral{ID: "r1", InviterID: "a", InviteeID: "b", CreatedAt: time.Now()}
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error { return tx.CreateReferral(ctx, r) }))

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateReferral(ctx, ledger.Referral{ID: "r2", InviterID: "a", InviteeID: "b", CreatedAt: time.Now()})
	})
	require.ErrorIs(t, err, ledger.ErrAlreadyInvited)

	// Reverse direction is a different pair.
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateReferral(ctx, ledger.Referral{ID: "r3", InviterID: "b", InviteeID: "a", CreatedAt: time.Now()})
	}))

	n, err := s.CountReferrals(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.ReferralExists(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkEventProcessed_Dedupes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.MarkEventProcessed(ctx, "evt_1")
	}))
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.MarkEventProcessed(ctx, "evt_1")
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateEvent)
}

func TestSetPoints_MissingAccount(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.SetPoints(ctx, "ghost", 10)
	})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// The mutator drives the production store the same way it drives the
// in-memory one: balance and entry land together or not at all.
func TestMutator_OverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := ledger.NewMutator(s)

	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, &ledger.Account{ID: "u1", Points: 30, CreatedAt: time.Now()})
	}))

	balance, err := m.Adjust(ctx, "u1", 20, ledger.EntryReward, "test credit")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	_, err = m.Adjust(ctx, "u1", -60, ledger.EntryConsume, "too much")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acct.Points, "failed debit must not change balance")
	entries, err := s.ListEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1, "failed debit must not append an entry")
	assert.Equal(t, int64(20), entries[0].Amount)
}
