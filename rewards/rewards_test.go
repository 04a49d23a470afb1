package rewards_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpicture/growth-engine/ledger"
	"github.com/smartpicture/growth-engine/ledger/store"
	"github.com/smartpicture/growth-engine/rewards"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// seqRand returns queued values from Int64N, clamped to the argument.
// Lets tests pin the exact reward drawn.
type seqRand struct {
	vals []int64
	i    int
}

func (r *seqRand) Int64N(n int64) int64 {
	if r.i >= len(r.vals) {
		return 0
	}
	v := r.vals[r.i] % n
	r.i++
	return v
}

func newService(rng rewards.Rand) (*rewards.Service, *store.Memory) {
	s := store.NewMemory()
	svc := rewards.NewService(s, rng)
	svc.Mutator.Backoff = 1
	return svc, s
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegister_GrantsCreditOnce(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(1, 2)))

	balance, err := svc.Register(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	acct, _ := s.GetAccount(ctx, "u1")
	require.NotNil(t, acct)
	assert.Equal(t, ledger.LevelStarter, acct.Level)
	assert.Equal(t, ledger.RoleUser, acct.Role)

	entries, _ := s.ListEntries(ctx, "u1")
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryReward, entries[0].Type)

	// Re-registration is rejected before any write.
	_, err = svc.Register(ctx, "u1")
	require.ErrorIs(t, err, ledger.ErrAccountExists)

	acct, _ = s.GetAccount(ctx, "u1")
	assert.Equal(t, int64(100), acct.Points)
	entries, _ = s.ListEntries(ctx, "u1")
	assert.Len(t, entries, 1)
}

// =============================================================================
// REFERRAL
// =============================================================================

func TestInvite_CreditsBothSidesAtomically(t *testing.T) {
	ctx := context.Background()
	// Draws: inviter gets 80+20=100, invitee gets 120+40=160.
	svc, s := newService(&seqRand{vals: []int64{20, 40}})

	res, err := svc.Invite(ctx, "inviter", "invitee")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.InviterReward)
	assert.Equal(t, int64(160), res.InviteeReward)

	inviter, _ := s.GetAccount(ctx, "inviter")
	invitee, _ := s.GetAccount(ctx, "invitee")
	require.NotNil(t, inviter, "inviter account lazily created")
	require.NotNil(t, invitee, "invitee account lazily created")
	assert.Equal(t, int64(100), inviter.Points)
	assert.Equal(t, int64(160), invitee.Points)
	assert.Equal(t, ledger.UserID("inviter"), invitee.InvitedBy)

	n, _ := s.CountReferrals(ctx, "inviter")
	assert.Equal(t, 1, n)
}

func TestInvite_DuplicatePairRejectedWithoutEffect(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(7, 7)))

	_, err := svc.Invite(ctx, "a", "b")
	require.NoError(t, err)

	before, _ := s.GetAccount(ctx, "a")

	_, err = svc.Invite(ctx, "a", "b")
	require.ErrorIs(t, err, ledger.ErrAlreadyInvited)

	after, _ := s.GetAccount(ctx, "a")
	assert.Equal(t, before.Points, after.Points, "duplicate invite must not credit again")

	entries, _ := s.ListEntries(ctx, "a")
	assert.Len(t, entries, 1)
}

func TestInvite_RewardsStayInConfiguredRanges(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(rand.New(rand.NewPCG(42, 42)))

	for i := 0; i < 200; i++ {
		invitee := ledger.UserID(fmt.Sprintf("guest-%d", i))
		res, err := svc.Invite(ctx, "host", invitee)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.InviterReward, int64(80))
		assert.LessOrEqual(t, res.InviterReward, int64(200))
		assert.GreaterOrEqual(t, res.InviteeReward, int64(120))
		assert.LessOrEqual(t, res.InviteeReward, int64(260))
	}
}

// =============================================================================
// CONSUMPTION / GRANT / RECHARGE
// =============================================================================

func TestConsume_UsesFeatureCostTable(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(1, 1)))
	_, err := svc.Register(ctx, "u1")
	require.NoError(t, err)

	balance, err := svc.Consume(ctx, "u1", "creative_gen")
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)

	// Unknown features fall back to the default cost.
	balance, err = svc.Consume(ctx, "u1", "mystery_feature")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	entries, _ := s.ListEntries(ctx, "u1")
	assert.Equal(t, ledger.EntryConsume, entries[0].Type)
	assert.Equal(t, int64(-10), entries[0].Amount)
	assert.Equal(t, "use mystery_feature", entries[0].Remark)
}

func TestConsume_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, &ledger.Account{ID: "poor", Points: 5})
	}))

	_, err := svc.Consume(ctx, "poor", "creative_gen")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	acct, _ := s.GetAccount(ctx, "poor")
	assert.Equal(t, int64(5), acct.Points)
}

func TestRecharge_DedupesByEventID(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(1, 1)))

	balance, err := svc.Recharge(ctx, "evt_123", "u1", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	_, err = svc.Recharge(ctx, "evt_123", "u1", 500)
	require.ErrorIs(t, err, ledger.ErrDuplicateEvent)

	acct, _ := s.GetAccount(ctx, "u1")
	assert.Equal(t, int64(500), acct.Points, "replayed webhook must not double-credit")

	entries, _ := s.ListEntries(ctx, "u1")
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryRecharge, entries[0].Type)
}

// =============================================================================
// SCHEDULED JOBS
// =============================================================================

func TestDailyBonus_CreditsEveryAccount(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(1, 1)))
	for _, id := range []ledger.UserID{"a", "b", "c"} {
		_, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}

	credited, err := svc.DailyBonus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, credited)

	for _, id := range []ledger.UserID{"a", "b", "c"} {
		acct, _ := s.GetAccount(ctx, id)
		assert.Equal(t, int64(110), acct.Points)
	}
}

func TestRefreshLevels_FollowsThresholds(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(rand.New(rand.NewPCG(9, 9)))
	_, err := svc.Register(ctx, "host")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Invite(ctx, "host", ledger.UserID("guest-"+string(rune('a'+i))))
		require.NoError(t, err)
	}

	updated, err := svc.RefreshLevels(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, updated, 1)

	acct, _ := s.GetAccount(ctx, "host")
	assert.Equal(t, ledger.LevelBronze, acct.Level)
}

func TestLevelThresholds(t *testing.T) {
	lt := rewards.DefaultLevelThresholds()
	cases := []struct {
		invites int
		want    ledger.Level
	}{
		{0, ledger.LevelStarter},
		{2, ledger.LevelStarter},
		{3, ledger.LevelBronze},
		{9, ledger.LevelBronze},
		{10, ledger.LevelSilver},
		{30, ledger.LevelGold},
		{99, ledger.LevelGold},
		{100, ledger.LevelDiamond},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, lt.LevelFor(tc.invites), "invites=%d", tc.invites)
	}
}
