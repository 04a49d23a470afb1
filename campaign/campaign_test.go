package campaign_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpicture/growth-engine/campaign"
	"github.com/smartpicture/growth-engine/ledger"
	"github.com/smartpicture/growth-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// seqRand returns queued values from Int64N, clamped to the argument.
// Scenario picks draw once; percentage cuts draw once more.
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

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newMachine(rng campaign.Rand) (*campaign.Machine, *store.Memory) {
	s := store.NewMemory()
	m := campaign.NewMachine(s, rng)
	m.Mutator.Backoff = 1
	return m, s
}

// =============================================================================
// WEIGHTED SELECTION
// =============================================================================

func TestPick_WalksWeightsInOrder(t *testing.T) {
	// Weights 60/25/5/10 partition [0,100):
	// [0,60) smallCut, [60,85) bigCut, [85,90) free, [90,100) bonus.
	table := campaign.DefaultTable()
	cases := []struct {
		draw int64
		want campaign.Kind
	}{
		{0, campaign.SmallCut},
		{59, campaign.SmallCut},
		{60, campaign.BigCut},
		{84, campaign.BigCut},
		{85, campaign.Free},
		{89, campaign.Free},
		{90, campaign.Bonus},
		{99, campaign.Bonus},
	}
	for _, tc := range cases {
		got := table.Pick(&seqRand{vals: []int64{tc.draw}})
		assert.Equal(t, tc.want, got.Kind, "draw=%d", tc.draw)
	}
}

func TestPick_TotalFunction(t *testing.T) {
	// Zero and negative weights never select and never panic; an
	// all-zero table falls back to the first scenario.
	table := campaign.Table{
		Scenarios: []campaign.Scenario{
			{Kind: campaign.SmallCut, Weight: 0},
			{Kind: campaign.BigCut, Weight: 0},
		},
	}
	got := table.Pick(rand.New(rand.NewPCG(1, 1)))
	assert.Equal(t, campaign.SmallCut, got.Kind)

	table.Scenarios[1].Weight = 7
	for i := 0; i < 50; i++ {
		assert.Equal(t, campaign.BigCut, table.Pick(rand.New(rand.NewPCG(uint64(i), 0))).Kind)
	}
}

func TestFloor_FifteenPercentWithMinimum(t *testing.T) {
	table := campaign.DefaultTable()
	assert.True(t, table.Floor(dec(100)).Equal(dec(15)))
	assert.True(t, table.Floor(dec(200)).Equal(dec(30)))
	// 15% of 20 is 3; the absolute minimum floor of 5 wins.
	assert.True(t, table.Floor(dec(20)).Equal(dec(5)))
	// An original below the absolute minimum caps the floor at itself:
	// the target can never exceed the price being cut.
	assert.True(t, table.Floor(dec(3)).Equal(dec(3)))
	assert.True(t, table.Floor(dec(5)).Equal(dec(5)))
}

// =============================================================================
// START
// =============================================================================

func TestStart_CreatesActiveCampaign(t *testing.T) {
	ctx := context.Background()
	m, s := newMachine(rand.New(rand.NewPCG(1, 1)))

	c, err := m.Start(ctx, "creator", dec(100))
	require.NoError(t, err)
	assert.True(t, c.OriginalPrice.Equal(dec(100)))
	assert.True(t, c.TargetPrice.Equal(dec(15)))
	assert.True(t, c.CurrentPrice.Equal(dec(100)))
	assert.Equal(t, ledger.CampaignActive, c.Status)
	assert.Empty(t, c.Helpers)

	stored, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.CurrentPrice.Equal(dec(100)))
}

func TestStart_DefaultsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(rand.New(rand.NewPCG(1, 1)))

	c, err := m.Start(ctx, "creator", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, c.OriginalPrice.Equal(dec(100)))
	assert.True(t, c.TargetPrice.Equal(dec(15)))
}

func TestStart_AmountBelowMinimumFloor(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(rand.New(rand.NewPCG(7, 7)))

	c, err := m.Start(ctx, "creator", dec(3))
	require.NoError(t, err)
	assert.True(t, c.TargetPrice.Equal(dec(3)), "target caps at the original price")
	assert.True(t, c.TargetPrice.LessThanOrEqual(c.CurrentPrice))
	assert.True(t, c.AtFloor())

	// Every help on such a campaign clamps to a zero cut; the price
	// never moves, in particular never upward.
	for _, helper := range []ledger.UserID{"helper-a", "helper-b"} {
		res, err := m.HelpCut(ctx, c.ID, helper)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec(3)), "price stays at %s, got %s", dec(3), res.NewPrice)
		assert.True(t, res.CutAmount.Equal(dec(0)))
	}
}

// =============================================================================
// HELP CUT
// =============================================================================

func TestHelpCut_ExampleRun(t *testing.T) {
	// Campaign at 100 with floor 15. Helper A draws bigCut at 10% -> 90.
	// Helper B draws free -> clamped to the floor, 15. Helper C still
	// succeeds with a zero-change cut.
	ctx := context.Background()
	rng := &seqRand{vals: []int64{
		60, 2, // A: bigCut, 8+2=10%
		85,   // B: free
		0, 0, // C: smallCut, 2% (clamps to 0)
	}}
	m, s := newMachine(rng)

	c, err := m.Start(ctx, "creator", dec(100))
	require.NoError(t, err)

	a, err := m.HelpCut(ctx, c.ID, "helper-a")
	require.NoError(t, err)
	assert.Equal(t, campaign.BigCut, a.Scenario)
	assert.True(t, a.CutAmount.Equal(dec(10)))
	assert.True(t, a.NewPrice.Equal(dec(90)))

	b, err := m.HelpCut(ctx, c.ID, "helper-b")
	require.NoError(t, err)
	assert.Equal(t, campaign.Free, b.Scenario)
	assert.True(t, b.NewPrice.Equal(dec(15)), "free scenario clamps to the floor")
	assert.True(t, b.CutAmount.Equal(dec(75)))

	cc, err := m.HelpCut(ctx, c.ID, "helper-c")
	require.NoError(t, err)
	assert.True(t, cc.NewPrice.Equal(dec(15)))
	assert.True(t, cc.CutAmount.Equal(dec(0)), "cut clamps to zero at the floor")

	stored, _ := s.GetCampaign(ctx, c.ID)
	assert.Len(t, stored.Helpers, 3)
	assert.True(t, stored.AtFloor())
}

func TestHelpCut_CreditsHelperInSameTransaction(t *testing.T) {
	ctx := context.Background()
	m, s := newMachine(&seqRand{vals: []int64{0, 0, 90, 0}})

	c, err := m.Start(ctx, "creator", dec(100))
	require.NoError(t, err)

	small, err := m.HelpCut(ctx, c.ID, "helper-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), small.HelperPoints)

	bonus, err := m.HelpCut(ctx, c.ID, "helper-b")
	require.NoError(t, err)
	assert.Equal(t, campaign.Bonus, bonus.Scenario)
	assert.Equal(t, int64(30), bonus.HelperPoints)

	acct, _ := s.GetAccount(ctx, "helper-b")
	require.NotNil(t, acct, "helper account lazily created")
	assert.Equal(t, int64(30), acct.Points)

	entries, _ := s.ListEntries(ctx, "helper-b")
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryReward, entries[0].Type)
	assert.Equal(t, "price-cut bonus reward", entries[0].Remark)
}

func TestHelpCut_SecondAttemptBySameHelperRejected(t *testing.T) {
	ctx := context.Background()
	m, s := newMachine(rand.New(rand.NewPCG(3, 3)))

	c, err := m.Start(ctx, "creator", dec(100))
	require.NoError(t, err)

	first, err := m.HelpCut(ctx, c.ID, "helper")
	require.NoError(t, err)

	_, err = m.HelpCut(ctx, c.ID, "helper")
	require.ErrorIs(t, err, ledger.ErrAlreadyHelped)

	stored, _ := s.GetCampaign(ctx, c.ID)
	assert.Len(t, stored.Helpers, 1, "duplicate help must not apply a second cut")
	assert.True(t, stored.CurrentPrice.Equal(first.NewPrice))

	acct, _ := s.GetAccount(ctx, "helper")
	assert.Equal(t, first.HelperPoints, acct.Points, "duplicate help must not credit again")
}

func TestHelpCut_UnknownCampaign(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(rand.New(rand.NewPCG(1, 1)))

	_, err := m.HelpCut(ctx, "missing", "helper")
	require.ErrorIs(t, err, ledger.ErrCampaignNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestHelpCut_FloorHoldsForAnySequence(t *testing.T) {
	ctx := context.Background()
	m, s := newMachine(rand.New(rand.NewPCG(11, 13)))

	c, err := m.Start(ctx, "creator", dec(100))
	require.NoError(t, err)

	prev := c.CurrentPrice
	for i := 0; i < 40; i++ {
		helper := ledger.UserID(string(rune('a'+i%26)) + string(rune('a'+i/26)))
		res, err := m.HelpCut(ctx, c.ID, helper)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.GreaterThanOrEqual(c.TargetPrice),
			"price %s below floor %s", res.NewPrice, c.TargetPrice)
		assert.True(t, res.NewPrice.LessThanOrEqual(prev), "price must be monotonically non-increasing")
		prev = res.NewPrice
	}

	stored, _ := s.GetCampaign(ctx, c.ID)
	assert.Len(t, stored.Helpers, 40)
}

func TestHelpCut_ConcurrentHelpersBothApply(t *testing.T) {
	ctx := context.Background()
	m, s := newMachine(rand.New(rand.NewPCG(5, 5)))

	c, err := m.Start(ctx, "creator", dec(1000))
	require.NoError(t, err)

	results := make([]campaign.HelpResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, helper := range []ledger.UserID{"helper-a", "helper-b"} {
		wg.Add(1)
		go func(i int, helper ledger.UserID) {
			defer wg.Done()
			results[i], errs[i] = m.HelpCut(ctx, c.ID, helper)
		}(i, helper)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, _ := s.GetCampaign(ctx, c.ID)
	assert.Len(t, stored.Helpers, 2, "both helpers recorded")
	assert.True(t, stored.HasHelper("helper-a"))
	assert.True(t, stored.HasHelper("helper-b"))

	// The cuts serialized: the final price is the original minus both
	// applied cuts - never a lost update.
	applied := results[0].CutAmount.Add(results[1].CutAmount)
	assert.True(t, stored.CurrentPrice.Equal(c.OriginalPrice.Sub(applied)),
		"final price %s, original %s, cuts %s", stored.CurrentPrice, c.OriginalPrice, applied)
}
