/*
machine.go - Campaign transactions

PURPOSE:
  The two campaign operations, each a single store transaction:

  Start:   create the campaign document at the original price with the
           computed floor.
  HelpCut: the read-check-compute-write cycle for one helper. The
           duplicate-helper check, the price write, and the helper's
           point credit all commit together - two concurrent helpers
           serialize through the store, so neither cut is lost and no
           helper appears twice.

SHAPE:
  HelpCut is split into an explicit read phase (readCampaign) and a pure
  compute phase (computeCut), so the clamp and scenario arithmetic are
  testable without a store.

SEE ALSO:
  - scenario.go: The weighted table
  - ledger/mutator.go: Apply, used for the helper credit
*/
package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartpicture/growth-engine/ledger"
)

// Machine runs campaign state transitions against the store.
type Machine struct {
	Store   ledger.Store
	Mutator *ledger.Mutator
	Table   Table
	Rand    Rand

	// HelpPoints / BonusHelpPoints are the helper credits; the bonus
	// scenario pays the larger amount.
	HelpPoints      int64
	BonusHelpPoints int64

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// NewMachine wires a Machine with the default scenario table and the
// production helper credits.
func NewMachine(store ledger.Store, rng Rand) *Machine {
	return &Machine{
		Store:           store,
		Mutator:         ledger.NewMutator(store),
		Table:           DefaultTable(),
		Rand:            rng,
		HelpPoints:      10,
		BonusHelpPoints: 30,
	}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// START
// =============================================================================

// Start creates a campaign for the creator. Non-positive amounts fall
// back to the table's default price, matching the share-link flow where
// the amount is optional.
func (m *Machine) Start(ctx context.Context, creator ledger.UserID, amount decimal.Decimal) (*ledger.Campaign, error) {
	original := amount
	if !original.IsPositive() {
		original = m.Table.DefaultPrice
	}

	c := &ledger.Campaign{
		ID:            ledger.CampaignID(uuid.NewString()),
		Creator:       creator,
		OriginalPrice: original,
		TargetPrice:   m.Table.Floor(original),
		CurrentPrice:  original,
		Helpers:       nil,
		Status:        ledger.CampaignActive,
		CreatedAt:     m.now(),
	}

	err := m.Mutator.Retry(ctx, func() error {
		return m.Store.WithTx(ctx, func(tx ledger.Tx) error {
			return tx.PutCampaign(ctx, c)
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// HELP CUT
// =============================================================================

// HelpResult reports one helper's outcome.
type HelpResult struct {
	CampaignID   ledger.CampaignID
	Scenario     Kind
	CutAmount    decimal.Decimal
	NewPrice     decimal.Decimal
	HelperPoints int64
}

// HelpCut applies one helper's cut. Fails with ErrCampaignNotFound if the
// campaign does not exist and ErrAlreadyHelped if the helper already
// participated; both checks run inside the same transaction as the write.
//
// A campaign already at its floor still accepts new distinct helpers; the
// cut clamps to zero and the helper is credited as usual.
func (m *Machine) HelpCut(ctx context.Context, id ledger.CampaignID, helper ledger.UserID) (HelpResult, error) {
	var result HelpResult
	err := m.Mutator.Retry(ctx, func() error {
		return m.Store.WithTx(ctx, func(tx ledger.Tx) error {
			c, err := m.readCampaign(ctx, tx, id, helper)
			if err != nil {
				return err
			}

			scenario := m.Table.Pick(m.Rand)
			cut, newPrice := computeCut(c, scenario, m.Rand)

			c.CurrentPrice = newPrice
			c.Helpers = append(c.Helpers, helper)
			c.LastScenario = string(scenario.Kind)
			if err := tx.PutCampaign(ctx, c); err != nil {
				return err
			}

			points := m.HelpPoints
			remark := "price-cut help reward"
			if scenario.Kind == Bonus {
				points = m.BonusHelpPoints
				remark = "price-cut bonus reward"
			}
			if _, err := ledger.Apply(ctx, tx, helper, points,
				ledger.EntryReward, remark, true, m.now()); err != nil {
				return err
			}

			result = HelpResult{
				CampaignID:   id,
				Scenario:     scenario.Kind,
				CutAmount:    cut,
				NewPrice:     newPrice,
				HelperPoints: points,
			}
			return nil
		})
	})
	if err != nil {
		return HelpResult{}, err
	}
	return result, nil
}

// readCampaign is the read phase: fetch the document and run the
// idempotency check against the state this transaction observes.
func (m *Machine) readCampaign(ctx context.Context, tx ledger.Tx, id ledger.CampaignID, helper ledger.UserID) (*ledger.Campaign, error) {
	c, err := tx.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ledger.ErrCampaignNotFound
	}
	if c.HasHelper(helper) {
		return nil, ledger.ErrAlreadyHelped
	}
	return c, nil
}

// computeCut is the pure compute phase: given the observed state and the
// drawn scenario, produce the cut and the clamped new price.
//
// The clamp is mandatory: newPrice = max(target, current - cut), so the
// floor holds for every scenario including Free.
func computeCut(c *ledger.Campaign, s Scenario, rng Rand) (cut, newPrice decimal.Decimal) {
	switch s.Kind {
	case Free:
		cut = c.CurrentPrice
	default:
		pct := drawIn(rng, s.CutPct.Min, s.CutPct.Max)
		cut = c.OriginalPrice.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Floor()
	}

	newPrice = c.CurrentPrice.Sub(cut)
	if newPrice.LessThan(c.TargetPrice) {
		newPrice = c.TargetPrice
	}
	// Report the cut actually applied, not the drawn one.
	cut = c.CurrentPrice.Sub(newPrice)
	return cut, newPrice
}
