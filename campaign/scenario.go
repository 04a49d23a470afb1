/*
Package campaign implements the price-cut ("help a friend slash the
price") state machine.

PURPOSE:
  A creator starts a campaign at an original price with a floor price.
  Each distinct helper applies one weighted-random cut; the price only
  ever moves down and never below the floor. Helpers earn points for
  participating, credited in the same transaction as the cut.

THIS FILE (scenario.go):
  The scenario table and the weighted selection function. Selection is
  a total function: weights are summed, a uniform draw in [0, total) is
  walked through the table in declaration order, and the first category
  whose weight covers the remainder wins. An empty or zero-weight table
  degenerates to the first entry, never to "no selection".

SEE ALSO:
  - machine.go: Start / HelpCut transactions
*/
package campaign

import "github.com/shopspring/decimal"

// Rand is the randomness scenario selection depends on. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

// =============================================================================
// SCENARIO TABLE
// =============================================================================

// Kind tags the cut category applied by one helper.
type Kind string

const (
	SmallCut Kind = "smallCut" // routine cut, a few percent
	BigCut   Kind = "bigCut"   // aggressive cut
	Free     Kind = "free"     // cuts the entire remaining price (floor-clamped)
	Bonus    Kind = "bonus"    // modest cut, extra points for the helper
)

// PctRange is an inclusive percentage interval of the original price.
type PctRange struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// Scenario is one enumerated variant of the weighted table.
type Scenario struct {
	Kind   Kind     `yaml:"kind"`
	Weight int64    `yaml:"weight"`
	CutPct PctRange `yaml:"cut_pct"` // unused for Free, which takes the remainder
}

// Table is the campaign policy: the scenario weights and the floor rule.
// The config package owns the YAML shape and converts into this.
type Table struct {
	Scenarios []Scenario

	// FloorRatio is the fraction of the original price the target floor
	// is computed from; MinFloor is the absolute minimum floor.
	FloorRatio decimal.Decimal
	MinFloor   decimal.Decimal

	// DefaultPrice is used when a creator starts a campaign without a
	// positive amount.
	DefaultPrice decimal.Decimal
}

// DefaultTable returns the production scenario weights.
func DefaultTable() Table {
	return Table{
		Scenarios: []Scenario{
			{Kind: SmallCut, Weight: 60, CutPct: PctRange{Min: 2, Max: 6}},
			{Kind: BigCut, Weight: 25, CutPct: PctRange{Min: 8, Max: 15}},
			{Kind: Free, Weight: 5},
			{Kind: Bonus, Weight: 10, CutPct: PctRange{Min: 4, Max: 9}},
		},
		FloorRatio:   decimal.NewFromFloat(0.15),
		MinFloor:     decimal.NewFromInt(5),
		DefaultPrice: decimal.NewFromInt(100),
	}
}

// Pick selects a scenario by weighted random choice. Total function:
// non-positive weights contribute nothing, and when nothing remains to
// select (all weights zero) the first scenario wins.
func (t Table) Pick(rng Rand) Scenario {
	var total int64
	for _, s := range t.Scenarios {
		if s.Weight > 0 {
			total += s.Weight
		}
	}
	if total <= 0 {
		return t.Scenarios[0]
	}

	r := rng.Int64N(total)
	for _, s := range t.Scenarios {
		if s.Weight <= 0 {
			continue
		}
		if r < s.Weight {
			return s
		}
		r -= s.Weight
	}
	return t.Scenarios[0]
}

// Floor computes the target price for an original price:
// max(MinFloor, original * FloorRatio), truncated to whole units. The
// result never exceeds the original itself, so a campaign started below
// the absolute minimum keeps targetPrice <= currentPrice and its price
// can never move up.
func (t Table) Floor(original decimal.Decimal) decimal.Decimal {
	floor := original.Mul(t.FloorRatio).Floor()
	if floor.LessThan(t.MinFloor) {
		floor = t.MinFloor
	}
	if floor.GreaterThan(original) {
		return original
	}
	return floor
}

// drawIn returns a uniform value in [min, max], inclusive.
func drawIn(rng Rand, min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + rng.Int64N(max-min+1)
}
