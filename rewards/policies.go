/*
Package rewards provides the reward policy tables and the growth service
built on top of the points ledger.

PURPOSE:
  Policies answer "how much?" for each event type; the Service applies
  them through the ledger's atomic mutation primitive. Handlers never do
  balance math - they validate, authorize, and delegate here.

EVENT TYPES:
  Registration: fixed credit, granted exactly once per account
  Referral:     both sides credited from bounded random ranges,
                recorded at most once per (inviter, invitee) pair
  Consumption:  per-feature debit, fails on insufficient balance
  Grant:        admin-specified credit
  Recharge:     payment-webhook credit, deduped by event id
  Daily bonus:  scheduled flat credit to every account

RANDOMNESS:
  Reward draws take an injected Rand source so tests pin the outcome.
  Ranges are inclusive on both ends.

SEE ALSO:
  - service.go: Applies these policies transactionally
  - campaign: The price-cut scenario table (separate policy domain)
*/
package rewards

import (
	"github.com/smartpicture/growth-engine/ledger"
)

// =============================================================================
// RANDOM SOURCE
// =============================================================================

// Rand is the randomness the reward draws depend on. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

// drawIn returns a uniform value in [min, max], inclusive.
func drawIn(rng Rand, min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + rng.Int64N(max-min+1)
}

// =============================================================================
// POLICY TABLE
// =============================================================================

// Range is an inclusive reward interval.
type Range struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// Policy holds every reward constant in one externally-configurable table.
type Policy struct {
	// RegistrationCredit is granted once when the account is created.
	RegistrationCredit int64 `yaml:"registration_credit"`

	// InviterReward / InviteeReward are drawn per referral.
	InviterReward Range `yaml:"inviter_reward"`
	InviteeReward Range `yaml:"invitee_reward"`

	// HelpPoints is the campaign helper's credit; BonusHelpPoints applies
	// when the helper draws the bonus scenario.
	HelpPoints      int64 `yaml:"help_points"`
	BonusHelpPoints int64 `yaml:"bonus_help_points"`

	// DailyBonus is credited to every account by the scheduled job.
	DailyBonus int64 `yaml:"daily_bonus"`

	// FeatureCosts maps feature names to consumption costs.
	// DefaultFeatureCost applies to features not listed.
	FeatureCosts       map[string]int64 `yaml:"feature_costs"`
	DefaultFeatureCost int64            `yaml:"default_feature_cost"`
}

// DefaultPolicy returns the production reward table.
func DefaultPolicy() Policy {
	return Policy{
		RegistrationCredit: 100,
		InviterReward:      Range{Min: 80, Max: 200},
		InviteeReward:      Range{Min: 120, Max: 260},
		HelpPoints:         10,
		BonusHelpPoints:    30,
		DailyBonus:         10,
		FeatureCosts: map[string]int64{
			"smart_capture":  10,
			"creative_gen":   20,
			"insight_report": 30,
		},
		DefaultFeatureCost: 10,
	}
}

// DrawInviterReward returns the inviter's credit for one referral.
func (p Policy) DrawInviterReward(rng Rand) int64 {
	return drawIn(rng, p.InviterReward.Min, p.InviterReward.Max)
}

// DrawInviteeReward returns the invitee's credit for one referral.
func (p Policy) DrawInviteeReward(rng Rand) int64 {
	return drawIn(rng, p.InviteeReward.Min, p.InviteeReward.Max)
}

// CostOf returns the consumption cost of a feature.
func (p Policy) CostOf(feature string) int64 {
	if c, ok := p.FeatureCosts[feature]; ok {
		return c
	}
	return p.DefaultFeatureCost
}

// =============================================================================
// LEVELS - Derived from referral count
// =============================================================================

// LevelThresholds maps minimum invite counts to levels, checked highest
// first. Configurable, but the defaults match the marketing tiers.
type LevelThresholds struct {
	Bronze  int `yaml:"bronze"`
	Silver  int `yaml:"silver"`
	Gold    int `yaml:"gold"`
	Diamond int `yaml:"diamond"`
}

func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{Bronze: 3, Silver: 10, Gold: 30, Diamond: 100}
}

// LevelFor returns the level earned by the given invite count.
func (lt LevelThresholds) LevelFor(invites int) ledger.Level {
	switch {
	case invites >= lt.Diamond:
		return ledger.LevelDiamond
	case invites >= lt.Gold:
		return ledger.LevelGold
	case invites >= lt.Silver:
		return ledger.LevelSilver
	case invites >= lt.Bronze:
		return ledger.LevelBronze
	default:
		return ledger.LevelStarter
	}
}
