package pricing

import (
	"math"

	"questionbank_go_backend/internal/models"
)

// Source supplies the pricing policy currently in force.
type Source interface {
	Current() Config
}

// Calculator converts token usage into real cost and wallet deductions.
type Calculator struct {
	source Source
}

func NewCalculator(source Source) *Calculator {
	return &Calculator{source: source}
}

func (c *Calculator) Config() Config {
	return c.source.Current()
}

// RealCost is the dollar cost of a call to the backend:
// in/1e6*priceIn + out/1e6*priceOut, rounded to 6 decimals.
func (c *Calculator) RealCost(modelID string, inputTokens, outputTokens int) float64 {
	return round6(c.rawCost(modelID, inputTokens, outputTokens))
}

// Quote prices one request. The deduction is derived from the unrounded cost
// so the multiplier does not scale rounding error.
func (c *Calculator) Quote(modelID string, inputTokens, outputTokens int, tier models.Tier, freeTrialApplies, hasPaidBefore bool) (realCost, deduction float64) {
	raw := c.rawCost(modelID, inputTokens, outputTokens)
	return round6(raw), c.DeductionAmount(raw, tier, freeTrialApplies, hasPaidBefore)
}

func (c *Calculator) rawCost(modelID string, inputTokens, outputTokens int) float64 {
	price := c.source.Current().PriceFor(modelID)
	return float64(inputTokens)/1_000_000*price.Input + float64(outputTokens)/1_000_000*price.Output
}

// DeductionAmount is what the wallet is charged for a request.
//
//	paid before         -> 0
//	standard, trial     -> 0
//	standard, no trial  -> realCost * paid multiplier
//	legacy              -> realCost * legacy multiplier
//
// A billable request is never charged less than 0.000001.
func (c *Calculator) DeductionAmount(realCost float64, tier models.Tier, freeTrialApplies, hasPaidBefore bool) float64 {
	if hasPaidBefore {
		return 0
	}
	cfg := c.source.Current()
	if tier == models.TierLegacy {
		return roundCharge(realCost * cfg.LegacyTierMultiplier)
	}
	if freeTrialApplies {
		return 0
	}
	return roundCharge(realCost * cfg.PaidTierMultiplier)
}

// ModelLabel maps a requested model id onto the configured id it is priced
// as, or the default entry's id.
func (c *Calculator) ModelLabel(modelID string) string {
	return c.source.Current().PriceFor(modelID).ModelID
}

// FreeTrialApplies reports whether a request is covered by the trial
// allowance, given how many usage rows the user already has.
func (c *Calculator) FreeTrialApplies(profile models.Profile, usageCount int64) bool {
	if !profile.IsStandard() || !profile.OnTrial() {
		return false
	}
	return usageCount < int64(c.source.Current().TrialAllowance)
}

// TrialRemaining is the number of free analyses left to the profile.
func (c *Calculator) TrialRemaining(profile models.Profile, usageCount int64) int64 {
	if !profile.IsStandard() || !profile.OnTrial() {
		return 0
	}
	left := int64(c.source.Current().TrialAllowance) - usageCount
	if left < 0 {
		return 0
	}
	return left
}

func round6(v float64) float64 {
	return math.Round(v*1_000_000) / 1_000_000
}

const minCharge = 0.000001

func roundCharge(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Max(round6(v), minCharge)
}
