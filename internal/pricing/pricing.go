// Package pricing holds the model price table and the billing policy that
// turns token usage into wallet deductions.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ModelPrice is the price in dollars per million tokens for one model.
type ModelPrice struct {
	ModelID string  `mapstructure:"id" json:"model_id"`
	Input   float64 `mapstructure:"input" json:"input"`
	Output  float64 `mapstructure:"output" json:"output"`
}

// Config is the full pricing policy. It is loaded from pricing.yml and can be
// swapped at runtime.
type Config struct {
	Default              ModelPrice   `mapstructure:"default" json:"default"`
	Models               []ModelPrice `mapstructure:"models" json:"models"`
	PaidTierMultiplier   float64      `mapstructure:"paid_tier_multiplier" json:"paid_tier_multiplier"`
	LegacyTierMultiplier float64      `mapstructure:"legacy_tier_multiplier" json:"legacy_tier_multiplier"`
	TrialAllowance       int          `mapstructure:"trial_allowance" json:"trial_allowance"`
}

func DefaultConfig() Config {
	return Config{
		Default: ModelPrice{ModelID: "default", Input: 1.25, Output: 10.00},
		Models: []ModelPrice{
			{ModelID: "gemini-2.5-pro", Input: 1.25, Output: 10.00},
			{ModelID: "gemini-2.5-flash", Input: 0.30, Output: 2.50},
			{ModelID: "gemini-2.5-flash-lite", Input: 0.10, Output: 0.40},
			{ModelID: "gemini-2.0-flash", Input: 0.10, Output: 0.40},
			{ModelID: "gemini-1.5-pro", Input: 1.25, Output: 5.00},
			{ModelID: "gemini-1.5-flash", Input: 0.075, Output: 0.30},
		},
		PaidTierMultiplier:   20,
		LegacyTierMultiplier: 1,
		TrialAllowance:       2,
	}
}

func (c Config) Validate() error {
	if c.Default.Input < 0 || c.Default.Output < 0 {
		return errors.New("pricing.default prices cannot be negative")
	}
	if c.Default.Input == 0 && c.Default.Output == 0 {
		return errors.New("pricing.default must set input or output price")
	}
	seen := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		id := strings.TrimSpace(m.ModelID)
		if id == "" {
			return errors.New("pricing.models entries need an id")
		}
		if m.Input < 0 || m.Output < 0 {
			return fmt.Errorf("pricing for model %q cannot be negative", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate pricing for model %q", id)
		}
		seen[id] = struct{}{}
	}
	if c.PaidTierMultiplier <= 0 {
		return errors.New("pricing.paid_tier_multiplier must be positive")
	}
	if c.LegacyTierMultiplier <= 0 {
		return errors.New("pricing.legacy_tier_multiplier must be positive")
	}
	if c.TrialAllowance < 0 {
		return errors.New("pricing.trial_allowance cannot be negative")
	}
	return nil
}

// PriceFor returns the price of modelID. An exact match wins, then the longest
// configured id the model starts with (versioned ids such as
// "gemini-2.5-flash-001"), then the default price.
func (c Config) PriceFor(modelID string) ModelPrice {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return c.Default
	}
	if p, ok := lo.Find(c.Models, func(m ModelPrice) bool { return m.ModelID == modelID }); ok {
		return p
	}

	var best ModelPrice
	for _, m := range c.Models {
		if strings.HasPrefix(modelID, m.ModelID) && len(m.ModelID) > len(best.ModelID) {
			best = m
		}
	}
	if best.ModelID != "" {
		return best
	}
	return c.Default
}

// KnownModels lists the configured model ids.
func (c Config) KnownModels() []string {
	return lo.Map(c.Models, func(m ModelPrice, _ int) string { return m.ModelID })
}
