package main

import (
	"fmt"

	"questionbank_go_backend/cmd/api/config"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/pricing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newQuoteCommand prints what an analysis would cost under the current
// pricing file.
func newQuoteCommand(cfg *config.Config) *cobra.Command {
	var (
		modelID      string
		inputTokens  int
		outputTokens int
		tier         string
		freeTrial    bool
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Show the real cost and wallet deduction for a token count.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inputTokens < 0 || outputTokens < 0 {
				return fmt.Errorf("token counts cannot be negative")
			}
			t := models.Tier(tier)
			if t != models.TierStandard && t != models.TierLegacy {
				return fmt.Errorf("unknown tier %q", tier)
			}

			source, err := pricing.NewFileSource(cfg.PricingFile, log.Logger)
			if err != nil {
				return err
			}
			calc := pricing.NewCalculator(source)
			price := calc.Config().PriceFor(modelID)
			realCost, deduction := calc.Quote(modelID, inputTokens, outputTokens, t, freeTrial, false)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:      %s (priced as %s)\n", modelID, price.ModelID)
			fmt.Fprintf(out, "price:      $%.4f in / $%.4f out per 1M tokens\n", price.Input, price.Output)
			fmt.Fprintf(out, "real cost:  %.6f\n", realCost)
			fmt.Fprintf(out, "deduction:  %.6f (%s)\n", deduction, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "gemini-2.5-flash", "model id")
	cmd.Flags().IntVar(&inputTokens, "input", 0, "input tokens")
	cmd.Flags().IntVar(&outputTokens, "output", 0, "output tokens")
	cmd.Flags().StringVar(&tier, "tier", string(models.TierStandard), "subscription tier (standard or legacy)")
	cmd.Flags().BoolVar(&freeTrial, "trial", false, "treat the request as covered by the free trial")
	return cmd
}
