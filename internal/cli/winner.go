package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/stats"
	"github.com/sveturs/abkit/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantID string

	cmd := &cobra.Command{
		Use:   "winner <id>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant for an experiment and complete it.

This is the manual override for when you want to conclude an experiment
before (or despite) automatic significance detection.

Example:
  abkit winner checkout-button-color --variant red`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				exp, err := s.GetExperiment(ctx, experimentID)
				if err != nil {
					return fmt.Errorf("experiment not found: %s", experimentID)
				}

				if exp.Status != abtest.StatusRunning {
					return fmt.Errorf("experiment is not running (current status: %s)", exp.Status)
				}

				if exp.Variant(variantID) == nil {
					return fmt.Errorf("unknown variant %q (experiment has: %s)", variantID, variantIDs(exp))
				}

				// Record the observed confidence at declaration time.
				variantStats, err := s.GetVariantStats(ctx, experimentID)
				if err != nil {
					return fmt.Errorf("failed to get stats: %w", err)
				}
				significance := declaredSignificance(exp, variantStats)

				if err := s.CompleteExperiment(ctx, experimentID, variantID, significance); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				fmt.Printf("Declared winner for experiment '%s': %q\n", experimentID, variantID)
				fmt.Println("Experiment has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}

func variantIDs(exp *abtest.Experiment) string {
	ids := ""
	for i, v := range exp.Variants {
		if i > 0 {
			ids += ", "
		}
		ids += v.ID
	}
	return ids
}

// declaredSignificance computes the two-variant z confidence at the moment
// of manual declaration, zero for multi-arm experiments.
func declaredSignificance(exp *abtest.Experiment, variantStats []store.VariantStats) float64 {
	if len(exp.Variants) != 2 || len(variantStats) < 2 {
		return 0
	}

	byID := make(map[string]store.VariantStats, len(variantStats))
	for _, vs := range variantStats {
		byID[vs.VariantID] = vs
	}
	a := byID[exp.Variants[0].ID]
	b := byID[exp.Variants[1].ID]

	z := stats.ZStat(a.Conversions, a.Impressions, b.Conversions, b.Impressions)
	return stats.ConfidencePercent(z)
}
