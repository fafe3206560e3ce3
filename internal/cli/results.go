package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/stats"
	"github.com/sveturs/abkit/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show detailed results including conversion rates and confidence intervals.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("experiment '%s' not found", id)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		variantStats, err := s.GetVariantStats(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		data := make([]stats.VariantData, len(exp.Variants))
		byID := make(map[string]store.VariantStats, len(variantStats))
		for _, vs := range variantStats {
			byID[vs.VariantID] = vs
		}
		for i, v := range exp.Variants {
			vs := byID[v.ID]
			data[i] = stats.VariantData{
				ID:          v.ID,
				Name:        v.Name,
				Views:       vs.Impressions,
				Conversions: vs.Conversions,
			}
		}

		result := stats.Analyze(data)

		fmt.Printf("EXPERIMENT: %s\n", exp.ID)
		fmt.Printf("STATUS: %s\n", exp.Status)
		if exp.Description != "" {
			fmt.Printf("DESCRIPTION: %s\n", exp.Description)
		}
		if exp.WinnerVariant != "" {
			fmt.Printf("WINNER: %s (%.1f%% confidence)\n", exp.WinnerVariant, exp.Significance)
		}
		fmt.Println()

		fmt.Println("VARIANT           IMPRESSIONS  CONVERSIONS  RATE     95% CI")
		fmt.Println(strings.Repeat("─", 64))

		for _, v := range result.Variants {
			indicator := ""
			if v.Index == result.LeadingVariant && len(result.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Views == 0 {
				ciStr = "N/A"
			}

			// Truncate name if too long
			name := v.ID
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Printf("%-16s  %-11d  %-11d  %-7s  %s%s\n",
				name,
				v.Views,
				v.Conversions,
				formatPercent(v.Rate),
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		if len(result.Variants) > 1 {
			leadingID := result.Variants[result.LeadingVariant].ID
			confPct := result.ConfidenceLevel * 100

			if result.Confident {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, leadingID)
			} else if confPct >= 90 {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" beats control (not yet significant)\n", confPct, leadingID)
			} else {
				fmt.Println("Statistical significance: Not enough data to determine a winner")
			}
		}

		return nil
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
