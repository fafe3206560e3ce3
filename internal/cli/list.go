package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their status and event totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  abkit create checkout-button-color --variants \"control,red\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tVARIANTS\tTRAFFIC\tIMPRESSIONS\tCONVERSIONS\tWINNER")

		for _, exp := range experiments {
			variantStats, err := s.GetVariantStats(ctx, exp.ID)
			if err != nil {
				return fmt.Errorf("failed to get stats for experiment %s: %w", exp.ID, err)
			}

			totalImpressions := 0
			totalConversions := 0
			for _, vs := range variantStats {
				totalImpressions += vs.Impressions
				totalConversions += vs.Conversions
			}

			winner := "-"
			if exp.WinnerVariant != "" {
				winner = exp.WinnerVariant
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%s\t%s\t%s\n",
				exp.ID,
				strings.ToUpper(string(exp.Status)),
				len(exp.Variants),
				exp.TrafficAllocation,
				formatNumber(totalImpressions),
				formatNumber(totalConversions),
				winner,
			)
		}

		w.Flush()
		return nil
	})
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
