package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name      string
		desc      string
		variants  string
		weights   string
		traffic   int
		devices   string
		countries string
		languages string
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified id and variants.

Without --variants the command runs an interactive wizard.

Examples:
  abkit create checkout-button-color --variants "control,red"
  abkit create hero-cta --variants "control,variant-a,variant-b" --weights "50,25,25"
  abkit create mobile-nav --variants "control,drawer" --traffic 20 --devices mobile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			exp := abtest.Experiment{
				ID:                id,
				Name:              name,
				Description:       desc,
				TrafficAllocation: traffic,
				Status:            abtest.StatusRunning,
				Metrics:           []string{"conversion_rate"},
			}
			if exp.Name == "" {
				exp.Name = id
			}

			var err error
			if variants == "" {
				exp.Variants, err = promptVariants()
			} else {
				exp.Variants, err = parseVariants(variants, weights)
			}
			if err != nil {
				return err
			}

			if audience := buildAudience(devices, countries, languages); audience != nil {
				exp.TargetAudience = audience
			}

			if err := abtest.ValidateExperiment(&exp); err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				if err := s.CreateExperiment(context.Background(), &exp); err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' with %d variants:\n", exp.ID, len(exp.Variants))
				for _, v := range exp.Variants {
					fmt.Printf("  %s (weight %d)\n", v.ID, v.Weight)
				}
				fmt.Printf("  Traffic allocation: %d%%\n", exp.TrafficAllocation)
				if exp.TargetAudience != nil {
					if len(exp.TargetAudience.Devices) > 0 {
						fmt.Printf("  Devices: %s\n", strings.Join(exp.TargetAudience.Devices, ", "))
					}
					if len(exp.TargetAudience.Countries) > 0 {
						fmt.Printf("  Countries: %s\n", strings.Join(exp.TargetAudience.Countries, ", "))
					}
					if len(exp.TargetAudience.Languages) > 0 {
						fmt.Printf("  Languages: %s\n", strings.Join(exp.TargetAudience.Languages, ", "))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "human-readable experiment name")
	cmd.Flags().StringVar(&desc, "description", "", "experiment description")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant ids (first is control)")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated variant weights (default: equal)")
	cmd.Flags().IntVarP(&traffic, "traffic", "t", 100, "traffic allocation percentage (0-100)")
	cmd.Flags().StringVar(&devices, "devices", "", "restrict to devices (mobile,tablet,desktop)")
	cmd.Flags().StringVar(&countries, "countries", "", "restrict to countries (comma-separated)")
	cmd.Flags().StringVar(&languages, "languages", "", "restrict to languages (comma-separated)")

	return cmd
}

// parseVariants builds the variant list from the flag form. Weights default
// to an equal split when omitted.
func parseVariants(variants, weights string) ([]abtest.Variant, error) {
	ids := splitList(variants)
	if len(ids) < 2 {
		return nil, fmt.Errorf("need at least 2 variants. Example: --variants \"control,red\"")
	}

	var ws []int
	if weights == "" {
		ws = make([]int, len(ids))
		for i := range ws {
			ws[i] = 50
		}
	} else {
		for _, raw := range splitList(weights) {
			w, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid weight %q", raw)
			}
			ws = append(ws, w)
		}
		if len(ws) != len(ids) {
			return nil, fmt.Errorf("got %d weights for %d variants", len(ws), len(ids))
		}
	}

	out := make([]abtest.Variant, len(ids))
	for i, id := range ids {
		out[i] = abtest.Variant{ID: id, Name: id, Weight: ws[i]}
	}
	return out, nil
}

// promptVariants is the interactive path when no --variants flag is given.
func promptVariants() ([]abtest.Variant, error) {
	countPrompt := promptui.Select{
		Label: "Number of variants",
		Items: []string{"2", "3", "4"},
	}
	_, countStr, err := countPrompt.Run()
	if err != nil {
		return nil, err
	}
	count, _ := strconv.Atoi(countStr)

	variants := make([]abtest.Variant, 0, count)
	for i := 0; i < count; i++ {
		label := fmt.Sprintf("Variant %d id", i+1)
		if i == 0 {
			label += " (control)"
		}
		idPrompt := promptui.Prompt{
			Label: label,
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("variant id required")
				}
				return nil
			},
		}
		id, err := idPrompt.Run()
		if err != nil {
			return nil, err
		}

		weightPrompt := promptui.Prompt{
			Label:   fmt.Sprintf("Weight for %s", id),
			Default: "50",
			Validate: func(s string) error {
				if _, err := strconv.Atoi(s); err != nil {
					return fmt.Errorf("weight must be a number")
				}
				return nil
			},
		}
		weightStr, err := weightPrompt.Run()
		if err != nil {
			return nil, err
		}
		weight, _ := strconv.Atoi(weightStr)

		variants = append(variants, abtest.Variant{
			ID:     strings.TrimSpace(id),
			Name:   strings.TrimSpace(id),
			Weight: weight,
		})
	}
	return variants, nil
}

func buildAudience(devices, countries, languages string) *abtest.TargetAudience {
	audience := &abtest.TargetAudience{
		Devices:   splitList(devices),
		Countries: splitList(countries),
		Languages: splitList(languages),
	}
	if len(audience.Devices) == 0 && len(audience.Countries) == 0 && len(audience.Languages) == 0 {
		return nil
	}
	return audience
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
