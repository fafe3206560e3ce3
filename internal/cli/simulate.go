package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/store"
)

func init() {
	rootCmd.AddCommand(newSimulateCmd())
}

func newSimulateCmd() *cobra.Command {
	var (
		file        string
		users       int
		impressions int
		rates       string
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "simulate <id>",
		Short: "Run a synthetic population through an experiment",
		Long: `Run a synthetic population of users through an experiment using a local
in-memory engine: assign variants, generate impressions and conversions at
the given per-variant rates, and report the resulting distribution and
significance.

The experiment is read from the database, or from a YAML file with --file.

Examples:
  abkit simulate checkout-button-color --users 10000
  abkit simulate checkout-button-color --users 200 --impressions 300 --rates "0.10,0.15"
  abkit simulate my-exp --file experiment.yaml --users 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			exp, err := loadSimExperiment(id, file)
			if err != nil {
				return err
			}

			variantRates, err := parseRates(rates, len(exp.Variants))
			if err != nil {
				return err
			}

			return runSimulation(exp, users, impressions, variantRates, seed)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the experiment from a YAML file instead of the database")
	cmd.Flags().IntVarP(&users, "users", "u", 10000, "number of synthetic users")
	cmd.Flags().IntVarP(&impressions, "impressions", "i", 1, "impressions per assigned user")
	cmd.Flags().StringVarP(&rates, "rates", "r", "", "per-variant conversion rates, comma-separated (default: 0.1 for all)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed for conversion draws")

	return cmd
}

func loadSimExperiment(id, file string) (*abtest.Experiment, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read experiment file: %w", err)
		}
		var exp abtest.Experiment
		if err := yaml.Unmarshal(raw, &exp); err != nil {
			return nil, fmt.Errorf("failed to parse experiment file: %w", err)
		}
		if exp.ID == "" {
			exp.ID = id
		}
		if exp.Status == "" {
			exp.Status = abtest.StatusRunning
		}
		return &exp, nil
	}

	var exp *abtest.Experiment
	err := withStore(func(s *store.SQLiteStore) error {
		var err error
		exp, err = s.GetExperiment(context.Background(), id)
		if err == store.ErrNotFound {
			return fmt.Errorf("experiment '%s' not found (use --file to simulate an unsaved one)", id)
		}
		return err
	})
	return exp, err
}

func parseRates(rates string, variants int) ([]float64, error) {
	if rates == "" {
		out := make([]float64, variants)
		for i := range out {
			out[i] = 0.1
		}
		return out, nil
	}

	parts := splitList(rates)
	if len(parts) != variants {
		return nil, fmt.Errorf("got %d rates for %d variants", len(parts), variants)
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		r, err := strconv.ParseFloat(p, 64)
		if err != nil || r < 0 || r > 1 {
			return nil, fmt.Errorf("invalid rate %q (want 0..1)", p)
		}
		out[i] = r
	}
	return out, nil
}

func runSimulation(exp *abtest.Experiment, users, impressions int, rates []float64, seed int64) error {
	if err := abtest.ValidateExperiment(exp); err != nil {
		return err
	}

	// The simulation always gets its own engine: memory stores, no remote
	// source, large significance sample floor left at the default.
	engine := abtest.New(abtest.Config{DisableRemoteConfig: true, DisableAnalytics: true}, abtest.Deps{})
	engine.Start(context.Background())
	defer engine.Close()

	sim := *exp
	sim.Status = abtest.StatusRunning
	sim.WinnerVariant = ""
	sim.Significance = 0
	if err := engine.Registry().Put(&sim); err != nil {
		return err
	}

	rateByVariant := make(map[string]float64, len(exp.Variants))
	for i, v := range exp.Variants {
		rateByVariant[v.ID] = rates[i]
	}

	rng := rand.New(rand.NewSource(seed))
	assigned := make(map[string]int)
	skipped := 0

	// Assign everyone before tracking anything, so a mid-run significance
	// completion cannot shut later users out and skew the distribution.
	type participant struct {
		uc      abtest.UserContext
		variant string
	}
	var participants []participant

	for i := 0; i < users; i++ {
		uc := abtest.UserContext{
			UserID:    uuid.NewString(),
			SessionID: uuid.NewString(),
			Device:    "desktop",
			Browser:   "chrome",
			Country:   "US",
			Language:  "en",
		}

		v := engine.GetVariant(sim.ID, uc)
		if v == nil {
			skipped++
			continue
		}
		assigned[v.ID]++
		participants = append(participants, participant{uc: uc, variant: v.ID})
	}

	for _, p := range participants {
		for n := 0; n < impressions; n++ {
			engine.TrackConversion(p.uc, sim.ID, abtest.EventImpression, 0, nil)
			if rng.Float64() < rateByVariant[p.variant] {
				engine.TrackConversion(p.uc, sim.ID, abtest.EventConversion, 0, nil)
			}
		}
	}

	fmt.Printf("Simulated %d users (%d outside allocation or targeting)\n\n", users, skipped)

	fmt.Println("VARIANT           ASSIGNED  SHARE    IMPRESSIONS  CONVERSIONS  RATE")
	totalAssigned := users - skipped
	results := engine.Results(sim.ID)
	for _, vr := range results.Variants {
		share := 0.0
		if totalAssigned > 0 {
			share = float64(assigned[vr.ID]) / float64(totalAssigned)
		}
		fmt.Printf("%-16s  %-8d  %-6.1f%%  %-11d  %-11d  %s\n",
			vr.ID, assigned[vr.ID], share*100,
			vr.Metrics.Impressions, vr.Metrics.Conversions,
			formatPercent(vr.Metrics.ConversionRate))
	}

	fmt.Println()
	if results.Winner != "" {
		fmt.Printf("Significance reached: winner %q at %.1f%% confidence\n",
			results.Winner, results.Significance)
	} else {
		fmt.Println("No significance reached in this simulation")
	}
	return nil
}
