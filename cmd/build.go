package main

import (
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/pipeline"
)

var allStates = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
	"HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD",
	"MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "NJ",
	"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC",
	"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY", "DC",
}

var (
	buildStates    []string
	buildNAICs     []string
	buildDate      string
	buildForce     bool
	buildSpotCheck bool
	buildDryRun    bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the rate cache for states and carriers",
	Long:  "Discovers rating regions and prices the demographic grid for each (state, carrier) unit, writing rates into the temporal cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		states, err := resolveStates(buildStates)
		if err != nil {
			return err
		}
		naics := buildNAICs
		if len(naics) == 0 {
			carriers, err := env.Store.Carriers(ctx, true)
			if err != nil {
				return eris.Wrap(err, "list selected carriers")
			}
			for _, c := range carriers {
				naics = append(naics, c.NAIC)
			}
		}
		if len(naics) == 0 {
			return eris.New("no carriers selected, import a selection sheet or pass --naic")
		}

		dates, err := resolveDates(buildDate)
		if err != nil {
			return err
		}

		if buildDryRun {
			for _, date := range dates {
				cmd.Printf("%s: %d units (%d states x %d carriers)\n",
					model.FormatDate(date), len(states)*len(naics), len(states), len(naics))
			}
			return nil
		}

		builder := newBuilder(env, buildForce, buildSpotCheck)
		for _, date := range dates {
			zap.L().Info("building effective date",
				zap.String("date", model.FormatDate(date)),
				zap.Int("states", len(states)),
				zap.Int("carriers", len(naics)),
			)
			summary, err := builder.Run(ctx, pipeline.Request{
				States:        states,
				NAICs:         naics,
				EffectiveDate: date,
			})
			if err != nil {
				return err
			}
			printSummary(cmd, date, summary)
		}
		return nil
	},
}

func resolveStates(flags []string) ([]string, error) {
	if len(flags) == 0 || (len(flags) == 1 && strings.EqualFold(flags[0], "all")) {
		return allStates, nil
	}
	valid := make(map[string]bool, len(allStates))
	for _, s := range allStates {
		valid[s] = true
	}
	states := make([]string, 0, len(flags))
	for _, s := range flags {
		s = strings.ToUpper(strings.TrimSpace(s))
		if !valid[s] {
			return nil, eris.Errorf("invalid state code %q", s)
		}
		states = append(states, s)
	}
	return states, nil
}

func resolveDates(flag string) ([]time.Time, error) {
	if flag != "" {
		d, err := model.ParseDate(flag)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid effective date %q", flag)
		}
		return []time.Time{d}, nil
	}
	return model.EffectiveDates(time.Now(), cfg.Build.EffectiveDates), nil
}

func printSummary(cmd *cobra.Command, date time.Time, s *pipeline.Summary) {
	cmd.Printf("%s: %d units, %d saved, %d copied forward, %d already processed, %d skipped, %d no offering, %d failed\n",
		model.FormatDate(date), len(s.Units),
		s.Count(pipeline.UnitSaved),
		s.Count(pipeline.UnitCopiedForward),
		s.Count(pipeline.UnitAlreadyProcessed),
		s.Count(pipeline.UnitSkipped),
		s.Count(pipeline.UnitNoOffering),
		s.Count(pipeline.UnitFailed),
	)
	for _, u := range s.Units {
		if u.Status == pipeline.UnitFailed {
			cmd.Printf("  FAILED %s/%s: %v\n", u.State, u.NAIC, u.Err)
		}
	}
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildStates, "state", nil, "states to build (default all)")
	buildCmd.Flags().StringSliceVar(&buildNAICs, "naic", nil, "carriers to build (default selected carriers)")
	buildCmd.Flags().StringVar(&buildDate, "effective-date", "", "effective date YYYY-MM-DD (default upcoming months)")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild units even when already processed")
	buildCmd.Flags().BoolVar(&buildSpotCheck, "spot-check", false, "re-verify processed units against live quotes")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "resolve the build plan without fetching or writing")
	rootCmd.AddCommand(buildCmd)
}
