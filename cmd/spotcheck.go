package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blitzquote/rate-engine/internal/model"
)

var (
	spotStates []string
	spotNAICs  []string
	spotDate   string
)

var spotCheckCmd = &cobra.Command{
	Use:   "spot-check",
	Short: "Compare stored rates against live quotes",
	Long:  "Samples stored rates per (state, carrier) unit and re-fetches live quotes. Units that differ need a rebuild.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		states, err := resolveStates(spotStates)
		if err != nil {
			return err
		}
		naics := spotNAICs
		if len(naics) == 0 {
			carriers, err := env.Store.Carriers(ctx, true)
			if err != nil {
				return eris.Wrap(err, "list selected carriers")
			}
			for _, c := range carriers {
				naics = append(naics, c.NAIC)
			}
		}

		asOf := model.EffectiveDates(time.Now(), 1)[0]
		if spotDate != "" {
			asOf, err = model.ParseDate(spotDate)
			if err != nil {
				return err
			}
		}

		changed := 0
		for _, state := range states {
			for _, naic := range naics {
				res, err := env.Checker.Check(ctx, state, naic, asOf)
				if err != nil {
					return err
				}
				if res.Changed {
					changed++
					cmd.Printf("CHANGED %s/%s: %s\n", state, naic, res.Reason)
				} else {
					cmd.Printf("ok      %s/%s (%d sampled)\n", state, naic, res.Sampled)
				}
			}
		}
		cmd.Printf("%d units need a rebuild\n", changed)
		return nil
	},
}

func init() {
	spotCheckCmd.Flags().StringSliceVar(&spotStates, "state", nil, "states to check (default all)")
	spotCheckCmd.Flags().StringSliceVar(&spotNAICs, "naic", nil, "carriers to check (default selected carriers)")
	spotCheckCmd.Flags().StringVar(&spotDate, "as-of", "", "as-of date YYYY-MM-DD (default next month)")
	rootCmd.AddCommand(spotCheckCmd)
}
